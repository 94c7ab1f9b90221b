package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanbeam/lanbeam/internal/app"
	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/utils"
	"github.com/lanbeam/lanbeam/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "lanbeam",
	Short:   "LanBeam - LAN file transfer, clipboard and folder sync",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		setupLogging(cmd == cmd.Root())
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}

		// all good now, show header
		cmd.SilenceUsage = true
		showHeader()

		a, err := app.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return a.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("name", "n", "", "Device name announced on the network")
	rootCmd.Flags().StringP("dir", "d", config.DefaultDownloadDir, "Download root directory")
	rootCmd.Flags().IntP("port", "p", config.DefaultTransferPort, "Transfer port")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "LanBeam config file")

	rootCmd.AddCommand(devicesCmd, sendCmd, clipCmd, jobsCmd, versionCmd)
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	// .env overrides nothing, it only fills gaps in the environment
	_ = godotenv.Load()

	if cmd.Flags().Changed("config") {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".lanbeam"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	if f := cmd.Flags().Lookup("name"); f != nil {
		_ = viper.BindPFlag("device_name", f)
	}
	if f := cmd.Flags().Lookup("dir"); f != nil {
		_ = viper.BindPFlag("download_dir", f)
	}
	if f := cmd.Flags().Lookup("port"); f != nil {
		_ = viper.BindPFlag("transfer_port", f)
	}

	// bools have no zero-is-unset escape hatch, defaults live here
	viper.SetDefault("auto_accept", true)

	viper.SetEnvPrefix("LANBEAM")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() *config.Config {
	return &config.Config{
		Path:               viper.ConfigFileUsed(),
		DeviceName:         viper.GetString("device_name"),
		DeviceID:           viper.GetString("device_id"),
		DownloadDir:        viper.GetString("download_dir"),
		DiscoveryPort:      viper.GetInt("discovery_port"),
		TransferPort:       viper.GetInt("transfer_port"),
		MulticastGroup:     viper.GetString("multicast_group"),
		MaxUploadRateKBps:  viper.GetInt("max_upload_rate_kbps"),
		AutoAccept:         viper.GetBool("auto_accept"),
		OverwriteExisting:  viper.GetBool("overwrite_existing"),
		SyncIgnorePatterns: viper.GetStringSlice("sync_ignore_patterns"),
	}
}

// setupLogging installs the slog default. The daemon logs everything to
// stdout and a file; one-shot commands only surface warnings so their
// output stays clean.
func setupLogging(daemon bool) {
	if !daemon {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:   slog.LevelWarn,
			NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
		})))
		return
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	handlers := []slog.Handler{stdoutHandler}
	if file, err := openLogFile(config.DefaultLogFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, logging to stdout only: %v\n", err)
	} else {
		logInterceptor := utils.NewLogInterceptor(file)
		handlers = append(handlers, slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
			Level: slog.LevelDebug,
			// Do not include time as it is added by the log interceptor.
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(version.ShortWithApp())
}
