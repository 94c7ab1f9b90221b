package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/lanbeam/lanbeam/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".lanbeam", "config.json")
	DefaultLogFilePath = filepath.Join(home, ".lanbeam", "logs", "lanbeam.log")
	DefaultDownloadDir = filepath.Join(home, "LanBeam")
)

const (
	DefaultDiscoveryPort  = 38899
	DefaultTransferPort   = 38900
	DefaultMulticastGroup = "239.255.77.88"
)

type Config struct {
	DeviceName         string   `json:"device_name"`
	DeviceID           string   `json:"device_id,omitempty"`
	DownloadDir        string   `json:"download_dir"`
	DiscoveryPort      int      `json:"discovery_port"`
	TransferPort       int      `json:"transfer_port"`
	MulticastGroup     string   `json:"multicast_group"`
	MaxUploadRateKBps  int      `json:"max_upload_rate_kbps"`
	AutoAccept         bool     `json:"auto_accept"`
	OverwriteExisting  bool     `json:"overwrite_existing"`
	SyncIgnorePatterns []string `json:"sync_ignore_patterns,omitempty"`
	Path               string   `json:"-"`
}

// Default returns a config with every field set to its out-of-the-box value.
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "lanbeam-device"
	}
	return &Config{
		DeviceName:     hostname,
		DownloadDir:    DefaultDownloadDir,
		DiscoveryPort:  DefaultDiscoveryPort,
		TransferPort:   DefaultTransferPort,
		MulticastGroup: DefaultMulticastGroup,
		AutoAccept:     true,
		Path:           DefaultConfigPath,
	}
}

// Validate fills zero fields with defaults and rejects values that cannot work.
func (c *Config) Validate() error {
	def := Default()

	if c.DeviceName == "" {
		c.DeviceName = def.DeviceName
	}
	if c.DownloadDir == "" {
		c.DownloadDir = def.DownloadDir
	}
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = def.DiscoveryPort
	}
	if c.TransferPort == 0 {
		c.TransferPort = def.TransferPort
	}
	if c.MulticastGroup == "" {
		c.MulticastGroup = def.MulticastGroup
	}

	if c.DiscoveryPort < 1 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port %d", c.DiscoveryPort)
	}
	if c.TransferPort < 1 || c.TransferPort > 65535 {
		return fmt.Errorf("invalid transfer port %d", c.TransferPort)
	}
	if c.DiscoveryPort == c.TransferPort {
		return fmt.Errorf("discovery and transfer ports must differ, got %d", c.DiscoveryPort)
	}

	group := net.ParseIP(c.MulticastGroup)
	if group == nil || !group.IsMulticast() {
		return fmt.Errorf("invalid multicast group %q", c.MulticastGroup)
	}

	if c.MaxUploadRateKBps < 0 {
		return fmt.Errorf("invalid upload rate limit %d", c.MaxUploadRateKBps)
	}

	dir, err := utils.ResolvePath(c.DownloadDir)
	if err != nil {
		return fmt.Errorf("invalid download dir %q: %w", c.DownloadDir, err)
	}
	c.DownloadDir = dir

	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
