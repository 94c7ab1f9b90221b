package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/db"
	"github.com/lanbeam/lanbeam/internal/syncengine"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured folder sync jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper()
		if err := cfg.Validate(); err != nil {
			return err
		}
		cmd.SilenceUsage = true

		ws, err := workspace.NewWorkspace(cfg.DownloadDir)
		if err != nil {
			return err
		}

		// WAL mode lets us read alongside a running daemon, but an absent
		// database just means no job was ever created.
		dbPath := ws.DatabasePath()
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			fmt.Println("no sync jobs yet")
			return nil
		}

		store, closeDb, err := openJobStore(dbPath)
		if err != nil {
			return err
		}
		defer closeDb()

		jobs, err := store.List()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no sync jobs yet")
			return nil
		}

		rows := make([]table.Row, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, table.Row{
				j.Name,
				j.TargetName,
				j.SourceDir,
				scheduleCell(j.Schedule),
				string(j.Phase),
				lastRunCell(j),
			})
		}
		fmt.Println(newTable(jobColumns, rows).View())
		return nil
	},
}

var jobColumns = []table.Column{
	{Title: "Name", Width: 16},
	{Title: "Target", Width: 16},
	{Title: "Source", Width: 28},
	{Title: "Schedule", Width: 20},
	{Title: "Phase", Width: 10},
	{Title: "Last Run", Width: 14},
}

func openJobStore(dbPath string) (*syncengine.Store, func(), error) {
	sdb, err := db.NewSqliteDb(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	store, err := syncengine.NewStore(sdb)
	if err != nil {
		sdb.Close()
		return nil, nil, err
	}
	return store, func() { sdb.Close() }, nil
}

func scheduleCell(s *syncengine.Schedule) string {
	if s == nil {
		return "manual"
	}
	return s.String()
}

func lastRunCell(j syncengine.Job) string {
	if j.LastRunAt.IsZero() {
		return "never"
	}
	return humanize.Time(j.LastRunAt)
}
