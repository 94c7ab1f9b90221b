package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	grayStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

// newTable builds a static table tall enough to show every row.
func newTable(columns []table.Column, rows []table.Row) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("14"))
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	return t
}

// localDaemonURL is the control address of the daemon on this machine.
func localDaemonURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
