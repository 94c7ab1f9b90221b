package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lanbeam/lanbeam/internal/peerapi"
)

const watchRefreshEvery = 2 * time.Second

type devicesMsg struct {
	res *peerapi.DevicesResponse
}

type devicesErrMsg struct {
	err error
}

type watchTickMsg struct{}

// watchModel keeps the device table on screen and re-polls the daemon on
// a timer. Poll results arrive as messages; the view is rebuilt from the
// latest one.
type watchModel struct {
	client    *peerapi.Client
	daemonURL string

	tableView string
	footer    string
	err       error
	updated   time.Time
}

func (m watchModel) Init() tea.Cmd {
	return m.poll()
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchRefreshEvery)
		defer cancel()

		res, err := m.client.Devices(ctx, m.daemonURL)
		if err != nil {
			return devicesErrMsg{err: err}
		}
		return devicesMsg{res: res}
	}
}

func watchTick() tea.Cmd {
	return tea.Tick(watchRefreshEvery, func(time.Time) tea.Msg {
		return watchTickMsg{}
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case watchTickMsg:
		return m, m.poll()

	case devicesMsg:
		m.err = nil
		m.updated = time.Now()
		m.tableView = deviceTable(msg.res).View()
		m.footer = selfLine(msg.res)
		return m, watchTick()

	case devicesErrMsg:
		m.err = msg.err
		m.updated = time.Now()
		return m, watchTick()
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("LanBeam devices"))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(redStyle.Render("daemon unreachable: " + m.err.Error()))
	case m.tableView == "":
		b.WriteString(grayStyle.Render("loading..."))
	default:
		b.WriteString(m.tableView)
		b.WriteString("\n")
		b.WriteString(grayStyle.Render(m.footer))
	}

	b.WriteString("\n\n")
	if !m.updated.IsZero() {
		b.WriteString(grayStyle.Render("updated " + m.updated.Format("15:04:05") + ". "))
	}
	b.WriteString(grayStyle.Render("Press 'q' to quit."))
	b.WriteString("\n")
	return b.String()
}

func runDevicesWatch(ctx context.Context, client *peerapi.Client, daemonURL string) error {
	m := watchModel{client: client, daemonURL: daemonURL}
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("device watch: %w", err)
	}
	return nil
}
