// Package dashboard renders live replication snapshots as a terminal UI.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/koval-yurko/db-scales/pkg/replication"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	statusBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(2)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00FF00")).
		Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type keyMap struct {
	Quit  key.Binding
	Pause key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p", " "),
		key.WithHelp("p", "pause"),
	),
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Pause, k.Quit} }

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// SnapshotMsg delivers a freshly collected snapshot to the model
type SnapshotMsg replication.Snapshot

// ErrorMsg reports a failed collection
type ErrorMsg struct{ Err error }

// Model is the bubbletea model for the live dashboard
type Model struct {
	spinner spinner.Model
	table   table.Model
	help    help.Model
	keys    keyMap

	latest     *replication.Snapshot
	lastErr    error
	iterations int
	paused     bool
	width      int
}

// New returns an empty dashboard waiting for its first snapshot
func New() Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF"))

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Metric", Width: 22},
			{Title: "Value", Width: 40},
		}),
		table.WithHeight(14),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)

	return Model{
		spinner: sp,
		table:   t,
		help:    help.New(),
		keys:    keys,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		}

	case SnapshotMsg:
		m.iterations++
		if m.paused {
			return m, nil
		}
		s := replication.Snapshot(msg)
		m.latest = &s
		m.lastErr = nil
		m.table.SetRows(Rows(s))

	case ErrorMsg:
		m.iterations++
		m.lastErr = msg.Err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PostgreSQL Replication Monitor"))
	b.WriteString("\n\n")

	if m.latest == nil {
		fmt.Fprintf(&b, "  %s Waiting for first snapshot...\n", m.spinner.View())
	} else {
		b.WriteString(statusBoxStyle.Render(m.status()))
		b.WriteString("\n\n")
		b.WriteString(m.table.View())
		b.WriteString("\n")
		for _, w := range m.latest.Warnings {
			b.WriteString("  " + warningStyle.Render("! "+w) + "\n")
		}
	}

	if m.lastErr != nil {
		b.WriteString("\n  " + warningStyle.Render("Collection failed: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) status() string {
	s := m.latest
	health := warningStyle.Render("UNHEALTHY")
	if s.IsHealthy {
		health = okStyle.Render("HEALTHY")
	}
	sync := warningStyle.Render("NO")
	if s.IsInSync {
		sync = okStyle.Render("YES")
	}

	line := fmt.Sprintf("Status: %s   In Sync: %s   %s %s", health, sync, m.spinner.View(), s.Timestamp.Format(time.TimeOnly))
	if m.paused {
		line += "   (paused)"
	}
	return line + fmt.Sprintf("\nIterations: %d", m.iterations)
}

// Rows flattens a snapshot into metric/value pairs for the table
func Rows(s replication.Snapshot) []table.Row {
	str := func(p *string) string {
		if p == nil {
			return "N/A"
		}
		return *p
	}
	slot := "N/A"
	if s.SlotName != nil {
		state := "inactive"
		if s.SlotIsActive() {
			state = "active"
		}
		slot = fmt.Sprintf("%s (%s)", *s.SlotName, state)
	}

	return []table.Row{
		{"Primary WAL LSN", str(s.PrimaryWALLSN)},
		{"Replica Receive LSN", str(s.StandbyReceiveLSN)},
		{"Replica Replay LSN", str(s.StandbyReplayLSN)},
		{"Replication State", str(s.StreamState)},
		{"Sync State", str(s.SyncState)},
		{"Byte Lag", replication.FormatBytes(s.ByteLag)},
		{"Write Lag", replication.FormatSeconds(s.WriteLagSeconds)},
		{"Flush Lag", replication.FormatSeconds(s.FlushLagSeconds)},
		{"Replay Lag", replication.FormatSeconds(s.ReplayLagSeconds)},
		{"Replication Slot", slot},
		{"Slot Retained WAL", replication.FormatBytes(s.SlotRetainedBytes)},
	}
}
