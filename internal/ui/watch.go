package ui

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
)

// StateMsg reports a connection state change to the watch model.
type StateMsg struct {
	State string
	Err   error // Why the connection dropped, if it did
}

// DPSMsg delivers data points, either a full query result or a pushed update.
type DPSMsg struct {
	DPS map[string]any
	At  time.Time
}

type watchKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// WatchConfig describes the device shown by the watch view.
type WatchConfig struct {
	Name    string
	Addr    string
	Version string
	// Refresh queries the device. It runs as a tea.Cmd and should return a
	// DPSMsg or StateMsg.
	Refresh func() tea.Msg
}

// WatchModel is the Bubble Tea model behind "tuyactl watch". Connection
// events arrive through Program.Send as StateMsg and DPSMsg.
type WatchModel struct {
	cfg     WatchConfig
	state   string
	lastErr error
	dps     map[string]any
	updated map[string]time.Time
	pushes  int

	width   int
	spinner spinner.Model
	table   table.Model
	help    help.Model
	keys    watchKeyMap
}

// NewWatchModel creates a watch model in the disconnected state.
func NewWatchModel(cfg WatchConfig) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(MutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	t := table.New(
		table.WithColumns(watchColumns(MinTerminalWidth)),
		table.WithFocused(false),
		table.WithHeight(4),
		table.WithStyles(styles),
	)

	return WatchModel{
		cfg:     cfg,
		state:   "disconnected",
		dps:     make(map[string]any),
		updated: make(map[string]time.Time),
		width:   GetTerminalWidth(),
		spinner: s,
		table:   t,
		help:    help.New(),
		keys: watchKeyMap{
			Refresh: key.NewBinding(
				key.WithKeys("r"),
				key.WithHelp("r", "refresh"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "esc", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

func watchColumns(width int) []table.Column {
	value := width - 8 - 12 - 8
	if value < 20 {
		value = 20
	}
	return []table.Column{
		{Title: "DP", Width: 6},
		{Title: "Value", Width: value},
		{Title: "Updated", Width: 10},
	}
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			if m.cfg.Refresh != nil && m.state == "ready" {
				return m, m.cfg.Refresh
			}
		}

	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.table.SetColumns(watchColumns(m.width))
		m.help.Width = m.width

	case StateMsg:
		m.state = msg.State
		if msg.Err != nil {
			m.lastErr = msg.Err
		} else if msg.State == "ready" {
			m.lastErr = nil
		}
		if msg.State != "ready" {
			return m, m.spinner.Tick
		}

	case DPSMsg:
		at := msg.At
		if at.IsZero() {
			at = time.Now()
		}
		for id, v := range msg.DPS {
			m.dps[id] = v
			m.updated[id] = at
		}
		m.pushes++
		m.syncRows()

	case spinner.TickMsg:
		if m.state == "ready" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *WatchModel) syncRows() {
	ids := SortedIDs(m.dps)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, table.Row{id, FormatValue(m.dps[id]), m.updated[id].Format("15:04:05")})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 3) // header row and its border
}

// State returns the last connection state shown.
func (m WatchModel) State() string {
	return m.state
}

// DPS returns the merged data points shown.
func (m WatchModel) DPS() map[string]any {
	return m.dps
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	params := map[string]string{"Address": m.cfg.Addr, "Version": m.cfg.Version}
	b.WriteString(NewHeader("Watching "+m.cfg.Name, "tuyactl watch", params).SetWidth(m.width).Render())
	b.WriteString("\n\n")

	status := StateStyle(m.state).Render(StateMarker + " " + m.state)
	if m.state != "ready" {
		status = m.spinner.View() + " " + StateStyle(m.state).Render(m.state)
	}
	b.WriteString("  " + status)
	if m.pushes > 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(MutedColor).Render(fmt.Sprintf("   %d updates", m.pushes)))
	}
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(ErrorMessageStyle.Render("  " + m.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.dps) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(MutedColor).PaddingLeft(2).Render("No data points yet"))
	} else {
		b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(m.table.View()))
	}
	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	b.WriteString("\n")
	return b.String()
}
