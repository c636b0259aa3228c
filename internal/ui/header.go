package ui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the box printed above command output: a title, the command line
// being run and the connection parameters it resolved.
type Header struct {
	Title   string
	Command string
	Params  map[string]string
	Width   int
}

func NewHeader(title, command string, params map[string]string) *Header {
	return &Header{Title: title, Command: command, Params: params, Width: GetTerminalWidth()}
}

// SetWidth overrides the detected terminal width.
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

func (h *Header) Render() string {
	width := clampWidth(h.Width)

	sections := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render(h.Command),
	}
	if len(h.Params) > 0 {
		sections = append(sections,
			RenderHorizontalDivider(width-6, "─"),
			renderPairs(h.Params, HeaderParamKeyStyle, HeaderParamValueStyle, ""),
		)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (h *Header) String() string {
	return h.Render()
}

// renderPairs renders "key: value" lines sorted by key, with values aligned
// on the longest key.
func renderPairs(pairs map[string]string, keyStyle, valueStyle lipgloss.Style, indent string) string {
	keys := make([]string, 0, len(pairs))
	pad := 0
	for k := range pairs {
		keys = append(keys, k)
		pad = max(pad, lipgloss.Width(k))
	}
	slices.Sort(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		label := indent + k + ":" + strings.Repeat(" ", pad-lipgloss.Width(k))
		lines[i] = keyStyle.Render(label) + " " + valueStyle.Render(pairs[k])
	}
	return strings.Join(lines, "\n")
}
