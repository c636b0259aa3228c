package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/tuyalocal/internal/protocol"
)

// ResultType indicates success or failure
type ResultType int

const (
	ResultSuccess ResultType = iota
	ResultFailure
	ResultWarning
)

// Result represents a result box (success, failure, or warning)
type Result struct {
	Type            ResultType        // Success, failure, or warning
	Title           string            // e.g., "DPS updated"
	Details         map[string]string // Key-value details to display
	Error           error             // Error (for failure results)
	Troubleshooting []string          // Troubleshooting tips (for failure results)
	Width           int               // Terminal width
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details map[string]string) *Result {
	return &Result{Type: ResultSuccess, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure result box. Tips default to
// Troubleshooting(err) when none are given.
func NewFailureResult(title string, err error, troubleshooting []string) *Result {
	if troubleshooting == nil {
		troubleshooting = Troubleshooting(err)
	}
	return &Result{
		Type:            ResultFailure,
		Title:           title,
		Error:           err,
		Troubleshooting: troubleshooting,
		Width:           GetTerminalWidth(),
	}
}

// NewWarningResult creates a warning result box
func NewWarningResult(title string, details map[string]string) *Result {
	return &Result{Type: ResultWarning, Title: title, Details: details, Width: GetTerminalWidth()}
}

// SetWidth sets the terminal width for responsive rendering
func (r *Result) SetWidth(width int) *Result {
	r.Width = width
	return r
}

// AddDetail adds a detail key-value pair
func (r *Result) AddDetail(key, value string) *Result {
	if r.Details == nil {
		r.Details = make(map[string]string)
	}
	r.Details[key] = value
	return r
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := clampWidth(r.Width)

	var (
		lines []string
		color lipgloss.Color
	)
	switch r.Type {
	case ResultFailure:
		color = ErrorColor
		lines = append(lines, "", ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, r.Title)), "")
		if r.Error != nil {
			lines = append(lines, ErrorMessageStyle.Render("   Error: "+r.Error.Error()), "")
		}
		if len(r.Troubleshooting) > 0 {
			lines = append(lines, r.renderTroubleshootingBox(width), "")
		}
	case ResultWarning:
		color = WarningColor
		title := lipgloss.NewStyle().Foreground(WarningColor).Bold(true).
			Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", r.Title))
		lines = append(lines, "", title, "")
		lines = r.appendDetails(lines)
	default:
		color = SuccessColor
		lines = append(lines, "", SuccessTitleStyle.Render(fmt.Sprintf("   %s  SUCCESS  ─  %s", SuccessMarker, r.Title)), "")
		lines = r.appendDetails(lines)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

func (r *Result) appendDetails(lines []string) []string {
	if len(r.Details) == 0 {
		return lines
	}
	return append(lines, renderPairs(r.Details, ResultKeyStyle, ResultValueStyle, "   "), "")
}

// renderTroubleshootingBox renders the inner troubleshooting box
func (r *Result) renderTroubleshootingBox(width int) string {
	lines := []string{TroubleshootingTitleStyle.Render("Troubleshooting:"), ""}
	for _, tip := range r.Troubleshooting {
		lines = append(lines, TroubleshootingItemStyle.Render("  • "+tip))
	}

	innerWidth := width - 12 // Indent within outer box
	if innerWidth < 40 {
		innerWidth = 40
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(innerWidth).
		Padding(0, 1).
		MarginLeft(3).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}

// Troubleshooting suggests fixes for a connection or protocol error.
func Troubleshooting(err error) []string {
	typ, ok := protocol.TypeOf(err)
	if !ok {
		return nil
	}
	switch typ {
	case protocol.ErrTypeTransport:
		return []string{
			"Check the device is powered and on the same network",
			"Verify the host address and that port 6668 is reachable",
			"Close the vendor app: most devices accept one local connection only",
		}
	case protocol.ErrTypeIntegrity, protocol.ErrTypeCrypto, protocol.ErrTypeHandshake:
		return []string{
			"Verify the local key (it changes when the device is re-paired)",
			"Verify the protocol version with --version",
		}
	case protocol.ErrTypeTimeout:
		return []string{
			"The device accepted the connection but did not answer in time",
			"Try a longer --timeout or another protocol version",
		}
	case protocol.ErrTypeConfig:
		return []string{"Run 'tuyactl devices list' to check the stored device entry"}
	default:
		return nil
	}
}
