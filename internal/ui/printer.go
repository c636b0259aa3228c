package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// Printer writes styled components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, details map[string]string) {
	p.Println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints an error result box with troubleshooting tips
func (p *Printer) PrintError(title string, err error) {
	p.Println(NewFailureResult(title, err, nil).SetWidth(p.width).Render())
}

// PrintDPS prints data points as a result box ordered by numeric id.
func (p *Printer) PrintDPS(title string, dps map[string]any) {
	p.PrintSuccess(title, FormatDPS(dps))
}

// FormatDPS renders each value as compact JSON, keyed by "dp <id>".
func FormatDPS(dps map[string]any) map[string]string {
	out := make(map[string]string, len(dps))
	for id, v := range dps {
		out[dpLabel(id)] = FormatValue(v)
	}
	return out
}

// FormatValue renders one data point value.
func FormatValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// dpLabel pads numeric ids so lexical order matches numeric order.
func dpLabel(id string) string {
	if n, err := strconv.Atoi(id); err == nil {
		return fmt.Sprintf("dp %3d", n)
	}
	return "dp " + id
}

// SortedIDs returns dps keys ordered numerically where possible.
func SortedIDs(dps map[string]any) []string {
	ids := make([]string, 0, len(dps))
	for id := range dps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}
