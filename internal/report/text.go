package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/jmgilman/tagcheck/internal/scan"
)

var (
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	notFoundStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	locationStyle = lipgloss.NewStyle().Faint(true)
	statusWidth   = lipgloss.NewStyle().Width(len(scan.StatusCheckFailed) + 1)
)

// writeText lists every finding followed by a summary line.
func writeText(w io.Writer, findings []scan.Finding) error {
	for _, f := range findings {
		line := fmt.Sprintf("%s %s %s",
			statusWidth.Render(statusStyle(f.Status).Render(string(f.Status))),
			locationStyle.Render(fmt.Sprintf("%s:%d", f.File, f.Line)),
			f.URI,
		)
		if f.Err != nil {
			line += locationStyle.Render(" (" + f.Err.Error() + ")")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("write finding: %w", err)
		}
	}

	s := scan.Summarize(findings)
	if _, err := fmt.Fprintf(w, "%d checked: %d ok, %d not found, %d failed\n",
		len(findings), s.OK, s.NotFound, s.CheckFailed); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func statusStyle(status scan.Status) lipgloss.Style {
	switch status {
	case scan.StatusOK:
		return okStyle
	case scan.StatusNotFound:
		return notFoundStyle
	default:
		return failedStyle
	}
}
