package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pks-run/runnerd/internal/store"
)

// statusStyles is the reduced subset of the TUI's style palette relevant
// to a single static render: a title, an enabled/disabled marker per
// registration, and a dim label for counters.
type statusStyles struct {
	title    lipgloss.Style
	label    lipgloss.Style
	enabled  lipgloss.Style
	disabled lipgloss.Style
}

func defaultStatusStyles() statusStyles {
	return statusStyles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		enabled:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		disabled: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// renderStatus renders the persisted configuration as the status command's
// output. There is no running-daemon query channel, so this reflects
// configuration state rather than live dispatch counters; `runnerd run`
// logs those as they happen.
func renderStatus(cfg store.DaemonConfiguration) string {
	s := defaultStatusStyles()
	var b strings.Builder

	b.WriteString(s.title.Render("runnerd configuration") + "\n")
	b.WriteString(s.label.Render(fmt.Sprintf("polling interval: %ds", cfg.PollingIntervalSeconds)) + "\n")
	b.WriteString(s.label.Render(fmt.Sprintf("max concurrent jobs: %d", cfg.MaxConcurrentJobs)) + "\n")
	b.WriteString(s.label.Render(fmt.Sprintf("reserved labels: %s", strings.Join(cfg.ReservedLabels, ", "))) + "\n\n")

	if len(cfg.Registrations) == 0 {
		b.WriteString(s.label.Render("no registrations") + "\n")
		return b.String()
	}

	for _, r := range cfg.Registrations {
		marker := s.disabled.Render("disabled")
		if r.Enabled {
			marker = s.enabled.Render("enabled")
		}
		b.WriteString(fmt.Sprintf("  %s/%s  [%s]  labels=%s\n", r.Owner, r.Repo, marker, r.Labels))
	}
	return b.String()
}
