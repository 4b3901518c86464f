package tui

import (
	"fmt"
	"strings"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))

	severityStyles = map[domain.Severity]lipgloss.Style{
		domain.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")),
		domain.SeverityHigh:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("208")),
		domain.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220")),
		domain.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("250")),
	}
)

func severityBadge(s domain.Severity) string {
	style, ok := severityStyles[s]
	if !ok {
		style = severityStyles[domain.SeverityLow]
	}
	return "  " + style.Render(fmt.Sprintf(" %-8s ", strings.ToUpper(string(s))))
}

func countsLine(c domain.SeverityCounts) string {
	return dimStyle.Render(fmt.Sprintf("C:%d H:%d M:%d L:%d", c.Critical, c.High, c.Medium, c.Low))
}

func selectRow(row string, selected bool, width int) string {
	if !selected {
		return row
	}
	return selectedRowStyle.Width(max(width-2, 1)).Render(row)
}

// wrap hard-wraps long lines so the viewport does not truncate them.
func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}
