package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow"
)

var (
	labelStyleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color(workflow.StatusColors[task.StatusWaiting]))
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color(workflow.StatusColors[task.StatusRunning])).Bold(true)
	labelStyleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color(workflow.StatusColors[task.StatusSuccess])).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color(workflow.StatusColors[task.StatusFailed])).Bold(true)
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	borderStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// StatusStyle returns the label style for a task status.
func StatusStyle(s task.Status) lipgloss.Style {
	switch s {
	case task.StatusRunning:
		return labelStyleRunning
	case task.StatusSuccess:
		return labelStyleSuccess
	case task.StatusFailed:
		return labelStyleFailed
	default:
		return labelStyleWaiting
	}
}

// statusLabel renders the current status, followed by the status before a
// restart when the two differ.
func statusLabel(t *task.Task) string {
	label := StatusStyle(t.Status()).Render(string(t.Status()))
	if shown := t.DisplayStatus(); shown != "" && shown != t.Status() {
		label += detailTextStyle.Render(" (was " + string(shown) + ")")
	}
	return label
}
