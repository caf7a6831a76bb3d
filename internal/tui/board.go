package tui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/internal/workflow/engine"
)

var statusOrder = []task.Status{task.StatusWaiting, task.StatusRunning, task.StatusSuccess, task.StatusFailed}

// Board prints the progress table whenever a tick changed something. It
// implements engine.Reporter.
type Board struct {
	w       io.Writer
	printed bool
}

// NewBoard returns a board writing to w.
func NewBoard(w io.Writer) *Board {
	return &Board{w: w}
}

// Report implements engine.Reporter.
func (b *Board) Report(g *workflow.Graph, p engine.Progress) {
	if b.printed && len(p.Started) == 0 && len(p.Finished) == 0 && !p.Done {
		return
	}
	b.printed = true
	fmt.Fprintln(b.w, RenderBoard(g, p))
}

// RenderBoard draws the graph header, the status counts and one row per
// task in dependency order.
func RenderBoard(g *workflow.Graph, p engine.Progress) string {
	header := titleStyle.Render(fmt.Sprintf("Graph: %s", g.Name())) +
		detailTextStyle.Render(fmt.Sprintf(" · Run: %s", g.RunID()))
	status := p.Status
	if status == "" {
		status = g.Status()
	}
	summary := "Status: " + StatusStyle(status).Render(string(status))
	if p.Tick > 0 {
		summary += detailTextStyle.Render(fmt.Sprintf(" · Tick %d · %s", p.Tick, p.At.Format("15:04:05")))
	}
	lines := []string{header, summary, renderCounts(g, p.Counts), renderTasks(g)}
	if len(p.Started) > 0 {
		lines = append(lines, hintStyle.Render("started: "+strings.Join(p.Started, ", ")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderCounts(g *workflow.Graph, counts map[task.Status]int) string {
	if counts == nil {
		statuses := make([]task.Status, 0)
		for _, t := range g.Tasks() {
			statuses = append(statuses, t.Status())
		}
		counts = workflow.Count(statuses)
	}
	parts := make([]string, 0, len(statusOrder))
	for _, s := range statusOrder {
		parts = append(parts, StatusStyle(s).Render(fmt.Sprintf("%s %d", s, counts[s])))
	}
	return strings.Join(parts, detailTextStyle.Render(" · "))
}

func renderTasks(g *workflow.Graph) string {
	ordered, err := g.OrderedTasks()
	if err != nil {
		ordered = g.Tasks()
	}
	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("TASK", "UNIT", "STATUS", "PID").
		StyleFunc(func(row, col int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, t := range ordered {
		pid := ""
		if t.PID() > 0 {
			pid = strconv.Itoa(t.PID())
		}
		tbl.Row(t.Name(), t.Unit().Name(), statusLabel(t), pid)
	}
	return tbl.String()
}
