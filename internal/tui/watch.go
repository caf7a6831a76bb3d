package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/flowgraph/internal/logging"
	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/internal/workflow/engine"
)

const (
	watchFallbackInterval = 2 * time.Second
	watchLogLines         = 8
)

type snapshotMsg struct {
	snap engine.Snapshot
	err  error
}

type fileChangedMsg struct{}

type watchTickMsg time.Time

// Watch is a read-only live view of a graph output directory. It follows
// status.json through fsnotify and never touches the run itself.
type Watch struct {
	dir     string
	graph   *workflow.Graph
	repo    *engine.Repository
	watcher *fsnotify.Watcher
	spinner spinner.Model
	table   table.Model
	pids    map[string]int
	logs    []string
	updated time.Time
	err     error
}

// NewWatch loads the generated graph in dir and starts watching it.
func NewWatch(dir string) (*Watch, error) {
	g, err := workflow.Load(dir)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tui: watcher: %w", err)
	}
	if err := watcher.Add(g.OutputDir()); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("tui: watch %s: %w", g.OutputDir(), err)
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyleRunning
	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Task", Width: 24},
			{Title: "Unit", Width: 18},
			{Title: "Status", Width: 20},
			{Title: "PID", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	return &Watch{
		dir:     g.OutputDir(),
		graph:   g,
		repo:    engine.NewRepository(nil, g.OutputDir()),
		watcher: watcher,
		spinner: sp,
		table:   tbl,
		pids:    map[string]int{},
	}, nil
}

// Close stops the file watcher.
func (w *Watch) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// Init implements tea.Model.
func (w *Watch) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.loadSnapshot, w.waitForChange, scheduleWatchTick())
}

func (w *Watch) loadSnapshot() tea.Msg {
	snap, err := w.repo.Load()
	if errors.Is(err, engine.ErrStateNotFound) {
		return snapshotMsg{}
	}
	return snapshotMsg{snap: snap, err: err}
}

// waitForChange blocks until status.json changes or the watcher closes.
func (w *Watch) waitForChange() tea.Msg {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) == engine.FileStatus && event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				return fileChangedMsg{}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func scheduleWatchTick() tea.Cmd {
	return tea.Tick(watchFallbackInterval, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

// Update implements tea.Model.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.KeyMsg:
		switch m.String() {
		case "q", "ctrl+c", "esc":
			return w, tea.Quit
		}
	case snapshotMsg:
		w.apply(m)
		return w, nil
	case fileChangedMsg:
		return w, tea.Batch(w.loadSnapshot, w.waitForChange)
	case watchTickMsg:
		return w, tea.Batch(w.loadSnapshot, scheduleWatchTick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(m)
		return w, cmd
	}
	var cmd tea.Cmd
	w.table, cmd = w.table.Update(msg)
	return w, cmd
}

func (w *Watch) apply(m snapshotMsg) {
	w.err = m.err
	if m.err != nil {
		return
	}
	for _, t := range w.graph.Tasks() {
		if s, ok := m.snap.Status[t.Name()]; ok {
			t.Restore(s)
		}
	}
	w.pids = m.snap.PIDs
	w.updated = time.Now()
	ordered, err := w.graph.OrderedTasks()
	if err != nil {
		ordered = w.graph.Tasks()
	}
	rows := make([]table.Row, 0, len(ordered))
	for _, t := range ordered {
		pid := ""
		if p := w.pids[t.Name()]; p > 0 {
			pid = strconv.Itoa(p)
		}
		rows = append(rows, table.Row{t.Name(), t.Unit().Name(), string(t.Status()), pid})
	}
	w.table.SetRows(rows)
	w.logs, _ = logging.Tail(filepath.Join(w.dir, "logs", logging.FileName), watchLogLines)
}

// View implements tea.Model.
func (w *Watch) View() string {
	status := w.graph.Status()
	head := titleStyle.Render("Graph: " + w.graph.Name())
	if status == task.StatusRunning {
		head = w.spinner.View() + " " + head
	}
	summary := "Status: " + StatusStyle(status).Render(string(status)) + "  " + renderCounts(w.graph, nil)
	if !w.updated.IsZero() {
		summary += detailTextStyle.Render(" · updated " + w.updated.Format("15:04:05"))
	}
	lines := []string{head, summary, borderStyle.Render(w.table.View())}
	if w.err != nil {
		lines = append(lines, labelStyleFailed.Render(fmt.Sprintf("snapshot error: %v", w.err)))
	}
	if len(w.logs) > 0 {
		logBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Foreground(lipgloss.Color("#AAAAAA")).
			Render(strings.Join(w.logs, "\n"))
		lines = append(lines, logBox)
	}
	lines = append(lines, hintStyle.Render("↑/↓ select · q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RunWatch opens the live view for dir until the user quits.
func RunWatch(dir string) error {
	w, err := NewWatch(dir)
	if err != nil {
		return err
	}
	defer w.Close()
	_, err = tea.NewProgram(w, tea.WithAltScreen()).Run()
	return err
}
