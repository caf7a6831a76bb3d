package tui

import (
	"strings"
	"testing"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow/engine"
)

func TestWatchAppliesSnapshot(t *testing.T) {
	g := generatedGraph(t)
	repo := engine.NewRepository(nil, g.OutputDir())
	if err := repo.Save(engine.Snapshot{
		Status: map[string]task.Status{"fetch": task.StatusSuccess, "report": task.StatusRunning},
		PIDs:   map[string]int{"report": 31337},
	}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	w, err := NewWatch(g.OutputDir())
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	defer w.Close()

	w.Update(w.loadSnapshot())
	view := w.View()
	for _, want := range []string{"Graph: demo", "running", "31337", "success 1"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view lacks %q:\n%s", want, view)
		}
	}
	if _, cmd := w.Update(fileChangedMsg{}); cmd == nil {
		t.Fatalf("file change must trigger a reload")
	}
}

func TestWatchWithoutSnapshot(t *testing.T) {
	g := generatedGraph(t)
	w, err := NewWatch(g.OutputDir())
	if err != nil {
		t.Fatalf("new watch: %v", err)
	}
	defer w.Close()

	msg := w.loadSnapshot().(snapshotMsg)
	if msg.err != nil {
		t.Fatalf("missing snapshot reported as error: %v", msg.err)
	}
	w.Update(msg)
	if !strings.Contains(w.View(), "waiting 2") {
		t.Fatalf("view:\n%s", w.View())
	}
}
