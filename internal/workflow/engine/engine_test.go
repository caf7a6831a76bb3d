package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/unit"
	"github.com/kingrea/flowgraph/internal/workflow"
)

var (
	okDef    = unit.Definition{Name: "ok", Executor: "true"}
	failDef  = unit.Definition{Name: "fail", Executor: "false"}
	sleepDef = unit.Definition{
		Name:     "nap",
		Executor: "sleep",
		Params:   []unit.ParamDefinition{{Name: "secs"}},
	}
)

func newGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	g, err := workflow.New("demo", t.TempDir())
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	return g
}

func add(t *testing.T, g *workflow.Graph, name string, def unit.Definition, params map[string]any, waits ...*task.Task) *task.Task {
	t.Helper()
	d := def
	tk, err := g.CreateTask(workflow.TaskSpec{Name: name, Definition: &d, Params: params, Waits: waits})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return tk
}

func generate(t *testing.T, g *workflow.Graph) {
	t.Helper()
	if err := g.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
}

func newEngine(t *testing.T, g *workflow.Graph, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithInterval(20 * time.Millisecond)}, opts...)
	e, err := New(g, NewRepository(nil, g.OutputDir()), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func run(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunWaitChainToCompletion(t *testing.T) {
	g := newGraph(t)
	a := add(t, g, "a", okDef, nil)
	b := add(t, g, "b", okDef, nil, a)
	c := add(t, g, "c", okDef, nil, b)
	generate(t, g)

	var order []string
	e := newEngine(t, g, WithReporter(ReporterFunc(func(_ *workflow.Graph, p Progress) {
		order = append(order, p.Started...)
	})))
	run(t, e)

	for _, tk := range []*task.Task{a, b, c} {
		if tk.Status() != task.StatusSuccess {
			t.Fatalf("%s status = %s", tk.Name(), tk.Status())
		}
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("start order = %v", order)
	}
	if g.Status() != task.StatusSuccess {
		t.Fatalf("graph status = %s", g.Status())
	}
	snap, err := NewRepository(nil, g.OutputDir()).Load()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Status["c"] != task.StatusSuccess || snap.PIDs["c"] == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := os.Stat(filepath.Join(g.OutputDir(), workflow.FileStatusDOT)); err != nil {
		t.Fatalf("status drawing: %v", err)
	}
}

func TestCapacityBoundsRunningTasks(t *testing.T) {
	g := newGraph(t)
	for _, name := range []string{"x", "y", "z"} {
		add(t, g, name, sleepDef, map[string]any{"secs": "0.3"})
	}
	generate(t, g)

	maxRunning := 0
	e := newEngine(t, g, WithCapacity(2), WithReporter(ReporterFunc(func(_ *workflow.Graph, p Progress) {
		if len(p.Running) > maxRunning {
			maxRunning = len(p.Running)
		}
	})))
	done, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if done {
		t.Fatalf("first tick reported done")
	}
	if n := len(e.Running()); n != 2 {
		t.Fatalf("running after first tick = %d, want 2", n)
	}
	run(t, e)

	if maxRunning != 2 {
		t.Fatalf("max running = %d, want 2", maxRunning)
	}
	if g.Status() != task.StatusSuccess {
		t.Fatalf("graph status = %s", g.Status())
	}
}

func TestFailurePrunesDescendants(t *testing.T) {
	g := newGraph(t)
	a := add(t, g, "a", failDef, nil)
	b := add(t, g, "b", okDef, nil, a)
	side := add(t, g, "side", okDef, nil)
	generate(t, g)

	run(t, newEngine(t, g, WithCapacity(2)))

	if a.Status() != task.StatusFailed {
		t.Fatalf("a status = %s", a.Status())
	}
	if b.Status() != task.StatusWaiting {
		t.Fatalf("b status = %s, want waiting", b.Status())
	}
	if side.Status() != task.StatusSuccess {
		t.Fatalf("side status = %s", side.Status())
	}
	if g.Status() != task.StatusFailed {
		t.Fatalf("graph status = %s", g.Status())
	}
}

func TestRestartResetsAndPurges(t *testing.T) {
	g := newGraph(t)
	a := add(t, g, "a", okDef, nil)
	b := add(t, g, "b", okDef, nil, a)
	generate(t, g)

	repo := NewRepository(nil, g.OutputDir())
	if err := repo.Save(Snapshot{
		Status: map[string]task.Status{"a": task.StatusSuccess, "b": task.StatusFailed},
		PIDs:   map[string]int{"b": 999999},
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	junk := filepath.Join(b.OutputDir(), "partial.out")
	if err := os.WriteFile(junk, []byte("half"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	e := newEngine(t, g)
	if a.Status() != task.StatusSuccess {
		t.Fatalf("a status = %s, want success kept", a.Status())
	}
	if b.Status() != task.StatusWaiting || b.DisplayStatus() != task.StatusFailed {
		t.Fatalf("b status=%s display=%s", b.Status(), b.DisplayStatus())
	}
	if _, err := os.Stat(junk); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("junk survived restart: %v", err)
	}
	if _, err := os.Stat(b.ShellFile()); err != nil {
		t.Fatalf("shell file purged: %v", err)
	}

	run(t, e)
	if b.Status() != task.StatusSuccess {
		t.Fatalf("b status after rerun = %s", b.Status())
	}
	if a.PID() != 0 {
		t.Fatalf("a was started again (pid %d)", a.PID())
	}
}

func TestRestartRerunsInterruptedTask(t *testing.T) {
	g := newGraph(t)
	a := add(t, g, "a", okDef, nil)
	b := add(t, g, "b", okDef, nil, a)
	c := add(t, g, "c", okDef, nil, b)
	generate(t, g)

	repo := NewRepository(nil, g.OutputDir())
	if err := repo.Save(Snapshot{
		Status: map[string]task.Status{"a": task.StatusSuccess, "b": task.StatusRunning, "c": task.StatusWaiting},
		PIDs:   map[string]int{"b": 999999},
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.MarkerPath()), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(b.MarkerPath(), nil, 0o644); err != nil {
		t.Fatalf("write stale marker: %v", err)
	}

	var started [][]string
	e := newEngine(t, g, WithCapacity(2), WithReporter(ReporterFunc(func(_ *workflow.Graph, p Progress) {
		started = append(started, p.Started)
	})))
	if a.Status() != task.StatusSuccess {
		t.Fatalf("a status = %s, want success kept", a.Status())
	}
	if b.Status() != task.StatusWaiting || b.DisplayStatus() != task.StatusRunning {
		t.Fatalf("b status=%s display=%s", b.Status(), b.DisplayStatus())
	}
	if _, err := os.Stat(b.MarkerPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale marker survived restart: %v", err)
	}

	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(started) != 1 || len(started[0]) != 1 || started[0][0] != "b" {
		t.Fatalf("first tick started %v, want [b]", started)
	}
	if c.Status() != task.StatusWaiting {
		t.Fatalf("c status = %s, want waiting", c.Status())
	}

	run(t, e)
	for _, tk := range []*task.Task{a, b, c} {
		if tk.Status() != task.StatusSuccess {
			t.Fatalf("%s status = %s", tk.Name(), tk.Status())
		}
	}
	if a.PID() != 0 {
		t.Fatalf("a was started again (pid %d)", a.PID())
	}
}

func TestSecondEngineIsLockedOut(t *testing.T) {
	g := newGraph(t)
	add(t, g, "a", okDef, nil)
	generate(t, g)

	first := newEngine(t, g)
	if _, err := New(g, NewRepository(nil, g.OutputDir())); !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	again, err := New(g, NewRepository(nil, g.OutputDir()))
	if err != nil {
		t.Fatalf("new after close: %v", err)
	}
	_ = again.Close()
}

func TestNewRequiresGeneratedGraph(t *testing.T) {
	g := newGraph(t)
	add(t, g, "a", okDef, nil)
	if _, err := New(g, NewRepository(nil, g.OutputDir())); err == nil {
		t.Fatalf("expected error for ungenerated graph")
	}
	generate(t, g)
	if _, err := New(g, NewRepository(nil, g.OutputDir()), WithCapacity(0)); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g := newGraph(t)
	add(t, g, "a", sleepDef, map[string]any{"secs": "5"})
	generate(t, g)

	e := newEngine(t, g)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
