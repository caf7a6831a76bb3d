package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/unit"
)

var stepDef = unit.Definition{
	Name:     "step",
	Executor: "echo",
	Params: []unit.ParamDefinition{
		{Name: "in", Type: "list"},
		{Name: "out", Flag: ">"},
	},
	Inputs:  unit.Ports{{Name: "in"}},
	Outputs: unit.Ports{{Name: "out", Value: "${TaskName}.txt"}},
}

var noteDef = unit.Definition{Name: "note", Executor: "true"}

func newGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New("demo", t.TempDir())
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	return g
}

func addTask(t *testing.T, g *Graph, name string, def unit.Definition, deps task.Deps, waits ...*task.Task) *task.Task {
	t.Helper()
	d := def
	tk, err := g.CreateTask(TaskSpec{Name: name, Definition: &d, Deps: deps, Waits: waits})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return tk
}

// diamond builds a -> {b, c} -> d.
func diamond(t *testing.T) (*Graph, map[string]*task.Task) {
	g := newGraph(t)
	a := addTask(t, g, "a", stepDef, nil)
	b := addTask(t, g, "b", stepDef, task.Deps{"": {task.Direct(a)}})
	c := addTask(t, g, "c", stepDef, task.Deps{"in": {task.WithPort(a, "out")}})
	d := addTask(t, g, "d", stepDef, task.Deps{"": {task.Direct(b), task.Direct(c)}})
	if err := g.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	return g, map[string]*task.Task{"a": a, "b": b, "c": c, "d": d}
}

func names(tasks []*task.Task) string {
	out := make([]string, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.Name()
	}
	return strings.Join(out, ",")
}

func TestGenerateWiresSentinelsAndOrders(t *testing.T) {
	g, tasks := diamond(t)
	if parents := tasks["a"].Parents(); len(parents) != 1 || parents[0] != StartID {
		t.Fatalf("a parents = %v, want START", parents)
	}
	if parents := g.End().Parents(); len(parents) != 1 || parents[0] != tasks["d"].ID() {
		t.Fatalf("END parents = %v, want d", parents)
	}
	ordered, err := g.OrderedTasks()
	if err != nil {
		t.Fatalf("ordered: %v", err)
	}
	if got := names(ordered); got != "a,b,c,d" {
		t.Fatalf("order = %s", got)
	}
	aOut := filepath.Join(tasks["a"].OutputDir(), "a.txt")
	if !strings.Contains(tasks["b"].MainCommand(), "echo "+aOut+" >") {
		t.Fatalf("b command = %q, want a output bound", tasks["b"].MainCommand())
	}
	bOut := filepath.Join(tasks["b"].OutputDir(), "b.txt")
	cOut := filepath.Join(tasks["c"].OutputDir(), "c.txt")
	if !strings.Contains(tasks["d"].MainCommand(), "echo "+bOut+" "+cOut) {
		t.Fatalf("d command = %q", tasks["d"].MainCommand())
	}
	for _, file := range []string{FileCommands, FileSnapshot, FileMeta, FileGraphDOT} {
		if _, err := os.Stat(filepath.Join(g.OutputDir(), file)); err != nil {
			t.Fatalf("missing %s: %v", file, err)
		}
	}
	list, err := os.ReadFile(filepath.Join(g.OutputDir(), FileCommands))
	if err != nil {
		t.Fatalf("read commands: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(list)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "a\techo ") || strings.Contains(lines[0], "touch") {
		t.Fatalf("commands.list = %q", list)
	}
}

func TestOrderRespectsLateSiblings(t *testing.T) {
	g := newGraph(t)
	a := addTask(t, g, "a", stepDef, nil)
	b := addTask(t, g, "b", stepDef, task.Deps{"": {task.Direct(a)}})
	x := addTask(t, g, "x", stepDef, task.Deps{"": {task.Direct(b), g.SetInput("x", "in", "/seed")}})
	if err := g.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	ordered, _ := g.OrderedTasks()
	if got := names(ordered); got != "a,b,x" {
		t.Fatalf("order = %s", got)
	}
	if !strings.Contains(x.MainCommand(), "/seed") {
		t.Fatalf("x command = %q, want graph input", x.MainCommand())
	}
}

func TestFetchExecutableTasks(t *testing.T) {
	g, tasks := diamond(t)
	if got := names(g.FetchExecutableTasks()); got != "a" {
		t.Fatalf("initial frontier = %s", got)
	}
	tasks["a"].Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "b,c" {
		t.Fatalf("after a = %s", got)
	}
	tasks["b"].Restore(task.StatusRunning)
	if got := names(g.FetchExecutableTasks()); got != "c" {
		t.Fatalf("b running = %s", got)
	}
	tasks["c"].Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "" {
		t.Fatalf("d must wait for b, got %s", got)
	}
	tasks["b"].Restore(task.StatusFailed)
	if got := names(g.FetchExecutableTasks()); got != "" {
		t.Fatalf("failed b must block d, got %s", got)
	}
	tasks["b"].Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "d" {
		t.Fatalf("after b and c = %s", got)
	}
	tasks["d"].Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "" {
		t.Fatalf("finished graph frontier = %s", got)
	}
	if g.Status() != task.StatusSuccess {
		t.Fatalf("graph status = %s", g.Status())
	}
}

func TestFetchSkipsBelowUnsatisfiedSuccess(t *testing.T) {
	g := newGraph(t)
	a := addTask(t, g, "a", stepDef, nil)
	p := addTask(t, g, "p", stepDef, nil)
	x := addTask(t, g, "x", stepDef, task.Deps{"": {task.Direct(a), task.Direct(p)}})
	_ = addTask(t, g, "y", stepDef, task.Deps{"": {task.Direct(x)}})
	if err := g.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	a.Restore(task.StatusSuccess)
	p.Restore(task.StatusFailed)
	x.Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "" {
		t.Fatalf("frontier = %s, want nothing below failed p", got)
	}
	p.Restore(task.StatusWaiting)
	if got := names(g.FetchExecutableTasks()); got != "p" {
		t.Fatalf("frontier = %s, want p", got)
	}
	p.Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "y" {
		t.Fatalf("frontier = %s, want y", got)
	}
}

func TestWaitOnlyChainIsReachable(t *testing.T) {
	g := newGraph(t)
	a := addTask(t, g, "a", noteDef, nil)
	b := addTask(t, g, "b", noteDef, nil, a)
	c := addTask(t, g, "c", noteDef, nil, b)
	if err := g.Generate(); err != nil {
		t.Fatalf("generate: %v", err)
	}
	ordered, _ := g.OrderedTasks()
	if got := names(ordered); got != "a,b,c" {
		t.Fatalf("order = %s", got)
	}
	if got := names(g.FetchExecutableTasks()); got != "a" {
		t.Fatalf("frontier = %s, want a", got)
	}
	a.Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "b" {
		t.Fatalf("frontier = %s, want b", got)
	}
	b.Restore(task.StatusSuccess)
	if got := names(g.FetchExecutableTasks()); got != "c" {
		t.Fatalf("frontier = %s, want c", got)
	}
	_ = c
}

func TestGenerateDetectsCycles(t *testing.T) {
	g := newGraph(t)
	a := addTask(t, g, "a", stepDef, nil)
	b := addTask(t, g, "b", stepDef, task.Deps{"": {task.Direct(a)}})
	if err := a.SetDep(g, b.ID(), "out", "in", nil); err != nil {
		t.Fatalf("set back edge: %v", err)
	}
	if err := g.Generate(); !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}

func TestCreateTaskRejectsDuplicates(t *testing.T) {
	g := newGraph(t)
	addTask(t, g, "a", stepDef, nil)
	d := stepDef
	if _, err := g.CreateTask(TaskSpec{Name: "a", Definition: &d}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("err = %v, want ErrDuplicateTask", err)
	}
	if _, err := g.CreateTask(TaskSpec{Name: "b", Unit: "missing"}); !errors.Is(err, unit.ErrUnknownUnit) {
		t.Fatalf("err = %v, want ErrUnknownUnit", err)
	}
	if _, err := g.AddInput("reads", "x"); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if _, err := g.AddInput("reads", "y"); !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("err = %v, want ErrDuplicateInput", err)
	}
}

func TestGraphParamsOverrideDeclared(t *testing.T) {
	g, err := New("demo", t.TempDir(), WithParams(map[string]map[string]any{
		"step": {"in": "/by-unit"},
		"b":    {"in": "/by-task"},
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := addTask(t, g, "a", stepDef, nil)
	b := addTask(t, g, "b", stepDef, nil)
	if v, _ := a.Param("in"); v != "/by-unit" {
		t.Fatalf("a in = %v", v)
	}
	if v, _ := b.Param("in"); v != "/by-task" {
		t.Fatalf("b in = %v", v)
	}
	g.UpdateParams(map[string]map[string]any{"step": {"in": "/override"}})
	if v, _ := b.Param("in"); v != "/override" {
		t.Fatalf("b in after update = %v", v)
	}
}

func TestLoadRestoresGeneratedGraph(t *testing.T) {
	g, tasks := diamond(t)
	loaded, err := Load(g.OutputDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RunID() != g.RunID() || loaded.Name() != "demo" {
		t.Fatalf("loaded run=%s name=%s", loaded.RunID(), loaded.Name())
	}
	ordered, err := loaded.OrderedTasks()
	if err != nil {
		t.Fatalf("ordered: %v", err)
	}
	if got := names(ordered); got != "a,b,c,d" {
		t.Fatalf("loaded order = %s", got)
	}
	d, ok := loaded.Lookup("d")
	if !ok || d.Command() != tasks["d"].Command() {
		t.Fatalf("loaded d command = %q", d.Command())
	}
	if got := names(loaded.FetchExecutableTasks()); got != "a" {
		t.Fatalf("loaded frontier = %s", got)
	}
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestGraphStatus(t *testing.T) {
	cases := []struct {
		in   []task.Status
		want task.Status
	}{
		{nil, task.StatusWaiting},
		{[]task.Status{task.StatusSuccess, task.StatusSuccess}, task.StatusSuccess},
		{[]task.Status{task.StatusSuccess, task.StatusRunning, task.StatusFailed}, task.StatusRunning},
		{[]task.Status{task.StatusFailed, task.StatusWaiting}, task.StatusFailed},
		{[]task.Status{task.StatusSuccess, task.StatusWaiting}, task.StatusWaiting},
	}
	for _, tc := range cases {
		if got := GraphStatus(tc.in); got != tc.want {
			t.Fatalf("GraphStatus(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestDrawStatus(t *testing.T) {
	g, tasks := diamond(t)
	tasks["a"].Restore(task.StatusFailed)
	if err := g.DrawStatus(); err != nil {
		t.Fatalf("draw: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(g.OutputDir(), FileStatusDOT))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), StatusColors[task.StatusFailed]) {
		t.Fatalf("status drawing lacks failed colour:\n%s", data)
	}
}
