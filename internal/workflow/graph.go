// internal/workflow/graph.go
//
// Defines the task graph: an arena of tasks bracketed by the START and END
// sentinels, plus the files a generated graph leaves in its output dir.

package workflow

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/unit"
)

// Sentinel ids inside every graph arena.
const (
	StartID task.ID = 0
	EndID   task.ID = 1
)

// File names written into the graph output directory.
const (
	FileCommands  = "commands.list"
	FileSnapshot  = "taskgraph.json"
	FileMeta      = "meta.json"
	FileGraphDOT  = "taskgraph.gv"
	FileStatusDOT = "taskgraph.status.gv"
)

var (
	ErrDuplicateTask  = errors.New("workflow: duplicate task")
	ErrDuplicateInput = errors.New("workflow: duplicate graph input")
	ErrUnknownTask    = errors.New("workflow: unknown task")
	ErrCycle          = errors.New("workflow: dependency cycle")
)

// Graph owns every task of a workflow run. Tasks refer to each other by id;
// the graph is the arena those ids index into.
type Graph struct {
	name      string
	outputDir string
	runID     string
	registry  *unit.Registry
	env       task.Env
	log       *zap.Logger
	params    map[string]map[string]any

	tasks     []*task.Task
	byName    map[string]task.ID
	order     []task.ID
	generated bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithRegistry resolves unit names through reg.
func WithRegistry(reg *unit.Registry) Option {
	return func(g *Graph) { g.registry = reg }
}

// WithEnv sets the environment used by template rendering.
func WithEnv(env task.Env) Option {
	return func(g *Graph) { g.env = env }
}

// WithLogger attaches a logger to the graph and its tasks.
func WithLogger(log *zap.Logger) Option {
	return func(g *Graph) {
		if log != nil {
			g.log = log
		}
	}
}

// WithParams sets graph-level parameters keyed by task name or unit name.
// They are merged over the parameters a task is declared with.
func WithParams(params map[string]map[string]any) Option {
	return func(g *Graph) {
		for key, values := range params {
			g.params[key] = maps.Clone(values)
		}
	}
}

// defaultParams adds graph-level parameters without replacing any that
// were set through WithParams.
func (g *Graph) defaultParams(params map[string]map[string]any) {
	for key, values := range params {
		merged := maps.Clone(values)
		maps.Copy(merged, g.params[key])
		g.params[key] = merged
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(g *Graph) { g.runID = id }
}

// New creates an empty graph rooted at outputDir.
func New(name, outputDir string, opts ...Option) (*Graph, error) {
	if name == "" {
		return nil, fmt.Errorf("workflow: graph name is required")
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("workflow: output dir: %w", err)
	}
	g := &Graph{
		name:      name,
		outputDir: abs,
		runID:     ulid.Make().String(),
		env:       task.OSEnv{},
		log:       zap.NewNop(),
		params:    map[string]map[string]any{},
		byName:    map[string]task.ID{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.tasks = []*task.Task{
		task.NewSentinel(StartID, task.StartName),
		task.NewSentinel(EndID, task.EndName),
	}
	g.byName[task.StartName] = StartID
	g.byName[task.EndName] = EndID
	return g, nil
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// OutputDir returns the absolute graph output directory.
func (g *Graph) OutputDir() string { return g.outputDir }

// RunID returns the ULID identifying this graph generation.
func (g *Graph) RunID() string { return g.runID }

// Generated reports whether every command is rendered for the current
// shape of the graph.
func (g *Graph) Generated() bool { return g.generated }

// Logger returns the graph logger.
func (g *Graph) Logger() *zap.Logger { return g.log }

// Task implements task.Arena.
func (g *Graph) Task(id task.ID) *task.Task {
	if int(id) < 0 || int(id) >= len(g.tasks) {
		return nil
	}
	return g.tasks[id]
}

// Start returns the START sentinel.
func (g *Graph) Start() *task.Task { return g.tasks[StartID] }

// End returns the END sentinel.
func (g *Graph) End() *task.Task { return g.tasks[EndID] }

// Lookup finds a task by name.
func (g *Graph) Lookup(name string) (*task.Task, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.tasks[id], true
}

// Tasks returns every non-sentinel task in creation order.
func (g *Graph) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(g.tasks)-2)
	for _, t := range g.tasks {
		if !t.IsSentinel() {
			out = append(out, t)
		}
	}
	return out
}

// TaskSpec declares one task for CreateTask.
type TaskSpec struct {
	Name string
	// Unit names a registered unit. Ignored when Definition is set.
	Unit       string
	Definition *unit.Definition
	Deps       task.Deps
	Waits      []*task.Task
	Params     map[string]any
	Templates  map[string]any
}

// CreateTask instantiates a unit as a new task of the graph.
func (g *Graph) CreateTask(spec TaskSpec) (*task.Task, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("workflow: task name is required")
	}
	if _, exists := g.byName[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, spec.Name)
	}
	u, err := g.resolveUnit(spec)
	if err != nil {
		return nil, fmt.Errorf("workflow: task %s: %w", spec.Name, err)
	}
	params := maps.Clone(spec.Params)
	if params == nil {
		params = map[string]any{}
	}
	maps.Copy(params, g.params[u.Name()])
	maps.Copy(params, g.params[spec.Name])
	t, err := task.New(task.Config{
		ID:         task.ID(len(g.tasks)),
		Name:       spec.Name,
		Unit:       u,
		WorkingDir: g.outputDir,
		Params:     params,
		Templates:  spec.Templates,
		Env:        g.env,
		Logger:     g.log,
	})
	if err != nil {
		return nil, err
	}
	if err := t.SetWaits(spec.Waits); err != nil {
		return nil, err
	}
	// Producers must already be in the arena; the new task is not yet.
	if err := t.SetDeps(g, spec.Deps); err != nil {
		return nil, err
	}
	g.tasks = append(g.tasks, t)
	g.byName[t.Name()] = t.ID()
	g.generated = false
	return t, nil
}

func (g *Graph) resolveUnit(spec TaskSpec) (*unit.Unit, error) {
	switch {
	case spec.Definition != nil && g.registry != nil:
		return g.registry.Register(*spec.Definition)
	case spec.Definition != nil:
		return unit.Load(*spec.Definition)
	case spec.Unit == "":
		return nil, fmt.Errorf("a unit name or definition is required")
	case g.registry == nil:
		return nil, fmt.Errorf("%w: %s (no registry)", unit.ErrUnknownUnit, spec.Unit)
	default:
		return g.registry.Get(spec.Unit)
	}
}

// SetInput mounts value as the graph input for one port of a task and
// returns a dependency on it.
func (g *Graph) SetInput(taskName, port string, value any) task.Dep {
	slot := InputSlot(taskName, port)
	g.Start().SetParam(slot, value)
	return task.WithPort(g.Start(), slot)
}

// AddInput mounts a named graph input that any task may depend on.
func (g *Graph) AddInput(key string, value any) (task.Dep, error) {
	if key == "" {
		return task.Dep{}, fmt.Errorf("workflow: input key is required")
	}
	if _, exists := g.Start().Param(key); exists {
		return task.Dep{}, fmt.Errorf("%w: %s", ErrDuplicateInput, key)
	}
	g.Start().SetParam(key, value)
	return task.WithPort(g.Start(), key), nil
}

// InputSlot names the START parameter holding a task's graph input.
func InputSlot(taskName, port string) string {
	return taskName + "#" + port
}

// UpdateParams overrides parameters of every task instantiating one of the
// units named in byUnit.
func (g *Graph) UpdateParams(byUnit map[string]map[string]any) {
	for _, t := range g.Tasks() {
		if params, ok := byUnit[t.Unit().Name()]; ok {
			t.UpdateParams(params, true)
		}
	}
	g.generated = false
}
