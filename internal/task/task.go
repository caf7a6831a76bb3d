package task

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/kingrea/flowgraph/internal/unit"
)

// Directory names inside a task's output directory.
const (
	ShellDirName   = "_shell"
	StdxxxDirName  = "_stdxxx"
	SuccessDirName = "_success"
)

// Arena resolves task ids. The graph owns every task; tasks refer to each
// other only through ids.
type Arena interface {
	Task(ID) *Task
}

// Env provides ${env:KEY} lookups and executable path resolution.
type Env interface {
	Raw(key string) (string, error)
	Path(executable string) string
}

// OSEnv reads the process environment and leaves executables untouched.
type OSEnv struct{}

// Raw returns the environment variable key.
func (OSEnv) Raw(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: env %s is not set", ErrUnresolvedTemplate, key)
	}
	return value, nil
}

// Path returns executable unchanged.
func (OSEnv) Path(executable string) string { return executable }

// TemplateFunc is a template value applied to the whole string being
// rendered instead of being substituted in place.
type TemplateFunc func(string) string

// Config carries everything New needs to construct a task.
type Config struct {
	ID         ID
	Name       string
	Unit       *unit.Unit
	WorkingDir string
	Params     map[string]any
	Templates  map[string]any
	Env        Env
	Logger     *zap.Logger
}

// Task is one executable instance of a unit.
type Task struct {
	id       ID
	name     string
	unit     *unit.Unit
	sentinel bool

	workingDir string
	outputDir  string
	shellDir   string
	stdxxxDir  string
	successDir string
	marker     string
	shellFile  string

	params    map[string]any
	templates map[string]any
	env       Env
	log       *zap.Logger

	bindings []Binding
	parents  []ID
	children []ID
	waits    []ID

	shellCmd string
	mainCmd  string
	outputs  map[string][]string

	status        Status
	displayStatus Status
	pid           int
}

// New builds a task from a unit, seeding parameter defaults and the
// built-in templates.
func New(cfg Config) (*Task, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("task: name is required")
	}
	if cfg.Unit == nil {
		return nil, fmt.Errorf("task: %s: unit is required", cfg.Name)
	}
	workingDir, err := filepath.Abs(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("task: %s: working dir: %w", cfg.Name, err)
	}
	t := &Task{
		id:            cfg.ID,
		name:          cfg.Name,
		unit:          cfg.Unit,
		workingDir:    workingDir,
		params:        map[string]any{},
		templates:     map[string]any{},
		env:           cfg.Env,
		log:           cfg.Logger,
		status:        StatusWaiting,
		displayStatus: StatusWaiting,
	}
	if t.env == nil {
		t.env = OSEnv{}
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	t.setPaths()
	t.seedParams(cfg.Params)
	maps.Copy(t.templates, cfg.Templates)
	t.seedTemplates()
	return t, nil
}

// NewSentinel builds the START or END placeholder of a graph.
func NewSentinel(id ID, name string) *Task {
	t := &Task{
		id:            id,
		name:          name,
		sentinel:      true,
		params:        map[string]any{},
		templates:     map[string]any{},
		env:           OSEnv{},
		log:           zap.NewNop(),
		status:        StatusWaiting,
		displayStatus: StatusWaiting,
	}
	if name == StartName {
		t.status = StatusSuccess
		t.displayStatus = StatusSuccess
	}
	return t
}

func (t *Task) setPaths() {
	t.outputDir = filepath.Join(t.workingDir, t.unit.Name(), t.name)
	t.shellDir = filepath.Join(t.outputDir, ShellDirName)
	t.stdxxxDir = filepath.Join(t.outputDir, StdxxxDirName)
	t.successDir = filepath.Join(t.outputDir, SuccessDirName)
	t.marker = filepath.Join(t.successDir, t.name)
	t.shellFile = filepath.Join(t.shellDir, t.name+".sh")
}

func (t *Task) seedParams(given map[string]any) {
	for _, p := range t.unit.Params() {
		if v, ok := given[p.Name]; ok {
			t.params[p.Name] = v
			continue
		}
		if tpl, ok := t.unit.OutputTemplate(p.Name); ok {
			t.params[p.Name] = tpl
			continue
		}
		if def, ok := t.unit.InputDefault(p.Name); ok {
			if def != nil {
				t.params[p.Name] = def
			}
			continue
		}
		if p.HasDefault {
			t.params[p.Name] = p.Default
		}
	}
	for name, v := range given {
		if _, ok := t.params[name]; !ok {
			t.params[name] = v
		}
	}
}

func (t *Task) seedTemplates() {
	t.templates["TaskName"] = t.name
	t.templates["WorkingDir"] = t.workingDir
	t.templates["UnitName"] = t.unit.Name()
	t.templates["OutputDir"] = t.outputDir
	t.templates["ShellDir"] = t.shellDir
	t.templates["StdxxxDir"] = t.stdxxxDir
}

// ID returns the arena index of the task.
func (t *Task) ID() ID { return t.id }

// Name returns the unique task name.
func (t *Task) Name() string { return t.name }

// Unit returns the unit the task instantiates; nil for sentinels.
func (t *Task) Unit() *unit.Unit { return t.unit }

// IsSentinel reports whether t is START or END.
func (t *Task) IsSentinel() bool { return t.sentinel }

// WorkingDir returns the graph output directory the task lives under.
func (t *Task) WorkingDir() string { return t.workingDir }

// OutputDir returns <working>/<unit>/<task>.
func (t *Task) OutputDir() string { return t.outputDir }

// ShellDir returns the directory holding the command file.
func (t *Task) ShellDir() string { return t.shellDir }

// ShellFile returns the path of the persisted command file.
func (t *Task) ShellFile() string { return t.shellFile }

// MarkerPath returns the success marker file.
func (t *Task) MarkerPath() string { return t.marker }

// Command returns the marker-wrapped command, empty until generated.
func (t *Task) Command() string { return t.shellCmd }

// MainCommand returns the command without the marker wrapper.
func (t *Task) MainCommand() string { return t.mainCmd }

// Status returns the lifecycle status.
func (t *Task) Status() Status { return t.status }

// DisplayStatus returns the status shown to users. After a restart it keeps
// the status the task had before it was reset.
func (t *Task) DisplayStatus() Status { return t.displayStatus }

// PID returns the process id of the running command, zero if none.
func (t *Task) PID() int { return t.pid }

// Params returns a copy of the task parameters.
func (t *Task) Params() map[string]any { return maps.Clone(t.params) }

// Param returns a single parameter value.
func (t *Task) Param(name string) (any, bool) {
	v, ok := t.params[name]
	return v, ok
}

// SetParam assigns a parameter value.
func (t *Task) SetParam(name string, value any) { t.params[name] = value }

// Templates returns a copy of the template map.
func (t *Task) Templates() map[string]any { return maps.Clone(t.templates) }

// Bindings returns the incoming bindings in declaration order.
func (t *Task) Bindings() []Binding { return slices.Clone(t.bindings) }

// Parents returns the producers bound to this task.
func (t *Task) Parents() []ID { return slices.Clone(t.parents) }

// Children returns the consumers bound to this task.
func (t *Task) Children() []ID { return slices.Clone(t.children) }

// Waits returns the ordering-only predecessors.
func (t *Task) Waits() []ID { return slices.Clone(t.waits) }

// Outputs returns the computed output port values.
func (t *Task) Outputs() map[string][]string {
	out := make(map[string][]string, len(t.outputs))
	for port, values := range t.outputs {
		out[port] = slices.Clone(values)
	}
	return out
}

// Output returns the value a consumer receives from port: the computed
// output if the command was generated, else the raw parameter.
func (t *Task) Output(port string) ([]string, bool) {
	if values, ok := t.outputs[port]; ok {
		return slices.Clone(values), true
	}
	v, ok := t.params[port]
	if !ok || v == nil {
		return nil, false
	}
	values := toList(v)
	return values, len(values) > 0
}

// SetDeps normalizes every dependency into a binding. Nothing is recorded
// unless every dependency resolves.
func (t *Task) SetDeps(arena Arena, deps Deps) error {
	var pending []Binding
	for _, input := range deps.sortedPorts() {
		port := input
		if port == "" {
			unique, err := t.unit.UniqueInputPort()
			if err != nil {
				return fmt.Errorf("task: %s: %w", t.name, err)
			}
			port = unique
		} else if !t.unit.IsInputPort(port) {
			return fmt.Errorf("%w: %s has no input port %s", ErrUnknownPort, t.name, port)
		}
		for _, dep := range deps[input] {
			send, err := dep.resolvePort()
			if err != nil {
				return fmt.Errorf("task: %s: %w", t.name, err)
			}
			b := Binding{Producer: dep.producer.id, Port: send, Consumer: t.id, Input: port, Transform: dep.transform}
			if err := t.checkBinding(arena, b, pending); err != nil {
				return err
			}
			pending = append(pending, b)
		}
	}
	for _, b := range pending {
		t.link(arena.Task(b.Producer), b)
	}
	return nil
}

// SetDep adds one binding from producer's port to this task's input port.
// An empty port records an edge without data.
func (t *Task) SetDep(arena Arena, producer ID, port, input string, fn Transform) error {
	b := Binding{Producer: producer, Port: port, Consumer: t.id, Input: input, Transform: fn}
	if err := t.checkBinding(arena, b, nil); err != nil {
		return err
	}
	t.link(arena.Task(producer), b)
	return nil
}

func (t *Task) checkBinding(arena Arena, b Binding, pending []Binding) error {
	p := arena.Task(b.Producer)
	if p == nil {
		return fmt.Errorf("task: %s: unknown producer %d", t.name, b.Producer)
	}
	if p.id == t.id {
		return fmt.Errorf("task: %s cannot depend on itself", t.name)
	}
	same := func(o Binding) bool {
		return o.Producer == b.Producer && o.Port == b.Port && o.Input == b.Input
	}
	if slices.ContainsFunc(t.bindings, same) || slices.ContainsFunc(pending, same) {
		return fmt.Errorf("%w: %s.%s -> %s.%s", ErrDuplicateBinding, p.name, b.Port, t.name, b.Input)
	}
	return nil
}

func (t *Task) link(p *Task, b Binding) {
	t.bindings = append(t.bindings, b)
	if !slices.Contains(t.parents, p.id) {
		t.parents = append(t.parents, p.id)
	}
	if !slices.Contains(p.children, t.id) {
		p.children = append(p.children, t.id)
	}
}

// SetWaits records ordering-only predecessors.
func (t *Task) SetWaits(waits []*Task) error {
	for _, w := range waits {
		if w == nil {
			continue
		}
		if w.id == t.id {
			return fmt.Errorf("task: %s cannot wait on itself", t.name)
		}
		if !slices.Contains(t.waits, w.id) {
			t.waits = append(t.waits, w.id)
		}
	}
	return nil
}

// UpdateParams merges params. Existing values are replaced only when
// override is set.
func (t *Task) UpdateParams(params map[string]any, override bool) {
	for name, v := range params {
		if _, exists := t.params[name]; exists && !override {
			continue
		}
		t.params[name] = v
	}
}

// Restore sets the status recorded by a previous run.
func (t *Task) Restore(status Status) {
	t.status = status
	t.displayStatus = status
}

// Reset returns the task to waiting. The display status keeps previous so
// users can see what happened before the restart.
func (t *Task) Reset(previous Status) {
	t.status = StatusWaiting
	t.displayStatus = previous
	t.pid = 0
}

// MarkFailed records a failure that happened before the command could run.
func (t *Task) MarkFailed() {
	t.status = StatusFailed
	t.displayStatus = StatusFailed
}

// CleanOutputDir removes every entry of the output directory except the
// shell directory.
func (t *Task) CleanOutputDir() error {
	if t.sentinel {
		return nil
	}
	entries, err := os.ReadDir(t.outputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("task: %s: read output dir: %w", t.name, err)
	}
	for _, entry := range entries {
		if entry.Name() == ShellDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(t.outputDir, entry.Name())); err != nil {
			return fmt.Errorf("task: %s: clean %s: %w", t.name, entry.Name(), err)
		}
	}
	return nil
}
