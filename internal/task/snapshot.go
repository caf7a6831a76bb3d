package task

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/kingrea/flowgraph/internal/unit"
)

// Snapshot is the persisted form of a generated task. Transforms are not
// kept: a restored task already carries its rendered command.
type Snapshot struct {
	ID          ID                  `json:"id"`
	Name        string              `json:"name"`
	Sentinel    bool                `json:"sentinel,omitempty"`
	Unit        *unit.Definition    `json:"unit,omitempty"`
	WorkingDir  string              `json:"working_dir,omitempty"`
	Params      map[string]any      `json:"params,omitempty"`
	Command     string              `json:"command,omitempty"`
	MainCommand string              `json:"main_command,omitempty"`
	Outputs     map[string][]string `json:"outputs,omitempty"`
	Bindings    []BindingSnapshot   `json:"bindings,omitempty"`
	Parents     []ID                `json:"parents,omitempty"`
	Children    []ID                `json:"children,omitempty"`
	Waits       []ID                `json:"waits,omitempty"`
}

// BindingSnapshot is the persisted form of a Binding.
type BindingSnapshot struct {
	Producer ID     `json:"producer"`
	Port     string `json:"port,omitempty"`
	Input    string `json:"input,omitempty"`
}

// Snapshot captures the task structure and generated command.
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		ID:          t.id,
		Name:        t.name,
		Sentinel:    t.sentinel,
		WorkingDir:  t.workingDir,
		Params:      maps.Clone(t.params),
		Command:     t.shellCmd,
		MainCommand: t.mainCmd,
		Outputs:     t.Outputs(),
		Parents:     slices.Clone(t.parents),
		Children:    slices.Clone(t.children),
		Waits:       slices.Clone(t.waits),
	}
	if t.unit != nil {
		def := t.unit.Definition()
		s.Unit = &def
	}
	for _, b := range t.bindings {
		s.Bindings = append(s.Bindings, BindingSnapshot{Producer: b.Producer, Port: b.Port, Input: b.Input})
	}
	return s
}

// FromSnapshot rebuilds a task persisted by Snapshot.
func FromSnapshot(s Snapshot, env Env, logger *zap.Logger) (*Task, error) {
	var t *Task
	if s.Sentinel {
		t = NewSentinel(s.ID, s.Name)
	} else {
		if s.Unit == nil {
			return nil, fmt.Errorf("task: snapshot of %s has no unit", s.Name)
		}
		u, err := unit.Load(*s.Unit)
		if err != nil {
			return nil, fmt.Errorf("task: snapshot of %s: %w", s.Name, err)
		}
		t, err = New(Config{ID: s.ID, Name: s.Name, Unit: u, WorkingDir: s.WorkingDir, Env: env, Logger: logger})
		if err != nil {
			return nil, err
		}
		t.params = map[string]any{}
	}
	maps.Copy(t.params, s.Params)
	t.shellCmd = s.Command
	t.mainCmd = s.MainCommand
	if len(s.Outputs) > 0 {
		t.outputs = make(map[string][]string, len(s.Outputs))
		for port, values := range s.Outputs {
			t.outputs[port] = slices.Clone(values)
		}
	}
	for _, b := range s.Bindings {
		t.bindings = append(t.bindings, Binding{Producer: b.Producer, Port: b.Port, Consumer: s.ID, Input: b.Input})
	}
	t.parents = slices.Clone(s.Parents)
	t.children = slices.Clone(s.Children)
	t.waits = slices.Clone(s.Waits)
	return t, nil
}
