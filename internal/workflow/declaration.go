package workflow

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/unit"
)

// Declaration is the YAML form of a graph: named inputs, graph-level
// parameters and a flat list of tasks.
type Declaration struct {
	Name       string                    `json:"name" yaml:"name"`
	Inputs     map[string]any            `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Params     map[string]map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Transforms string                    `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Tasks      []TaskDeclaration         `json:"tasks" yaml:"tasks"`
}

// TaskDeclaration declares one task of a graph.
type TaskDeclaration struct {
	Name       string            `json:"name" yaml:"name"`
	Unit       string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	Definition *unit.Definition  `json:"definition,omitempty" yaml:"definition,omitempty"`
	Params     map[string]any    `json:"params,omitempty" yaml:"params,omitempty"`
	Templates  map[string]string `json:"templates,omitempty" yaml:"templates,omitempty"`
	Deps       DepDeclarations   `json:"deps,omitempty" yaml:"deps,omitempty"`
	Waits      []string          `json:"waits,omitempty" yaml:"waits,omitempty"`
}

// DepDeclaration points at either a producer task or a graph input.
type DepDeclaration struct {
	Task      string `json:"task,omitempty" yaml:"task,omitempty"`
	Input     string `json:"input,omitempty" yaml:"input,omitempty"`
	Port      string `json:"port,omitempty" yaml:"port,omitempty"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// UnmarshalYAML accepts a bare task name as shorthand for {task: name}.
func (d *DepDeclaration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Task = strings.TrimSpace(node.Value)
		return nil
	}
	type plain DepDeclaration
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = DepDeclaration(p)
	return nil
}

// DepDeclarations maps input ports to dependencies. A plain list binds the
// consumer's unique input port and is stored under the empty key.
type DepDeclarations map[string][]DepDeclaration

// UnmarshalYAML decodes either a list or a port → dependencies mapping whose
// values may be a single dependency or a list.
func (d *DepDeclarations) UnmarshalYAML(node *yaml.Node) error {
	out := DepDeclarations{}
	switch node.Kind {
	case yaml.SequenceNode:
		var deps []DepDeclaration
		if err := node.Decode(&deps); err != nil {
			return err
		}
		out[""] = deps
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			port := node.Content[i].Value
			value := node.Content[i+1]
			var deps []DepDeclaration
			if value.Kind == yaml.SequenceNode {
				if err := value.Decode(&deps); err != nil {
					return fmt.Errorf("workflow: deps %s: %w", port, err)
				}
			} else {
				var dep DepDeclaration
				if err := value.Decode(&dep); err != nil {
					return fmt.Errorf("workflow: deps %s: %w", port, err)
				}
				deps = []DepDeclaration{dep}
			}
			out[port] = append(out[port], deps...)
		}
	default:
		return fmt.Errorf("workflow: deps must be a list or a mapping (line %d)", node.Line)
	}
	*d = out
	return nil
}

// Validate checks names and references without resolving units.
func (decl Declaration) Validate() error {
	if strings.TrimSpace(decl.Name) == "" {
		return fmt.Errorf("workflow: graph name is required")
	}
	if len(decl.Tasks) == 0 {
		return fmt.Errorf("workflow %s: at least one task is required", decl.Name)
	}
	seen := map[string]struct{}{task.StartName: {}, task.EndName: {}}
	for idx, td := range decl.Tasks {
		if td.Name == "" {
			return fmt.Errorf("workflow %s task[%d]: name is required", decl.Name, idx)
		}
		if _, dup := seen[td.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, td.Name)
		}
		seen[td.Name] = struct{}{}
		if td.Unit == "" && td.Definition == nil {
			return fmt.Errorf("workflow %s task %s: unit or definition is required", decl.Name, td.Name)
		}
	}
	for _, td := range decl.Tasks {
		for port, deps := range td.Deps {
			for _, dep := range deps {
				switch {
				case (dep.Task == "") == (dep.Input == ""):
					return fmt.Errorf("workflow %s task %s deps %q: exactly one of task or input is required", decl.Name, td.Name, port)
				case isSentinelName(dep.Task):
					return fmt.Errorf("workflow %s task %s: cannot depend on %s", decl.Name, td.Name, dep.Task)
				case dep.Task != "":
					if _, ok := seen[dep.Task]; !ok {
						return fmt.Errorf("%w: %s depends on %s", ErrUnknownTask, td.Name, dep.Task)
					}
				default:
					if _, ok := decl.Inputs[dep.Input]; !ok {
						return fmt.Errorf("workflow %s task %s: unknown input %s", decl.Name, td.Name, dep.Input)
					}
				}
			}
		}
		for _, w := range td.Waits {
			if isSentinelName(w) {
				return fmt.Errorf("workflow %s task %s: cannot wait on %s", decl.Name, td.Name, w)
			}
			if _, ok := seen[w]; !ok {
				return fmt.Errorf("%w: %s waits on %s", ErrUnknownTask, td.Name, w)
			}
		}
	}
	return nil
}

func isSentinelName(name string) bool {
	return name == task.StartName || name == task.EndName
}

// ParseDeclarationYAML decodes and validates a graph declaration.
func ParseDeclarationYAML(data []byte) (Declaration, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Declaration{}, fmt.Errorf("workflow: declaration payload is empty")
	}
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return Declaration{}, fmt.Errorf("workflow: decode declaration: %w", err)
	}
	if err := decl.Validate(); err != nil {
		return Declaration{}, err
	}
	return decl, nil
}

// LoadDeclarationFile reads a graph declaration from disk.
func LoadDeclarationFile(path string) (Declaration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Declaration{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	decl, err := ParseDeclarationYAML(content)
	if err != nil {
		return Declaration{}, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return decl, nil
}

// Build creates the declared inputs and tasks in g. Tasks are created as
// soon as every task they reference exists, so declaration order does not
// matter. Named transforms come from scripts first, then the built-ins.
func (decl Declaration) Build(g *Graph, transforms map[string]task.Transform) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	g.defaultParams(decl.Params)
	keys := make([]string, 0, len(decl.Inputs))
	for key := range decl.Inputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := g.AddInput(key, decl.Inputs[key]); err != nil {
			return err
		}
	}
	remaining := decl.Tasks
	for len(remaining) > 0 {
		var blocked []TaskDeclaration
		for _, td := range remaining {
			if !decl.resolvable(g, td) {
				blocked = append(blocked, td)
				continue
			}
			spec, err := decl.taskSpec(g, td, transforms)
			if err != nil {
				return err
			}
			if _, err := g.CreateTask(spec); err != nil {
				return err
			}
		}
		if len(blocked) == len(remaining) {
			names := make([]string, len(blocked))
			for i, td := range blocked {
				names[i] = td.Name
			}
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(names, ", "))
		}
		remaining = blocked
	}
	return nil
}

func (decl Declaration) resolvable(g *Graph, td TaskDeclaration) bool {
	for _, deps := range td.Deps {
		for _, dep := range deps {
			if dep.Task == "" {
				continue
			}
			if _, ok := g.Lookup(dep.Task); !ok {
				return false
			}
		}
	}
	for _, w := range td.Waits {
		if _, ok := g.Lookup(w); !ok {
			return false
		}
	}
	return true
}

func (decl Declaration) taskSpec(g *Graph, td TaskDeclaration, transforms map[string]task.Transform) (TaskSpec, error) {
	spec := TaskSpec{
		Name:       td.Name,
		Unit:       td.Unit,
		Definition: td.Definition,
		Params:     td.Params,
		Deps:       task.Deps{},
	}
	if len(td.Templates) > 0 {
		spec.Templates = make(map[string]any, len(td.Templates))
		for k, v := range td.Templates {
			spec.Templates[k] = v
		}
	}
	for port, deps := range td.Deps {
		for _, dd := range deps {
			dep, err := decl.dep(g, dd, transforms)
			if err != nil {
				return TaskSpec{}, fmt.Errorf("workflow: task %s: %w", td.Name, err)
			}
			spec.Deps[port] = append(spec.Deps[port], dep)
		}
	}
	for _, w := range td.Waits {
		t, _ := g.Lookup(w)
		spec.Waits = append(spec.Waits, t)
	}
	return spec, nil
}

func (decl Declaration) dep(g *Graph, dd DepDeclaration, transforms map[string]task.Transform) (task.Dep, error) {
	producer, port := g.Start(), dd.Input
	if dd.Task != "" {
		producer, _ = g.Lookup(dd.Task)
		port = dd.Port
		if producer == nil || producer.IsSentinel() {
			return task.Dep{}, fmt.Errorf("%w: %s", ErrUnknownTask, dd.Task)
		}
	}
	if dd.Transform == "" {
		if port == "" {
			return task.Direct(producer), nil
		}
		return task.WithPort(producer, port), nil
	}
	fn, ok := transforms[dd.Transform]
	if !ok {
		if fn, ok = task.ParseTransform(dd.Transform); !ok {
			return task.Dep{}, fmt.Errorf("unknown transform %q", dd.Transform)
		}
	}
	if port == "" {
		unique, err := producer.Unit().UniqueOutputPort()
		if err != nil {
			return task.Dep{}, err
		}
		port = unique
	}
	return task.WithPortAndTransform(producer, port, fn), nil
}
