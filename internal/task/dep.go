package task

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Transform rewrites one value flowing across a binding.
type Transform func(string) string

// Binding is a directed data edge from a producer's output port to a
// consumer's input port. Bindings with an empty Port carry no data and only
// record the edge.
type Binding struct {
	Producer  ID
	Port      string
	Consumer  ID
	Input     string
	Transform Transform
}

// Carries reports whether the binding moves a value.
func (b Binding) Carries() bool {
	return b.Port != "" && b.Input != ""
}

type depKind int

const (
	depDirect depKind = iota
	depWithPort
	depWithPortAndTransform
)

// Dep declares where an input value comes from. Build one with Direct,
// WithPort or WithPortAndTransform.
type Dep struct {
	kind      depKind
	producer  *Task
	port      string
	transform Transform
}

// Direct binds the producer's unique output port.
func Direct(producer *Task) Dep {
	return Dep{kind: depDirect, producer: producer}
}

// WithPort binds a named output port of the producer.
func WithPort(producer *Task, port string) Dep {
	return Dep{kind: depWithPort, producer: producer, port: port}
}

// WithPortAndTransform binds a named output port and rewrites every value
// with fn before it reaches the consumer.
func WithPortAndTransform(producer *Task, port string, fn Transform) Dep {
	return Dep{kind: depWithPortAndTransform, producer: producer, port: port, transform: fn}
}

// Producer returns the upstream task.
func (d Dep) Producer() *Task { return d.producer }

// Port returns the explicitly named port, empty for Direct.
func (d Dep) Port() string { return d.port }

// Deps maps consumer input ports to their dependencies. The empty key stands
// for the consumer's unique input port.
type Deps map[string][]Dep

func (d Deps) sortedPorts() []string {
	ports := make([]string, 0, len(d))
	for port := range d {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

func (d Dep) resolvePort() (string, error) {
	if d.producer == nil {
		return "", fmt.Errorf("task: dependency has no producer")
	}
	if d.kind == depDirect {
		if d.producer.sentinel {
			return "", fmt.Errorf("%w: direct dependency on %s needs a port", ErrUnknownPort, d.producer.name)
		}
		return d.producer.unit.UniqueOutputPort()
	}
	if d.port == "" {
		return "", fmt.Errorf("%w: empty port on %s", ErrUnknownPort, d.producer.name)
	}
	if !d.producer.sentinel && !d.producer.unit.IsOutputPort(d.port) {
		return "", fmt.Errorf("%w: %s has no output port %s", ErrUnknownPort, d.producer.name, d.port)
	}
	return d.port, nil
}

// ParseTransform resolves a built-in transform by name: basename, dirname,
// stem, or a template where {} is the value, {base} its base name and {dir}
// its directory.
func ParseTransform(spec string) (Transform, bool) {
	switch strings.TrimSpace(spec) {
	case "":
		return nil, false
	case "basename":
		return filepath.Base, true
	case "dirname":
		return filepath.Dir, true
	case "stem":
		return func(v string) string {
			base := filepath.Base(v)
			return strings.TrimSuffix(base, filepath.Ext(base))
		}, true
	}
	if !strings.Contains(spec, "{") {
		return nil, false
	}
	return func(v string) string {
		r := strings.NewReplacer("{}", v, "{base}", filepath.Base(v), "{dir}", filepath.Dir(v))
		return r.Replace(spec)
	}, true
}
