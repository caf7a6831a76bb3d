package unit

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidDefinition wraps every validation failure raised by Load.
	ErrInvalidDefinition = errors.New("unit: invalid definition")
	// ErrAmbiguousPort is returned when a unique port is requested but the
	// unit declares more than one candidate.
	ErrAmbiguousPort = errors.New("unit: ambiguous port")
	// ErrNoPort is returned when a unique port is requested but none exists.
	ErrNoPort = errors.New("unit: no port")
)

// Stream output ports synthesized for every unit.
const (
	PortStdout = "STDOUT"
	PortStderr = "STDERR"
)

// ParamType enumerates the rendering rules for a parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInt     ParamType = "int"
	TypeFloat   ParamType = "float"
	TypeBool    ParamType = "bool"
	TypeList    ParamType = "list"
	TypeMFList  ParamType = "mflist"
	TypeMVList  ParamType = "mvlist"
	TypeChoices ParamType = "choices"
)

var typeAliases = map[string]ParamType{
	"":                 TypeString,
	"str":              TypeString,
	"string":           TypeString,
	"int":              TypeInt,
	"integer":          TypeInt,
	"float":            TypeFloat,
	"bool":             TypeBool,
	"boolean":          TypeBool,
	"list":             TypeList,
	"mflist":           TypeMFList,
	"multi-flag-list":  TypeMFList,
	"mvlist":           TypeMVList,
	"multi-value-list": TypeMVList,
	"choices":          TypeChoices,
	"choice":           TypeChoices,
}

// ParseParamType resolves a declared type name, including its aliases.
func ParseParamType(name string) (ParamType, bool) {
	t, ok := typeAliases[name]
	return t, ok
}

// Param is a validated parameter of a unit.
type Param struct {
	Name       string
	Type       ParamType
	Flag       string
	Default    any
	HasDefault bool
	Required   bool
	Choices    []string
}

// Positional reports whether the parameter renders without a flag.
func (p Param) Positional() bool {
	return p.Flag == ""
}

// Unit is an immutable template for a command-line program.
type Unit struct {
	def      Definition
	params   []Param
	paramIdx map[string]int
	inputs   Ports
	outputs  Ports
}

// Load validates a definition and materializes it as a Unit.
func Load(def Definition) (*Unit, error) {
	def = def.Normalized()
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.Executor == "" {
		return nil, fmt.Errorf("%w: %s: executor is required", ErrInvalidDefinition, def.Name)
	}
	u := &Unit{def: def, paramIdx: make(map[string]int, len(def.Params))}
	for _, pd := range def.Params {
		param, err := loadParam(def.Name, pd)
		if err != nil {
			return nil, err
		}
		if _, dup := u.paramIdx[param.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate parameter %s", ErrInvalidDefinition, def.Name, param.Name)
		}
		u.paramIdx[param.Name] = len(u.params)
		u.params = append(u.params, param)
	}
	var err error
	if u.inputs, err = uniquePorts(def.Name, "input", def.Inputs); err != nil {
		return nil, err
	}
	if u.outputs, err = uniquePorts(def.Name, "output", def.Outputs); err != nil {
		return nil, err
	}
	for _, name := range []string{PortStdout, PortStderr} {
		if !u.IsOutputPort(name) {
			suffix := ".stdout"
			if name == PortStderr {
				suffix = ".stderr"
			}
			u.outputs = append(u.outputs, Port{Name: name, Value: "${StdxxxDir}/${TaskName}" + suffix})
		}
	}
	return u, nil
}

func loadParam(unitName string, pd ParamDefinition) (Param, error) {
	if pd.Name == "" {
		return Param{}, fmt.Errorf("%w: %s: parameter name is required", ErrInvalidDefinition, unitName)
	}
	t, ok := ParseParamType(pd.Type)
	if !ok {
		return Param{}, fmt.Errorf("%w: %s: parameter %s has unknown type %q", ErrInvalidDefinition, unitName, pd.Name, pd.Type)
	}
	flag := pd.Flag
	if flag == "" {
		flag = pd.LongFlag
	}
	param := Param{
		Name:       pd.Name,
		Type:       t,
		Flag:       flag,
		Default:    pd.Default,
		HasDefault: pd.Default != nil,
		Required:   pd.Required,
		Choices:    pd.Choices,
	}
	switch t {
	case TypeChoices:
		if len(pd.Choices) == 0 {
			return Param{}, fmt.Errorf("%w: %s: parameter %s needs a choices list", ErrInvalidDefinition, unitName, pd.Name)
		}
	case TypeBool:
		if flag == "" {
			return Param{}, fmt.Errorf("%w: %s: boolean parameter %s needs a flag", ErrInvalidDefinition, unitName, pd.Name)
		}
	}
	return param, nil
}

func uniquePorts(unitName, kind string, ports Ports) (Ports, error) {
	seen := make(map[string]struct{}, len(ports))
	for _, port := range ports {
		if port.Name == "" {
			return nil, fmt.Errorf("%w: %s: %s port name is required", ErrInvalidDefinition, unitName, kind)
		}
		if _, dup := seen[port.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate %s port %s", ErrInvalidDefinition, unitName, kind, port.Name)
		}
		seen[port.Name] = struct{}{}
	}
	return slices.Clone(ports), nil
}

// Name returns the unit name.
func (u *Unit) Name() string { return u.def.Name }

// Executor returns the program to run.
func (u *Unit) Executor() string { return u.def.Executor }

// SubExecutor returns the optional sub-command placed after the executor.
func (u *Unit) SubExecutor() string { return u.def.SubExecutor }

// Params returns the parameters in declaration order.
func (u *Unit) Params() []Param { return slices.Clone(u.params) }

// Param looks up a parameter by name.
func (u *Unit) Param(name string) (Param, bool) {
	idx, ok := u.paramIdx[name]
	if !ok {
		return Param{}, false
	}
	return u.params[idx], true
}

// Definition returns the normalized definition the unit was loaded from.
func (u *Unit) Definition() Definition { return u.def }

// InputPorts lists input port names in declaration order.
func (u *Unit) InputPorts() []string { return portNames(u.inputs) }

// OutputPorts lists output port names, synthesized stream ports last.
func (u *Unit) OutputPorts() []string { return portNames(u.outputs) }

// IsInputPort reports whether name is a declared input port.
func (u *Unit) IsInputPort(name string) bool { return findPort(u.inputs, name) >= 0 }

// IsOutputPort reports whether name is an output port.
func (u *Unit) IsOutputPort(name string) bool { return findPort(u.outputs, name) >= 0 }

// InputDefault returns the default value bound to an input port.
func (u *Unit) InputDefault(name string) (any, bool) {
	idx := findPort(u.inputs, name)
	if idx < 0 {
		return nil, false
	}
	return u.inputs[idx].Value, true
}

// OutputTemplate returns the path template of an output port.
func (u *Unit) OutputTemplate(name string) (string, bool) {
	idx := findPort(u.outputs, name)
	if idx < 0 {
		return "", false
	}
	tpl, ok := u.outputs[idx].Value.(string)
	return tpl, ok
}

// UniqueInputPort returns the only input port of the unit.
func (u *Unit) UniqueInputPort() (string, error) {
	return unique(u.def.Name, "input", portNames(u.inputs))
}

// UniqueOutputPort returns the only output port of the unit. The synthesized
// stream ports only count when nothing else is declared.
func (u *Unit) UniqueOutputPort() (string, error) {
	var declared []string
	for _, name := range portNames(u.outputs) {
		if name != PortStdout && name != PortStderr {
			declared = append(declared, name)
		}
	}
	if len(declared) == 0 {
		declared = []string{PortStdout}
	}
	return unique(u.def.Name, "output", declared)
}

func unique(unitName, kind string, names []string) (string, error) {
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: %s has no %s port", ErrNoPort, unitName, kind)
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("%w: %s has %d %s ports %v", ErrAmbiguousPort, unitName, len(names), kind, names)
	}
}

func portNames(ports Ports) []string {
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.Name
	}
	return names
}

func findPort(ports Ports, name string) int {
	for i, port := range ports {
		if port.Name == name {
			return i
		}
	}
	return -1
}
