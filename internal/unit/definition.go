package unit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the on-disk schema of a unit. Files under the units directory
// decode into this struct before Load turns them into an immutable Unit.
type Definition struct {
	Name        string            `json:"name" yaml:"name"`
	Executor    string            `json:"executor" yaml:"executor"`
	SubExecutor string            `json:"sub_executor,omitempty" yaml:"sub_executor,omitempty"`
	Params      []ParamDefinition `json:"params,omitempty" yaml:"params,omitempty"`
	Inputs      Ports             `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs     Ports             `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// ParamDefinition declares one command-line parameter of a unit.
type ParamDefinition struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Flag     string   `json:"flag,omitempty" yaml:"flag,omitempty"`
	LongFlag string   `json:"long_flag,omitempty" yaml:"long_flag,omitempty"`
	Default  any      `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Choices  []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// Port is a named entry of a unit's input or output map. For inputs Value is
// the default bound value, for outputs it is the path template.
type Port struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Ports keeps declaration order. In YAML it may be written either as a
// mapping (port: value) or as a sequence of {name, value} entries.
type Ports []Port

// UnmarshalYAML decodes a mapping in document order or a sequence of ports.
func (p *Ports) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		ports := make(Ports, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var value any
			if err := node.Content[i+1].Decode(&value); err != nil {
				return fmt.Errorf("unit: port %s: %w", node.Content[i].Value, err)
			}
			ports = append(ports, Port{Name: node.Content[i].Value, Value: value})
		}
		*p = ports
		return nil
	case yaml.SequenceNode:
		var ports []Port
		if err := node.Decode(&ports); err != nil {
			return err
		}
		*p = ports
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*p = nil
			return nil
		}
	}
	return fmt.Errorf("unit: ports must be a mapping or a list (line %d)", node.Line)
}

// MarshalYAML writes ports back as an ordered mapping.
func (p Ports) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, port := range p {
		value := &yaml.Node{}
		if err := value.Encode(port.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: port.Name}, value)
	}
	return node, nil
}

// Normalized returns a trimmed copy of the definition.
func (def Definition) Normalized() Definition {
	clone := Definition{
		Name:        strings.TrimSpace(def.Name),
		Executor:    strings.TrimSpace(def.Executor),
		SubExecutor: strings.TrimSpace(def.SubExecutor),
	}
	if len(def.Params) > 0 {
		clone.Params = make([]ParamDefinition, len(def.Params))
		for i, param := range def.Params {
			param.Name = strings.TrimSpace(param.Name)
			param.Type = strings.ToLower(strings.TrimSpace(param.Type))
			param.Flag = strings.TrimSpace(param.Flag)
			param.LongFlag = strings.TrimSpace(param.LongFlag)
			if len(param.Choices) > 0 {
				param.Choices = append([]string(nil), param.Choices...)
			}
			clone.Params[i] = param
		}
	}
	clone.Inputs = def.Inputs.normalized()
	clone.Outputs = def.Outputs.normalized()
	return clone
}

func (p Ports) normalized() Ports {
	if len(p) == 0 {
		return nil
	}
	out := make(Ports, len(p))
	for i, port := range p {
		out[i] = Port{Name: strings.TrimSpace(port.Name), Value: port.Value}
	}
	return out
}
