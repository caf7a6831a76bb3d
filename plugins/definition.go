package plugins

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/flowgraph/internal/unit"
)

// DefinitionFile pairs a parsed unit definition with its on-disk source.
// Definitions produced by a Go file carry a "#n" suffix naming their
// position in the returned slice.
type DefinitionFile struct {
	Definition unit.Definition
	Path       string
}

// ParseDefinitionYAML decodes and validates a single unit definition. JSON
// payloads are accepted as well since they are valid YAML.
func ParseDefinitionYAML(data []byte) (unit.Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return unit.Definition{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def unit.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return unit.Definition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	def = def.Normalized()
	if _, err := unit.Load(def); err != nil {
		return unit.Definition{}, err
	}
	return def, nil
}
