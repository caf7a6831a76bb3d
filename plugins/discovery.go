package plugins

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/flowgraph/internal/unit"
)

// Discover scans the unit directories for YAML, JSON and Go definitions and
// returns the unit name → source path table a registry resolves through.
func Discover(dirs ...string) (map[string]string, error) {
	lookup := map[string]string{}
	for _, dir := range dirs {
		defs, err := loadAllDefinitionFiles(dir)
		if err != nil {
			return nil, err
		}
		for _, file := range defs {
			name := file.Definition.Name
			if existing, ok := lookup[name]; ok {
				return nil, fmt.Errorf("plugin: duplicate unit %s (%s and %s)", name, existing, file.Path)
			}
			lookup[name] = file.Path
		}
	}
	return lookup, nil
}

// NewRegistry discovers the units under dirs and returns a registry that
// loads them on first use.
func NewRegistry(dirs ...string) (*unit.Registry, error) {
	lookup, err := Discover(dirs...)
	if err != nil {
		return nil, err
	}
	return unit.NewRegistry(lookup, LoadUnit), nil
}

// LoadUnit reads the definition stored at path. It implements unit.Loader
// for the paths returned by Discover.
func LoadUnit(path string) (unit.Definition, error) {
	file, idx, ok := splitGoPath(path)
	if !ok {
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return unit.Definition{}, err
		}
		return def.Definition, nil
	}
	defs, err := loadGoDefinitionFile(file)
	if err != nil {
		return unit.Definition{}, err
	}
	if idx < 1 || idx > len(defs) {
		return unit.Definition{}, fmt.Errorf("plugin: %s defines %d units, no #%d", file, len(defs), idx)
	}
	return defs[idx-1].Definition, nil
}

func splitGoPath(path string) (string, int, bool) {
	cut := strings.LastIndex(path, "#")
	if cut < 0 || !strings.HasSuffix(path[:cut], ".go") {
		return "", 0, false
	}
	idx, err := strconv.Atoi(path[cut+1:])
	if err != nil {
		return "", 0, false
	}
	return path[:cut], idx, true
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}
