package unit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownUnit is returned when a name is absent from the lookup table.
var ErrUnknownUnit = errors.New("unit: unknown unit")

// Loader reads the definition stored at path.
type Loader func(path string) (Definition, error)

// Registry resolves unit names to loaded units. Definitions are read from
// disk the first time a name is requested and cached afterwards.
type Registry struct {
	mu     sync.RWMutex
	lookup map[string]string
	load   Loader
	units  map[string]*Unit
}

// NewRegistry returns a registry backed by a name → file lookup table.
func NewRegistry(lookup map[string]string, load Loader) *Registry {
	table := make(map[string]string, len(lookup))
	for name, path := range lookup {
		table[name] = path
	}
	return &Registry{lookup: table, load: load, units: map[string]*Unit{}}
}

// Get returns the unit registered under name, loading it on first use.
func (r *Registry) Get(name string) (*Unit, error) {
	r.mu.RLock()
	u, ok := r.units[name]
	path, known := r.lookup[name]
	r.mu.RUnlock()
	if ok {
		return u, nil
	}
	if !known || r.load == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, name)
	}
	def, err := r.load(path)
	if err != nil {
		return nil, fmt.Errorf("unit: load %s from %s: %w", name, path, err)
	}
	if def.Name == "" {
		def.Name = name
	}
	loaded, err := Load(def)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.units[name]; ok {
		return existing, nil
	}
	r.units[name] = loaded
	return loaded, nil
}

// Register materializes a definition directly. The first unit registered
// under a name wins; later calls return the cached unit.
func (r *Registry) Register(def Definition) (*Unit, error) {
	loaded, err := Load(def)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.units[loaded.Name()]; ok {
		return existing, nil
	}
	r.units[loaded.Name()] = loaded
	return loaded, nil
}

// Names returns every known unit name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.lookup)+len(r.units))
	for name := range r.lookup {
		seen[name] = struct{}{}
	}
	for name := range r.units {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the file a name resolves to, if any.
func (r *Registry) Path(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.lookup[name]
	return path, ok
}
