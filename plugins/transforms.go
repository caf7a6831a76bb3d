package plugins

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/kingrea/flowgraph/internal/task"
)

const transformsFuncName = "Transforms"

// LoadTransforms interprets a Go script exposing
//
//	func Transforms() map[string]func(string) string
//
// and returns the named value transforms it declares.
func LoadTransforms(path string) (map[string]task.Transform, error) {
	fn, err := evalSymbol(path, transformsFuncName)
	if err != nil {
		return nil, err
	}
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 0 || fn.Type().NumOut() != 1 {
		return nil, fmt.Errorf("plugin: %s: %s must be func() map[string]func(string) string", path, transformsFuncName)
	}
	table := fn.Call(nil)[0]
	if table.Kind() != reflect.Map || table.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("plugin: %s: %s must return a map keyed by name", path, transformsFuncName)
	}
	out := make(map[string]task.Transform, table.Len())
	iter := table.MapRange()
	for iter.Next() {
		name := iter.Key().String()
		value := iter.Value()
		if value.Kind() == reflect.Interface {
			value = value.Elem()
		}
		if value.Kind() != reflect.Func || value.IsNil() {
			return nil, fmt.Errorf("plugin: %s: transform %s is not a function", path, name)
		}
		ft := value.Type()
		if ft.NumIn() != 1 || ft.In(0).Kind() != reflect.String || ft.NumOut() != 1 || ft.Out(0).Kind() != reflect.String {
			return nil, fmt.Errorf("plugin: %s: transform %s must be func(string) string", path, name)
		}
		out[name] = func(s string) string {
			return value.Call([]reflect.Value{reflect.ValueOf(s)})[0].String()
		}
	}
	return out, nil
}

// TransformNames lists the keys of a transform table, sorted.
func TransformNames(table map[string]task.Transform) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
