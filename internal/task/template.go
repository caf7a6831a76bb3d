package task

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	envPattern    = regexp.MustCompile(`\$\{env:([^}]*)\}`)
	paramsPattern = regexp.MustCompile(`\$\{params:([^}]*)\}`)
	namePattern   = regexp.MustCompile(`\$\{([^}]*)\}`)
)

// Render substitutes ${env:KEY}, ${params:KEY} and ${Name} references.
// A name without a value is an error.
func (t *Task) Render(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	s = envPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := envPattern.FindStringSubmatch(m)[1]
		value, err := t.env.Raw(key)
		if err != nil {
			fail(fmt.Errorf("%w: %s: ${env:%s}: %v", ErrUnresolvedTemplate, t.name, key, err))
			return m
		}
		return value
	})
	s = paramsPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := paramsPattern.FindStringSubmatch(m)[1]
		v, ok := t.params[key]
		if !ok || v == nil {
			fail(fmt.Errorf("%w: %s: ${params:%s}", ErrUnresolvedTemplate, t.name, key))
			return m
		}
		return strings.Join(toList(v), " ")
	})
	var funcs []TemplateFunc
	s = namePattern.ReplaceAllStringFunc(s, func(m string) string {
		key := namePattern.FindStringSubmatch(m)[1]
		switch v := t.templates[key].(type) {
		case nil:
			fail(fmt.Errorf("%w: %s: ${%s}", ErrUnresolvedTemplate, t.name, key))
			return m
		case TemplateFunc:
			funcs = append(funcs, v)
			return m
		case func(string) string:
			funcs = append(funcs, v)
			return m
		default:
			return formatValue(v)
		}
	})
	if firstErr != nil {
		return "", firstErr
	}
	for _, fn := range funcs {
		s = fn(s)
	}
	return s, nil
}
