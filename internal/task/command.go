package task

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/syntax"

	"github.com/kingrea/flowgraph/internal/unit"
)

var (
	stdoutFlags = []string{">", ">>"}
	stderrFlags = []string{"2>", "2>>"}
	streamNames = []string{"&1", "stderr", "STDERR"}
)

// GenCommand renders the shell command of the task from its parameters and
// the values bound by its producers. Producers must have been generated
// first. With save set the command is written to the shell file.
func (t *Task) GenCommand(arena Arena, save bool) (string, error) {
	if t.sentinel {
		return "", nil
	}
	if err := t.receive(arena); err != nil {
		return "", err
	}
	if err := t.validateParams(); err != nil {
		return "", err
	}
	if err := t.resolveOutputParams(); err != nil {
		return "", err
	}
	main, computed, err := t.render()
	if err != nil {
		return "", err
	}
	shell := fmt.Sprintf("(%s) && (touch %s)", main, t.marker)
	if _, err := syntax.NewParser().Parse(strings.NewReader(shell), t.shellFile); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidCommand, t.name, err)
	}
	t.mainCmd = main
	t.shellCmd = shell
	if save {
		if err := t.saveCommand(); err != nil {
			return "", err
		}
	}
	if err := t.computeOutputs(computed); err != nil {
		return "", err
	}
	return shell, nil
}

// receive replaces every bound input parameter with the accumulated values
// of its producers.
func (t *Task) receive(arena Arena) error {
	received := map[string][]string{}
	var order []string
	for _, b := range t.bindings {
		if !b.Carries() {
			continue
		}
		producer := arena.Task(b.Producer)
		if producer == nil {
			return fmt.Errorf("task: %s: unknown producer %d", t.name, b.Producer)
		}
		values, ok := producer.Output(b.Port)
		if !ok {
			continue
		}
		if _, seen := received[b.Input]; !seen {
			order = append(order, b.Input)
		}
		for _, v := range values {
			if b.Transform != nil {
				v = b.Transform(v)
			}
			received[b.Input] = append(received[b.Input], v)
		}
	}
	for _, port := range order {
		t.params[port] = received[port]
	}
	return nil
}

func (t *Task) validateParams() error {
	for _, p := range t.unit.Params() {
		v, ok := t.params[p.Name]
		if p.Required && (!ok || isEmpty(v)) {
			return fmt.Errorf("%w: %s.%s", ErrMissingParam, t.name, p.Name)
		}
		if p.Type != unit.TypeChoices || !ok || isEmpty(v) {
			continue
		}
		s, err := toScalar(v)
		if err != nil {
			return fmt.Errorf("task: %s.%s: %w", t.name, p.Name, err)
		}
		if !slices.Contains(p.Choices, s) {
			return fmt.Errorf("%w: %s.%s = %q, allowed %v", ErrInvalidChoice, t.name, p.Name, s, p.Choices)
		}
	}
	return nil
}

// resolveOutputParams makes relative output paths absolute under the
// output directory.
func (t *Task) resolveOutputParams() error {
	for _, port := range t.unit.OutputPorts() {
		if _, ok := t.unit.Param(port); !ok {
			continue
		}
		v, ok := t.params[port]
		if !ok || isEmpty(v) {
			return fmt.Errorf("%w: %s: output %s has no value", ErrInvalidParam, t.name, port)
		}
		s, err := toScalar(v)
		if err != nil {
			return fmt.Errorf("task: %s.%s: %w", t.name, port, err)
		}
		if !keepsPath(s) {
			s = filepath.Join(t.outputDir, s)
		}
		t.params[port] = s
	}
	return nil
}

func keepsPath(s string) bool {
	return strings.HasPrefix(s, "#") || strings.HasPrefix(s, "/") || slices.Contains(streamNames, s)
}

func (t *Task) render() (string, map[string][]string, error) {
	executor, err := t.Render(t.env.Path(t.unit.Executor()))
	if err != nil {
		return "", nil, fmt.Errorf("task: %s executor: %w", t.name, err)
	}
	parts := []string{executor}
	if sub := t.unit.SubExecutor(); sub != "" {
		rendered, err := t.Render(sub)
		if err != nil {
			return "", nil, fmt.Errorf("task: %s sub-executor: %w", t.name, err)
		}
		parts = append(parts, rendered)
	}
	computed := map[string][]string{}
	var stdoutClause, stderrClause string
	for _, p := range t.unit.Params() {
		v, ok := t.params[p.Name]
		if !ok || isEmpty(v) {
			continue
		}
		wrap := func(err error) error { return fmt.Errorf("task: %s.%s: %w", t.name, p.Name, err) }
		switch {
		case p.Type == unit.TypeBool:
			on, err := toBool(v)
			if err != nil {
				return "", nil, wrap(err)
			}
			if on {
				parts = append(parts, p.Flag)
			}
			computed[p.Name] = []string{formatValue(on)}
		case p.Type == unit.TypeInt || p.Type == unit.TypeFloat:
			s, err := toScalar(v)
			if err != nil {
				return "", nil, wrap(err)
			}
			parts = append(parts, joinFlag(p.Flag, s))
			computed[p.Name] = []string{s}
		case slices.Contains(stdoutFlags, p.Flag), slices.Contains(stderrFlags, p.Flag):
			s, err := toScalar(v)
			if err != nil {
				return "", nil, wrap(err)
			}
			rendered, err := t.Render(s)
			if err != nil {
				return "", nil, err
			}
			if slices.Contains(stdoutFlags, p.Flag) {
				stdoutClause = p.Flag + rendered
			} else {
				stderrClause = p.Flag + rendered
			}
			computed[p.Name] = []string{rendered}
		case p.Type == unit.TypeList || p.Type == unit.TypeMVList || p.Type == unit.TypeMFList:
			items, err := t.renderAll(toList(v))
			if err != nil {
				return "", nil, err
			}
			if p.Type == unit.TypeMFList {
				for _, item := range items {
					parts = append(parts, joinFlag(p.Flag, item))
				}
			} else {
				parts = append(parts, joinFlag(p.Flag, strings.Join(items, " ")))
			}
			computed[p.Name] = items
		default:
			s, err := toScalar(v)
			if err != nil {
				return "", nil, wrap(err)
			}
			t.params[p.Name] = s
			rendered, err := t.Render(s)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, joinFlag(p.Flag, rendered))
			computed[p.Name] = []string{rendered}
		}
	}
	if stdoutClause != "" {
		parts = append(parts, stdoutClause)
	}
	if stderrClause != "" {
		parts = append(parts, stderrClause)
	}
	return strings.Join(parts, " "), computed, nil
}

func (t *Task) renderAll(values []string) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		rendered, err := t.Render(v)
		if err != nil {
			return nil, err
		}
		out[i] = rendered
	}
	return out, nil
}

func (t *Task) saveCommand() error {
	if err := os.MkdirAll(t.shellDir, 0o755); err != nil {
		return fmt.Errorf("task: %s: ensure shell dir: %w", t.name, err)
	}
	content := []byte(t.shellCmd + "\n")
	previous, err := os.ReadFile(t.shellFile)
	switch {
	case err == nil && !bytes.Equal(previous, content):
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(previous)),
			B:        difflib.SplitLines(string(content)),
			FromFile: "previous",
			ToFile:   "current",
			Context:  1,
		})
		t.log.Warn("command changed since the last generation",
			zap.String("task", t.name),
			zap.String("file", t.shellFile),
			zap.String("diff", diff),
		)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("task: %s: read shell file: %w", t.name, err)
	}
	if err := os.WriteFile(t.shellFile, content, 0o644); err != nil {
		return fmt.Errorf("task: %s: write shell file: %w", t.name, err)
	}
	return nil
}

func (t *Task) computeOutputs(computed map[string][]string) error {
	t.outputs = map[string][]string{}
	for _, port := range t.unit.OutputPorts() {
		if values, ok := computed[port]; ok {
			t.outputs[port] = values
			continue
		}
		if _, isParam := t.unit.Param(port); isParam {
			continue
		}
		tpl, ok := t.unit.OutputTemplate(port)
		if !ok || tpl == "" {
			continue
		}
		rendered, err := t.Render(tpl)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(rendered) {
			rendered = filepath.Join(t.outputDir, rendered)
		}
		t.outputs[port] = []string{rendered}
	}
	return nil
}
