package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/flowgraph/internal/task"
)

// Generate wires the sentinels, renders every command in dependency order
// and persists the command list, the graph snapshot and its drawing.
func (g *Graph) Generate() error {
	if err := g.attachSentinels(); err != nil {
		return err
	}
	order, err := g.breadthFirstOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		t := g.tasks[id]
		if t.IsSentinel() {
			continue
		}
		if _, err := t.GenCommand(g, true); err != nil {
			return fmt.Errorf("workflow: generate %s: %w", t.Name(), err)
		}
	}
	g.order = order
	g.generated = true
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return fmt.Errorf("workflow: ensure output dir: %w", err)
	}
	if err := g.writeCommands(); err != nil {
		return err
	}
	if err := g.Save(); err != nil {
		return err
	}
	if err := g.writeMeta(); err != nil {
		return err
	}
	if err := g.writeDOT(FileGraphDOT, false); err != nil {
		return err
	}
	g.log.Info("graph generated",
		zap.String("graph", g.name),
		zap.String("run", g.runID),
		zap.Int("tasks", len(g.tasks)-2),
	)
	return nil
}

// attachSentinels binds tasks without producers to START and tasks without
// consumers to END. Graph inputs set through SetInput are bound to their
// port even when the task has other producers.
func (g *Graph) attachSentinels() error {
	start := g.Start()
	for _, t := range g.Tasks() {
		orphan := len(t.Parents()) == 0
		bound := map[string]bool{}
		for _, b := range t.Bindings() {
			bound[b.Input] = true
		}
		ports := t.Unit().InputPorts()
		for _, port := range ports {
			slot := InputSlot(t.Name(), port)
			_, mounted := start.Param(slot)
			if bound[port] || (!orphan && !mounted) {
				continue
			}
			if err := t.SetDep(g, StartID, slot, port, nil); err != nil {
				return fmt.Errorf("workflow: bind %s to START: %w", t.Name(), err)
			}
		}
		if orphan && len(ports) == 0 {
			if err := g.linkOnce(StartID, t); err != nil {
				return err
			}
		}
	}
	for _, t := range g.Tasks() {
		if len(t.Children()) == 0 {
			if err := g.linkOnce(t.ID(), g.End()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) linkOnce(producer task.ID, consumer *task.Task) error {
	if slices.Contains(consumer.Parents(), producer) {
		return nil
	}
	return consumer.SetDep(g, producer, "", "", nil)
}

// breadthFirstOrder walks the graph from START with an explicit worklist,
// releasing a task once all of its producers and waits are placed. Any task
// left over sits on a cycle.
func (g *Graph) breadthFirstOrder() ([]task.ID, error) {
	pending := make([]int, len(g.tasks))
	next := make([][]task.ID, len(g.tasks))
	for _, t := range g.tasks {
		preds := t.Parents()
		for _, w := range t.Waits() {
			if !slices.Contains(preds, w) {
				preds = append(preds, w)
			}
		}
		pending[t.ID()] = len(preds)
		for _, p := range preds {
			next[p] = append(next[p], t.ID())
		}
	}
	order := make([]task.ID, 0, len(g.tasks))
	queue := []task.ID{StartID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, c := range next[id] {
			pending[c]--
			if pending[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(order) != len(g.tasks) {
		var stuck []string
		for _, t := range g.tasks {
			if pending[t.ID()] > 0 {
				stuck = append(stuck, t.Name())
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// OrderedTasks returns the non-sentinel tasks in breadth-first dependency
// order: every producer precedes its consumers.
func (g *Graph) OrderedTasks() ([]*task.Task, error) {
	order := g.order
	if !g.generated {
		computed, err := g.breadthFirstOrder()
		if err != nil {
			return nil, err
		}
		order = computed
	}
	out := make([]*task.Task, 0, len(order))
	for _, id := range order {
		if t := g.tasks[id]; !t.IsSentinel() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *Graph) writeCommands() error {
	ordered, err := g.OrderedTasks()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, t := range ordered {
		fmt.Fprintf(&buf, "%s\t%s\n", t.Name(), t.MainCommand())
	}
	path := filepath.Join(g.outputDir, FileCommands)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("workflow: write %s: %w", FileCommands, err)
	}
	return nil
}
