package workflow

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kingrea/flowgraph/internal/task"
)

// Fill colours per display status, shared with the terminal board.
var StatusColors = map[task.Status]string{
	task.StatusWaiting: "#CCCCCC",
	task.StatusRunning: "#5B8DEF",
	task.StatusSuccess: "#4CAF50",
	task.StatusFailed:  "#FF6B6B",
}

// WriteDOT renders the graph in Graphviz syntax. Data edges are solid and
// labelled with their ports, wait edges are dashed. With status set every
// node is filled by its display status.
func (g *Graph) WriteDOT(w io.Writer, status bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", strconv.Quote(g.name))
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, "  node [shape=box, style=\"rounded,filled\", fillcolor=\"#FFFFFF\"];")
	for _, t := range g.tasks {
		attrs := ""
		switch {
		case t.IsSentinel():
			attrs = ", shape=circle, fillcolor=\"#EEEEEE\""
		case status:
			attrs = fmt.Sprintf(", fillcolor=%q", StatusColors[t.DisplayStatus()])
		}
		label := t.Name()
		if !t.IsSentinel() {
			label += "\\n" + t.Unit().Name()
		}
		fmt.Fprintf(bw, "  %d [label=\"%s\"%s];\n", t.ID(), label, attrs)
	}
	for _, t := range g.tasks {
		for _, b := range t.Bindings() {
			if b.Carries() {
				fmt.Fprintf(bw, "  %d -> %d [label=%s];\n", b.Producer, b.Consumer, strconv.Quote(b.Port+" → "+b.Input))
			}
		}
		for _, p := range t.Parents() {
			if !hasDataEdge(t, p) {
				fmt.Fprintf(bw, "  %d -> %d [color=\"#999999\"];\n", p, t.ID())
			}
		}
		for _, w := range t.Waits() {
			fmt.Fprintf(bw, "  %d -> %d [style=dashed];\n", w, t.ID())
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func hasDataEdge(t *task.Task, producer task.ID) bool {
	for _, b := range t.Bindings() {
		if b.Producer == producer && b.Carries() {
			return true
		}
	}
	return false
}

// DrawStatus writes the status drawing next to the snapshot.
func (g *Graph) DrawStatus() error {
	return g.writeDOT(FileStatusDOT, true)
}

func (g *Graph) writeDOT(name string, status bool) error {
	path := filepath.Join(g.outputDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("workflow: create %s: %w", name, err)
	}
	if err := g.WriteDOT(f, status); err != nil {
		f.Close()
		return fmt.Errorf("workflow: write %s: %w", name, err)
	}
	return f.Close()
}
