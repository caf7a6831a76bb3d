package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/flowgraph/internal/task"
)

// ErrSnapshotNotFound is returned by Load when no graph was generated in
// the directory.
var ErrSnapshotNotFound = errors.New("workflow: graph snapshot not found")

type snapshot struct {
	Name      string          `json:"name"`
	RunID     string          `json:"run_id"`
	OutputDir string          `json:"output_dir"`
	Order     []task.ID       `json:"order"`
	Tasks     []task.Snapshot `json:"tasks"`
}

// Meta summarizes a generated graph for humans and external tools.
type Meta struct {
	Name      string     `json:"name"`
	RunID     string     `json:"run_id"`
	Generated time.Time  `json:"generated"`
	Tasks     []MetaTask `json:"tasks"`
}

// MetaTask describes one task inside Meta.
type MetaTask struct {
	Name      string              `json:"name"`
	Unit      string              `json:"unit"`
	OutputDir string              `json:"output_dir"`
	Outputs   map[string][]string `json:"outputs,omitempty"`
	Params    map[string]any      `json:"params,omitempty"`
}

// Save writes the structural snapshot used by Load.
func (g *Graph) Save() error {
	snap := snapshot{
		Name:      g.name,
		RunID:     g.runID,
		OutputDir: g.outputDir,
		Order:     g.order,
	}
	for _, t := range g.tasks {
		snap.Tasks = append(snap.Tasks, t.Snapshot())
	}
	return writeJSON(filepath.Join(g.outputDir, FileSnapshot), snap)
}

func (g *Graph) writeMeta() error {
	meta := Meta{Name: g.name, RunID: g.runID, Generated: time.Now().UTC()}
	ordered, err := g.OrderedTasks()
	if err != nil {
		return err
	}
	for _, t := range ordered {
		meta.Tasks = append(meta.Tasks, MetaTask{
			Name:      t.Name(),
			Unit:      t.Unit().Name(),
			OutputDir: t.OutputDir(),
			Outputs:   t.Outputs(),
			Params:    t.Params(),
		})
	}
	return writeJSON(filepath.Join(g.outputDir, FileMeta), meta)
}

// Load rebuilds a generated graph from the snapshot in outputDir. The
// declaration is not needed: every task carries its rendered command.
func Load(outputDir string, opts ...Option) (*Graph, error) {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("workflow: output dir: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(abs, FileSnapshot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrSnapshotNotFound, abs)
		}
		return nil, fmt.Errorf("workflow: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("workflow: decode snapshot: %w", err)
	}
	g, err := New(snap.Name, abs, append(opts, WithRunID(snap.RunID))...)
	if err != nil {
		return nil, err
	}
	g.tasks = make([]*task.Task, len(snap.Tasks))
	for i, ts := range snap.Tasks {
		if int(ts.ID) != i {
			return nil, fmt.Errorf("workflow: snapshot task %s has id %d at index %d", ts.Name, ts.ID, i)
		}
		t, err := task.FromSnapshot(ts, g.env, g.log)
		if err != nil {
			return nil, err
		}
		g.tasks[i] = t
		g.byName[t.Name()] = t.ID()
	}
	if len(g.tasks) < 2 || !g.tasks[StartID].IsSentinel() || !g.tasks[EndID].IsSentinel() {
		return nil, fmt.Errorf("workflow: snapshot in %s lacks sentinels", abs)
	}
	g.order = snap.Order
	g.generated = len(snap.Order) == len(g.tasks)
	return g, nil
}

func writeJSON(path string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("workflow: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
