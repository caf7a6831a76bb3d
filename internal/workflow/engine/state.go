package engine

import (
	"time"

	"github.com/kingrea/flowgraph/internal/task"
)

// Snapshot is the persisted progress of a run: the status and, when a
// process was started, the pid of every task keyed by task name.
type Snapshot struct {
	Status map[string]task.Status
	PIDs   map[string]int
}

// Progress describes the state after one tick. Reporters receive it.
type Progress struct {
	Tick     int
	At       time.Time
	Started  []string
	Finished map[string]task.Status
	Running  []string
	Counts   map[task.Status]int
	Status   task.Status
	Done     bool
}
