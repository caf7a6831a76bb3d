package scheduler

import (
	"errors"
	"fmt"

	"github.com/kingrea/flowgraph/internal/task"
)

// ErrFull is returned by Push when the queue is at capacity.
var ErrFull = errors.New("scheduler: queue is full")

// Queue is a FIFO of in-flight tasks bounded by its capacity.
type Queue struct {
	capacity int
	tasks    []*task.Task
}

// NewQueue returns an empty queue admitting at most capacity tasks.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("scheduler: capacity must be >= 1, got %d", capacity)
	}
	return &Queue{capacity: capacity, tasks: make([]*task.Task, 0, capacity)}, nil
}

// Capacity returns the maximum number of in-flight tasks.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the number of in-flight tasks.
func (q *Queue) Len() int { return len(q.tasks) }

// Spare returns how many more tasks may be admitted.
func (q *Queue) Spare() int { return q.capacity - len(q.tasks) }

// Push admits a task.
func (q *Queue) Push(t *task.Task) error {
	if q.Spare() <= 0 {
		return fmt.Errorf("%w (%d)", ErrFull, q.capacity)
	}
	q.tasks = append(q.tasks, t)
	return nil
}

// Drain removes the tasks for which done returns true and returns them.
// The remaining tasks keep their admission order.
func (q *Queue) Drain(done func(*task.Task) bool) []*task.Task {
	kept := q.tasks[:0]
	var dropped []*task.Task
	for _, t := range q.tasks {
		if !done(t) {
			kept = append(kept, t)
			continue
		}
		dropped = append(dropped, t)
	}
	clear(q.tasks[len(kept):])
	q.tasks = kept
	return dropped
}

// Tasks returns the in-flight tasks in admission order.
func (q *Queue) Tasks() []*task.Task {
	out := make([]*task.Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
