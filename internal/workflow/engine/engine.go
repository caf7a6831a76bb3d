package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/kingrea/flowgraph/internal/task"
	"github.com/kingrea/flowgraph/internal/workflow"
	"github.com/kingrea/flowgraph/internal/workflow/scheduler"
)

// DefaultInterval is the pause between two ticks.
const DefaultInterval = 5 * time.Second

// Reporter observes the progress of every tick.
type Reporter interface {
	Report(g *workflow.Graph, p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(g *workflow.Graph, p Progress)

// Report implements Reporter.
func (f ReporterFunc) Report(g *workflow.Graph, p Progress) { f(g, p) }

// Engine polls one graph until nothing is left to run.
type Engine struct {
	graph     *workflow.Graph
	repo      StateStore
	queue     *scheduler.Queue
	capacity  int
	interval  time.Duration
	log       *zap.Logger
	reporters []Reporter
	clock     func() time.Time
	lock      *flock.Flock

	ticks       int
	lastFetched int
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithCapacity caps the number of tasks running at once.
func WithCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// WithInterval sets the pause between ticks.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithReporter adds a progress reporter.
func WithReporter(r Reporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.reporters = append(e.reporters, r)
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New locks the graph output directory and restores the progress of a
// previous run from store.
func New(g *workflow.Graph, store StateStore, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("workflow engine: graph is required")
	}
	if store == nil {
		return nil, fmt.Errorf("workflow engine: state store is required")
	}
	if !g.Generated() {
		return nil, fmt.Errorf("workflow engine: graph %s has not been generated", g.Name())
	}
	e := &Engine{
		graph:    g,
		repo:     store,
		capacity: 1,
		interval: DefaultInterval,
		log:      zap.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	queue, err := scheduler.NewQueue(e.capacity)
	if err != nil {
		return nil, fmt.Errorf("workflow engine: %w", err)
	}
	e.queue = queue
	lock, err := acquireLock(g.OutputDir())
	if err != nil {
		return nil, err
	}
	e.lock = lock
	if err := e.restore(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return e, nil
}

// restore applies the previous snapshot. Pids are ignored: a task that was
// running when the previous scheduler stopped is started again.
func (e *Engine) restore() error {
	snap, err := e.repo.Load()
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("workflow engine: restore: %w", err)
	}
	for _, t := range e.graph.Tasks() {
		previous, ok := snap.Status[t.Name()]
		if !ok {
			continue
		}
		switch previous {
		case task.StatusSuccess:
			t.Restore(task.StatusSuccess)
		case task.StatusRunning, task.StatusFailed:
			if err := t.CleanOutputDir(); err != nil {
				return fmt.Errorf("workflow engine: restore: %w", err)
			}
			t.Reset(previous)
			e.log.Info("task reset",
				zap.String("task", t.Name()),
				zap.String("previous", string(previous)),
			)
		}
	}
	return nil
}

// Graph returns the polled graph.
func (e *Engine) Graph() *workflow.Graph { return e.graph }

// Capacity returns the concurrency cap.
func (e *Engine) Capacity() int { return e.queue.Capacity() }

// Running returns the tasks currently in flight.
func (e *Engine) Running() []*task.Task { return e.queue.Tasks() }

// Tick performs one polling round and reports whether the run is done:
// nothing is in flight and the last fetch found nothing to start.
func (e *Engine) Tick(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.ticks++
	progress := Progress{Tick: e.ticks, At: e.clock(), Finished: map[string]task.Status{}}

	for _, t := range e.queue.Drain(func(t *task.Task) bool { return t.RefreshStatus().Terminal() }) {
		progress.Finished[t.Name()] = t.Status()
		e.log.Info("task finished",
			zap.String("task", t.Name()),
			zap.String("status", string(t.Status())),
			zap.Int("pid", t.PID()),
		)
	}

	if e.queue.Spare() > 0 {
		ready := e.graph.FetchExecutableTasks()
		e.lastFetched = len(ready)
		for _, t := range ready {
			if e.queue.Spare() == 0 {
				break
			}
			if err := t.Start(); err != nil {
				t.MarkFailed()
				progress.Finished[t.Name()] = task.StatusFailed
				e.log.Error("task failed to start", zap.String("task", t.Name()), zap.Error(err))
				continue
			}
			if err := e.queue.Push(t); err != nil {
				return false, fmt.Errorf("workflow engine: %w", err)
			}
			progress.Started = append(progress.Started, t.Name())
		}
	}

	if err := e.persist(); err != nil {
		return false, err
	}
	if err := e.graph.DrawStatus(); err != nil {
		e.log.Warn("status drawing failed", zap.Error(err))
	}

	done := e.queue.Len() == 0 && e.lastFetched == 0
	for _, t := range e.queue.Tasks() {
		progress.Running = append(progress.Running, t.Name())
	}
	tasks := e.graph.Tasks()
	statuses := make([]task.Status, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, t.Status())
	}
	progress.Counts = workflow.Count(statuses)
	progress.Status = workflow.GraphStatus(statuses)
	progress.Done = done
	for _, r := range e.reporters {
		r.Report(e.graph, progress)
	}
	return done, nil
}

func (e *Engine) persist() error {
	snap := Snapshot{Status: map[string]task.Status{}, PIDs: map[string]int{}}
	for _, t := range e.graph.Tasks() {
		snap.Status[t.Name()] = t.Status()
		if pid := t.PID(); pid > 0 {
			snap.PIDs[t.Name()] = pid
		}
	}
	if err := e.repo.Save(snap); err != nil {
		return fmt.Errorf("workflow engine: persist: %w", err)
	}
	return nil
}

// Run ticks until the run is done or ctx is cancelled. Started processes
// are left running on cancellation; the next engine on the same graph
// resets and reruns them.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("scheduler started",
		zap.String("graph", e.graph.Name()),
		zap.String("run", e.graph.RunID()),
		zap.Int("capacity", e.queue.Capacity()),
		zap.Duration("interval", e.interval),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		done, err := e.Tick(ctx)
		if err != nil {
			return err
		}
		if done {
			e.log.Info("scheduler finished",
				zap.String("graph", e.graph.Name()),
				zap.String("status", string(e.graph.Status())),
				zap.Int("ticks", e.ticks),
			)
			return nil
		}
		timer.Reset(e.interval)
	}
}

// Close releases the graph lock.
func (e *Engine) Close() error {
	if e.lock == nil {
		return nil
	}
	err := e.lock.Unlock()
	e.lock = nil
	return err
}
