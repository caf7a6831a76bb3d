package task

import "errors"

// ID indexes a task inside its graph's arena.
type ID int

// Status is the lifecycle state of a task.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition can happen within a run.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Sentinel task names.
const (
	StartName = "START"
	EndName   = "END"
)

var (
	ErrDuplicateBinding   = errors.New("task: duplicate binding")
	ErrUnknownPort        = errors.New("task: unknown port")
	ErrMissingParam       = errors.New("task: missing required parameter")
	ErrInvalidChoice      = errors.New("task: value not in choices")
	ErrInvalidParam       = errors.New("task: invalid parameter value")
	ErrUnresolvedTemplate = errors.New("task: unresolved template")
	ErrInvalidCommand     = errors.New("task: rendered command is not valid shell")
	ErrNoCommand          = errors.New("task: command has not been generated")
	ErrNotWaiting         = errors.New("task: task is not waiting")
)
