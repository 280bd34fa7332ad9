package job

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("task timed out")

	// ErrAborted is returned by Run on a scheduler whose previous run was aborted.
	ErrAborted = errors.New("scheduler aborted by a previous run")
)

// TimeoutError is the fatal, run-aborting error raised when a running task
// exceeds the run timeout. It is never stored as a task-level error of
// another task.
type TimeoutError struct {
	Task    *Task
	Elapsed time.Duration
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s (%s) timed out after %s (timeout %s)",
		e.Task, e.Task.Name, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Unwrap lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
