// Package job implements the bounded-concurrency task scheduler that drives
// paginated remote fetches against the management server.
package job

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Task.
type State int

const (
	// Queued tasks wait in FIFO order for a running slot.
	Queued State = iota

	// Running tasks have been started on the transport.
	Running

	// Completed tasks returned output and passed every completion hook.
	Completed

	// Failed tasks carry a task-level error in Task.Err.
	Failed

	// TimedOut marks the task that aborted its run.
	TimedOut
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == TimedOut
}

// Request is the command payload of a task. Transports render it into a
// concrete command line or API call.
type Request struct {
	// Category is the logical resource type, e.g. "hosts" or "access-rulebase".
	Category string

	// Options are extra command arguments, e.g. {"uid": "...", "use-object-dictionary": true}.
	Options map[string]any

	// Limit is the page size.
	Limit int

	// Offset is the index of the first item of the page.
	Offset int
}

// WithOffset returns a copy of r addressing another page.
func (r Request) WithOffset(offset int) Request {
	opts := make(map[string]any, len(r.Options))
	for k, v := range r.Options {
		opts[k] = v
	}
	r.Options = opts
	r.Offset = offset
	return r
}

// Task is one remote fetch tracked by a Scheduler.
type Task struct {
	// Seq is assigned by Scheduler.Enqueue and never changes afterwards.
	Seq uint64

	// Category is the logical resource type the task fetches.
	Category string

	// Name identifies the task output, e.g. "access-rulebase_<uid>".
	Name string

	// Iteration is the 0-based page index within the category.
	Iteration int

	// IterationCount is the total number of pages once known, 1 until then.
	IterationCount int

	// PageSize is the number of items requested per page.
	PageSize int

	Request Request

	StartedAt  time.Time
	FinishedAt time.Time
	State      State

	// Output is the raw transport output of a finished task.
	Output []byte

	// Err is the task-level error of a Failed or TimedOut task.
	Err error

	handle Handle
}

// NewTask creates the iteration-zero task of a category.
func NewTask(category string, pageSize int, options map[string]any) *Task {
	return &Task{
		Category:       category,
		Name:           category,
		Iteration:      0,
		IterationCount: 1,
		PageSize:       pageSize,
		Request: Request{
			Category: category,
			Options:  options,
			Limit:    pageSize,
			Offset:   0,
		},
		State: Queued,
	}
}

// Elapsed returns the run time of the task: live while running, final once
// terminal, zero before start.
func (t *Task) Elapsed() time.Duration {
	switch {
	case t.StartedAt.IsZero():
		return 0
	case !t.FinishedAt.IsZero():
		return t.FinishedAt.Sub(t.StartedAt)
	case t.handle != nil:
		return t.handle.Elapsed()
	default:
		return time.Since(t.StartedAt)
	}
}

// String describes the task for log lines.
func (t *Task) String() string {
	return fmt.Sprintf("#%d %s[%d/%d] offset=%d", t.Seq, t.Category, t.Iteration, t.IterationCount, t.Request.Offset)
}
