package job

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the pause between two polling rounds of a run.
const DefaultPollInterval = 50 * time.Millisecond

// Enqueuer accepts new tasks. Completion hooks use it to add work to the
// live run.
type Enqueuer interface {
	Enqueue(t *Task)
}

// Outcome is the result of a run that reached its fixed point.
type Outcome struct {
	RunID string

	// Done holds every task of the run, sorted by sequence number.
	Done []*Task

	Completed int
	Failed    int
	Duration  time.Duration
}

// Failures returns the tasks of the run that ended with a task-level error.
func (o *Outcome) Failures() []*Task {
	var out []*Task
	for _, t := range o.Done {
		if t.State == Failed {
			out = append(out, t)
		}
	}
	return out
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets the pause between polling rounds.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger replaces the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithRunID sets the id attached to log lines and the outcome.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// Scheduler runs tasks on a Transport with a hard concurrency ceiling.
//
// A single control goroutine (the caller of Run) admits, polls and finalizes
// tasks. Commands execute in their own goroutines and are only observed
// through their Handle, so the waiting, running and done collections need no
// locking. Hooks run on the control goroutine and may enqueue more tasks;
// a run ends when waiting and running are both empty.
type Scheduler struct {
	transport    Transport
	hooks        Chain
	logger       zerolog.Logger
	pollInterval time.Duration
	runID        string

	seq     uint64
	waiting []*Task
	running []*Task
	done    []*Task

	// tasks enqueued while another task is being finalized; they join
	// waiting once that task is terminal
	finalizing *Task
	deferred   []*Task

	aborted bool
}

// NewScheduler creates a scheduler starting commands on transport.
func NewScheduler(transport Transport, opts ...Option) *Scheduler {
	s := &Scheduler{
		transport:    transport,
		pollInterval: DefaultPollInterval,
		runID:        uuid.NewString(),
	}
	s.logger = logging.NewLogger(logging.ComponentScheduler)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithRunID(s.logger, s.runID)
	return s
}

// Use appends hooks to the scheduler's hook chain.
func (s *Scheduler) Use(hooks ...Hooks) {
	s.hooks = append(s.hooks, hooks...)
}

// RunID returns the id of the scheduler's run.
func (s *Scheduler) RunID() string { return s.runID }

// Waiting returns the number of queued tasks.
func (s *Scheduler) Waiting() int { return len(s.waiting) + len(s.deferred) }

// Running returns the number of tasks holding a running slot.
func (s *Scheduler) Running() int { return len(s.running) }

// Done returns the number of terminal tasks of the current run.
func (s *Scheduler) Done() int { return len(s.done) }

// Enqueue assigns t the next sequence number and appends it to the waiting
// queue. Enqueueing the same task twice is a programming error.
func (s *Scheduler) Enqueue(t *Task) {
	if t.Seq != 0 {
		panic(fmt.Sprintf("job: task %s enqueued twice", t))
	}
	s.seq++
	t.Seq = s.seq
	t.State = Queued
	if t.IterationCount < 1 {
		t.IterationCount = 1
	}
	if t.Name == "" {
		t.Name = t.Category
	}

	if s.finalizing != nil {
		s.deferred = append(s.deferred, t)
	} else {
		s.waiting = append(s.waiting, t)
	}
	tasksWaiting.Set(float64(s.Waiting()))

	s.logger.Debug().
		Uint64("seq", t.Seq).
		Str("category", t.Category).
		Int("iteration", t.Iteration).
		Int("offset", t.Request.Offset).
		Msg("Task queued")
}

// Run drives all queued tasks, and every task hooks add on the way, to a
// terminal state. At most maxConcurrency tasks run at once and admission is
// FIFO by sequence number.
//
// Task-level errors are recorded on the tasks and do not stop the run. A
// running task exceeding timeout aborts the run with a *TimeoutError; the
// remaining tasks are abandoned and the scheduler cannot be run again.
func (s *Scheduler) Run(ctx context.Context, maxConcurrency int, timeout time.Duration) (*Outcome, error) {
	if s.aborted {
		return nil, ErrAborted
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0 (got %d)", maxConcurrency)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", timeout)
	}

	start := time.Now()
	s.done = nil

	s.logger.Info().
		Int("queued", len(s.waiting)).
		Int("max_concurrency", maxConcurrency).
		Dur("timeout", timeout).
		Msg("Starting run")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.admit(ctx, maxConcurrency)

		if err := s.poll(timeout); err != nil {
			s.aborted = true
			runTimeoutsTotal.Inc()
			s.logger.Error().
				Err(err).
				Int("waiting", len(s.waiting)).
				Int("running", len(s.running)).
				Msg("Run aborted")
			return nil, err
		}

		if len(s.waiting) == 0 && len(s.running) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			s.aborted = true
			return nil, fmt.Errorf("run aborted: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	sort.Slice(s.done, func(i, j int) bool { return s.done[i].Seq < s.done[j].Seq })

	out := &Outcome{
		RunID:    s.runID,
		Done:     s.done,
		Duration: time.Since(start),
	}
	for _, t := range s.done {
		if t.State == Completed {
			out.Completed++
		} else {
			out.Failed++
		}
	}
	s.done = nil

	s.logger.Info().
		Int("completed", out.Completed).
		Int("failed", out.Failed).
		Dur("duration", out.Duration).
		Msg("Run complete")

	return out, nil
}

// admit promotes waiting tasks while running slots are free.
func (s *Scheduler) admit(ctx context.Context, maxConcurrency int) {
	for len(s.running) < maxConcurrency && len(s.waiting) > 0 {
		t := s.waiting[0]
		s.waiting[0] = nil
		s.waiting = s.waiting[1:]

		t.State = Running
		t.StartedAt = time.Now()

		h, err := s.transport.Start(ctx, t.Request)
		if err != nil {
			// synchronous start failure never occupies a slot
			t.FinishedAt = time.Now()
			s.fail(t, fmt.Errorf("start: %w", err))
			s.record(t)
			continue
		}

		t.handle = h
		s.running = append(s.running, t)
		tasksRunning.Set(float64(len(s.running)))
		s.hooks.OnStart(t)
	}
	tasksWaiting.Set(float64(len(s.waiting)))
}

// poll finalizes finished tasks and checks the others against timeout.
func (s *Scheduler) poll(timeout time.Duration) error {
	alive := make([]*Task, 0, len(s.running))
	for i, t := range s.running {
		if !t.handle.Alive() {
			s.finalize(t)
			continue
		}

		if elapsed := t.handle.Elapsed(); elapsed > timeout {
			t.State = TimedOut
			terr := &TimeoutError{Task: t, Elapsed: elapsed, Timeout: timeout}
			t.Err = terr
			s.running = append(alive, s.running[i:]...)
			return terr
		}
		alive = append(alive, t)
	}
	s.running = alive
	tasksRunning.Set(float64(len(s.running)))
	return nil
}

// finalize collects the result of a finished task and runs the completion
// hooks. Tasks enqueued by those hooks join the waiting queue once t is
// terminal.
func (s *Scheduler) finalize(t *Task) {
	output, err := t.handle.Wait()
	t.FinishedAt = time.Now()
	t.Output = output

	s.finalizing = t
	if err != nil {
		s.fail(t, err)
	} else if err := s.hooks.OnComplete(t); err != nil {
		s.fail(t, err)
	} else {
		t.State = Completed
	}
	s.finalizing = nil

	s.waiting = append(s.waiting, s.deferred...)
	s.deferred = nil
	s.record(t)
}

func (s *Scheduler) fail(t *Task, err error) {
	t.State = Failed
	t.Err = err
	s.logger.Warn().
		Err(err).
		Uint64("seq", t.Seq).
		Str("task", t.Name).
		Str("category", t.Category).
		Int("iteration", t.Iteration).
		Msg("Task failed")
	s.hooks.OnError(t, err)
}

func (s *Scheduler) record(t *Task) {
	s.done = append(s.done, t)
	tasksTotal.WithLabelValues(t.Category, t.State.String()).Inc()
	taskDuration.WithLabelValues(t.Category).Observe(t.Elapsed().Seconds())

	s.logger.Debug().
		Uint64("seq", t.Seq).
		Str("task", t.Name).
		Str("state", t.State.String()).
		Dur("elapsed", t.Elapsed()).
		Msg("Task finished")
}
