package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// step scripts the behavior of one command, keyed by category and offset.
type step struct {
	delay    time.Duration
	output   string
	err      error
	startErr error
}

// fakeTransport runs scripted commands and tracks real concurrency.
type fakeTransport struct {
	mu      sync.Mutex
	steps   map[string]step
	started []Request

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{steps: make(map[string]step)}
}

func stepKey(category string, offset int) string {
	return fmt.Sprintf("%s@%d", category, offset)
}

func (f *fakeTransport) set(category string, offset int, s step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[stepKey(category, offset)] = s
}

func (f *fakeTransport) Start(ctx context.Context, req Request) (Handle, error) {
	f.mu.Lock()
	s, ok := f.steps[stepKey(req.Category, req.Offset)]
	f.started = append(f.started, req)
	f.mu.Unlock()
	if !ok {
		s = step{delay: time.Millisecond, output: `{}`}
	}
	if s.startErr != nil {
		return nil, s.startErr
	}

	return Go(ctx, func(context.Context) ([]byte, error) {
		n := f.active.Add(1)
		for {
			m := f.maxActive.Load()
			if n <= m || f.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		defer f.active.Add(-1)

		time.Sleep(s.delay)
		if s.err != nil {
			return nil, s.err
		}
		return []byte(s.output), nil
	}), nil
}

func (f *fakeTransport) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func newTestScheduler(tr Transport) *Scheduler {
	return NewScheduler(tr, WithPollInterval(time.Millisecond), WithLogger(zerolog.Nop()))
}

func TestScheduler_RunCompletesAllTasks(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	const n = 12
	for i := 0; i < n; i++ {
		cat := fmt.Sprintf("cat-%d", i)
		// later tasks finish first
		tr.set(cat, 0, step{delay: time.Duration(n-i) * 2 * time.Millisecond, output: `{"ok":true}`})
		s.Enqueue(NewTask(cat, 50, nil))
	}

	out, err := s.Run(context.Background(), 4, 5*time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(out.Done) != n {
		t.Fatalf("len(Done) = %d, want %d", len(out.Done), n)
	}
	for i := 1; i < len(out.Done); i++ {
		if out.Done[i-1].Seq >= out.Done[i].Seq {
			t.Errorf("Done not strictly increasing at %d: %d >= %d", i, out.Done[i-1].Seq, out.Done[i].Seq)
		}
	}
	for _, task := range out.Done {
		if task.State != Completed {
			t.Errorf("task %s state = %s, want completed", task, task.State)
		}
		if string(task.Output) != `{"ok":true}` {
			t.Errorf("task %s output = %q", task, task.Output)
		}
	}
	if out.Completed != n || out.Failed != 0 {
		t.Errorf("Completed/Failed = %d/%d, want %d/0", out.Completed, out.Failed, n)
	}
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	const maxRunning = 3
	var sampledMax int
	s.Use(HookFuncs{Start: func(*Task) {
		if r := s.Running(); r > sampledMax {
			sampledMax = r
		}
	}})

	for i := 0; i < 20; i++ {
		cat := fmt.Sprintf("c%d", i)
		tr.set(cat, 0, step{delay: 5 * time.Millisecond, output: `{}`})
		s.Enqueue(NewTask(cat, 10, nil))
	}

	if _, err := s.Run(context.Background(), maxRunning, 5*time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sampledMax > maxRunning {
		t.Errorf("sampled running = %d, want <= %d", sampledMax, maxRunning)
	}
	if got := tr.maxActive.Load(); got > maxRunning {
		t.Errorf("concurrent commands = %d, want <= %d", got, maxRunning)
	}
}

func TestScheduler_FIFOAdmission(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	var order []uint64
	s.Use(HookFuncs{Start: func(t *Task) { order = append(order, t.Seq) }})

	for i := 0; i < 6; i++ {
		s.Enqueue(NewTask(fmt.Sprintf("c%d", i), 10, nil))
	}
	if _, err := s.Run(context.Background(), 1, time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, seq := range order {
		if seq != uint64(i+1) {
			t.Errorf("start order[%d] = %d, want %d", i, seq, i+1)
		}
	}
}

func TestScheduler_TaskLevelErrors(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	tr.set("broken", 0, step{startErr: errors.New("connection refused")})
	tr.set("failing", 0, step{delay: time.Millisecond, err: errors.New("exit status 1")})
	tr.set("ok", 0, step{delay: time.Millisecond, output: `{}`})

	var reported []string
	s.Use(HookFuncs{Error: func(t *Task, err error) { reported = append(reported, t.Category) }})

	for _, cat := range []string{"broken", "failing", "ok"} {
		s.Enqueue(NewTask(cat, 10, nil))
	}

	out, err := s.Run(context.Background(), 2, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v, task errors must not abort the run", err)
	}

	if len(out.Done) != 3 {
		t.Fatalf("len(Done) = %d, want 3", len(out.Done))
	}
	want := map[string]State{"broken": Failed, "failing": Failed, "ok": Completed}
	for _, task := range out.Done {
		if task.State != want[task.Category] {
			t.Errorf("%s state = %s, want %s", task.Category, task.State, want[task.Category])
		}
		if task.State == Failed && task.Err == nil {
			t.Errorf("%s failed without error", task.Category)
		}
	}
	if len(out.Failures()) != 2 {
		t.Errorf("Failures() = %d, want 2", len(out.Failures()))
	}
	if len(reported) != 2 {
		t.Errorf("OnError calls = %d, want 2", len(reported))
	}
}

func TestScheduler_CompletionHookError(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	hookErr := errors.New("malformed output")
	s.Use(HookFuncs{Complete: func(*Task) error { return hookErr }})
	s.Enqueue(NewTask("hosts", 10, nil))

	out, err := s.Run(context.Background(), 1, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	task := out.Done[0]
	if task.State != Failed || !errors.Is(task.Err, hookErr) {
		t.Errorf("state = %s err = %v, want failed with hook error", task.State, task.Err)
	}
}

func TestScheduler_EnqueueFromCompletionHook(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	seeds := map[string]*Task{}
	var violations []string
	s.Use(HookFuncs{
		Start: func(t *Task) {
			if t.Iteration > 0 && !seeds[t.Category].State.IsTerminal() {
				violations = append(violations, t.String())
			}
		},
		Complete: func(t *Task) error {
			if t.Iteration != 0 {
				return nil
			}
			for i := 1; i < 3; i++ {
				next := &Task{
					Category:       t.Category,
					Iteration:      i,
					IterationCount: 3,
					PageSize:       t.PageSize,
					Request:        t.Request.WithOffset(t.PageSize * i),
				}
				s.Enqueue(next)
				if next.Seq <= t.Seq {
					violations = append(violations, fmt.Sprintf("seq %d <= %d", next.Seq, t.Seq))
				}
			}
			return nil
		},
	})

	for _, cat := range []string{"hosts", "networks"} {
		seeds[cat] = NewTask(cat, 50, nil)
		s.Enqueue(seeds[cat])
	}

	out, err := s.Run(context.Background(), 4, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Done) != 6 {
		t.Fatalf("len(Done) = %d, want 6", len(out.Done))
	}
	if len(violations) > 0 {
		t.Errorf("violations: %v", violations)
	}
	if tr.startedCount() != 6 {
		t.Errorf("started = %d, want 6", tr.startedCount())
	}
}

func TestScheduler_TimeoutAbortsRun(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)

	tr.set("slow", 0, step{delay: 500 * time.Millisecond, output: `{}`})
	s.Enqueue(NewTask("slow", 10, nil))
	for i := 0; i < 5; i++ {
		s.Enqueue(NewTask(fmt.Sprintf("later-%d", i), 10, nil))
	}

	_, err := s.Run(context.Background(), 1, 30*time.Millisecond)
	if err == nil {
		t.Fatal("Run() error = nil, want timeout")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(err, ErrTimeout) = false for %v", err)
	}

	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not *TimeoutError", err)
	}
	if terr.Task.Category != "slow" {
		t.Errorf("timed out task = %s, want slow", terr.Task.Category)
	}
	if terr.Elapsed <= 30*time.Millisecond {
		t.Errorf("Elapsed = %v, want > 30ms", terr.Elapsed)
	}
	if terr.Task.State != TimedOut {
		t.Errorf("state = %s, want timed_out", terr.Task.State)
	}
	if tr.startedCount() != 1 {
		t.Errorf("started = %d, want 1 (waiting tasks must not run)", tr.startedCount())
	}

	if _, err := s.Run(context.Background(), 1, time.Second); !errors.Is(err, ErrAborted) {
		t.Errorf("second Run() error = %v, want ErrAborted", err)
	}
}

func TestScheduler_ContextCancelled(t *testing.T) {
	tr := newFakeTransport()
	s := newTestScheduler(tr)
	tr.set("slow", 0, step{delay: 200 * time.Millisecond, output: `{}`})
	s.Enqueue(NewTask("slow", 10, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, 1, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestScheduler_RunValidation(t *testing.T) {
	s := newTestScheduler(newFakeTransport())

	if _, err := s.Run(context.Background(), 0, time.Second); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := s.Run(context.Background(), 1, 0); err == nil {
		t.Error("expected error for zero timeout")
	}

	out, err := s.Run(context.Background(), 1, time.Second)
	if err != nil {
		t.Fatalf("empty Run() error = %v", err)
	}
	if len(out.Done) != 0 {
		t.Errorf("len(Done) = %d, want 0", len(out.Done))
	}
}

func TestScheduler_EnqueueTwicePanics(t *testing.T) {
	s := newTestScheduler(newFakeTransport())
	task := NewTask("hosts", 10, nil)
	s.Enqueue(task)

	defer func() {
		if r := recover(); r == nil {
			t.Error("second Enqueue should panic")
		}
	}()
	s.Enqueue(task)
}

func TestScheduler_SequenceAcrossRuns(t *testing.T) {
	s := newTestScheduler(newFakeTransport())

	a := NewTask("a", 10, nil)
	s.Enqueue(a)
	if _, err := s.Run(context.Background(), 1, time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	b := NewTask("b", 10, nil)
	s.Enqueue(b)
	out, err := s.Run(context.Background(), 1, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if b.Seq <= a.Seq {
		t.Errorf("sequence reused: a=%d b=%d", a.Seq, b.Seq)
	}
	if len(out.Done) != 1 || out.Done[0] != b {
		t.Errorf("second run Done = %v, want only b", out.Done)
	}
}
