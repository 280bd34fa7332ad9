package job

// Hooks observe task lifecycle events. All methods are called from the
// scheduler's control loop, so implementations may call Scheduler.Enqueue
// and read scheduler counters without locking.
type Hooks interface {
	// OnStart is called once the task holds a running slot.
	OnStart(t *Task)

	// OnComplete is called when the task returned output. A non-nil error
	// turns the task into a task-level failure.
	OnComplete(t *Task) error

	// OnError is called for every task-level failure.
	OnError(t *Task, err error)
}

// NopHooks implements Hooks with no-ops. Embed it to implement a subset.
type NopHooks struct{}

func (NopHooks) OnStart(*Task)          {}
func (NopHooks) OnComplete(*Task) error { return nil }
func (NopHooks) OnError(*Task, error)   {}

// Chain calls each hook in order. OnComplete stops at the first error.
type Chain []Hooks

// OnStart implements Hooks.
func (c Chain) OnStart(t *Task) {
	for _, h := range c {
		h.OnStart(t)
	}
}

// OnComplete implements Hooks.
func (c Chain) OnComplete(t *Task) error {
	for _, h := range c {
		if err := h.OnComplete(t); err != nil {
			return err
		}
	}
	return nil
}

// OnError implements Hooks.
func (c Chain) OnError(t *Task, err error) {
	for _, h := range c {
		h.OnError(t, err)
	}
}

// HookFuncs adapts plain functions to Hooks. Nil fields are skipped.
type HookFuncs struct {
	Start    func(t *Task)
	Complete func(t *Task) error
	Error    func(t *Task, err error)
}

// OnStart implements Hooks.
func (f HookFuncs) OnStart(t *Task) {
	if f.Start != nil {
		f.Start(t)
	}
}

// OnComplete implements Hooks.
func (f HookFuncs) OnComplete(t *Task) error {
	if f.Complete != nil {
		return f.Complete(t)
	}
	return nil
}

// OnError implements Hooks.
func (f HookFuncs) OnError(t *Task, err error) {
	if f.Error != nil {
		f.Error(t, err)
	}
}
