package job

import (
	"context"
	"fmt"
	"time"
)

// Transport starts remote commands. Start must not block on the command
// itself; connection failures should be reported synchronously.
type Transport interface {
	Start(ctx context.Context, req Request) (Handle, error)
}

// Handle observes one started command.
type Handle interface {
	// Alive reports whether the command is still executing.
	Alive() bool

	// Elapsed returns the time since the command was started.
	Elapsed() time.Duration

	// Wait blocks until the command finishes and returns its output or error.
	Wait() ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) (Handle, error)

// Start calls f(ctx, req).
func (f TransportFunc) Start(ctx context.Context, req Request) (Handle, error) {
	return f(ctx, req)
}

// Execution is a Handle backed by a goroutine.
type Execution struct {
	started time.Time
	done    chan struct{}

	output []byte
	err    error
}

// Go runs fn in its own goroutine and returns a Handle observing it.
func Go(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) *Execution {
	e := &Execution{
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		defer func() {
			if r := recover(); r != nil {
				e.output, e.err = nil, fmt.Errorf("command panicked: %v", r)
			}
		}()
		e.output, e.err = fn(ctx)
	}()
	return e
}

// Alive implements Handle.
func (e *Execution) Alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Elapsed implements Handle.
func (e *Execution) Elapsed() time.Duration {
	return time.Since(e.started)
}

// Wait implements Handle. It is safe to call more than once.
func (e *Execution) Wait() ([]byte, error) {
	<-e.done
	return e.output, e.err
}
