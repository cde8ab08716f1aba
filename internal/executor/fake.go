package executor

import (
	"context"
	"sync"
)

// Call records one invocation made through a Fake
type Call struct {
	Command Command
	Bounded bool
	Bounds  Bounds
}

// Handler decides what a faked process does
type Handler func(call Call) (*Result, error)

// Fake is an Executor that starts nothing. It records every call and lets a
// Handler produce the result, so callers can be exercised without binaries.
type Fake struct {
	Handler Handler

	mu    sync.Mutex
	calls []Call
}

// NewFake creates a fake executor. A nil handler succeeds every call.
func NewFake(h Handler) *Fake {
	return &Fake{Handler: h}
}

func (f *Fake) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f.do(ctx, Call{Command: cmd})
}

func (f *Fake) RunBounded(ctx context.Context, cmd Command, bounds Bounds) (*Result, error) {
	return f.do(ctx, Call{Command: cmd, Bounded: true, Bounds: bounds})
}

func (f *Fake) do(ctx context.Context, call Call) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Handler == nil {
		return &Result{Outcome: Completed}, nil
	}
	return f.Handler(call)
}

// Calls returns the recorded calls in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls whose command path is path
func (f *Fake) CallsTo(path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Command.Path == path {
			out = append(out, c)
		}
	}
	return out
}
