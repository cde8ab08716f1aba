// Package executor runs external processes.
//
// Two modes are offered: Run waits for the process to finish on its own, and
// RunBounded waits for a limited time, then interrupts the process, waits a
// grace period and finally kills it.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Outcome describes how a process came to an end
type Outcome int

const (
	// Completed means the process exited without being signalled
	Completed Outcome = iota
	// Interrupted means the process exited after receiving an interrupt
	Interrupted
	// Killed means the process had to be killed
	Killed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Command describes a process to start
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Optional live copies of the process output. Output is always captured
	// into the Result as well.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	return strings.Join(parts, " ")
}

// Bounds limits how long RunBounded waits
type Bounds struct {
	Wait  time.Duration // before sending an interrupt
	Grace time.Duration // after the interrupt, before killing
}

// Result holds what a finished process left behind
type Result struct {
	ExitCode int
	Outcome  Outcome
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the process exited with status zero on its own
// terms. A killed process is never successful.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Outcome != Killed
}

// Diagnostics returns the process's diagnostic output: stderr, or stdout when
// nothing was written to stderr.
func (r *Result) Diagnostics() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Stdout
}

// Executor starts external processes. A non-zero exit status is not an error;
// errors are reserved for processes that could not be started or were
// abandoned because ctx was cancelled.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
	RunBounded(ctx context.Context, cmd Command, bounds Bounds) (*Result, error)
}

// OS runs commands as real operating system processes
type OS struct {
	// WaitDelay bounds how long to wait for output pipes to close once the
	// process is gone. Zero means one second.
	WaitDelay time.Duration
}

// New creates an executor backed by os/exec
func New() *OS {
	return &OS{WaitDelay: time.Second}
}

type capture struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (e *OS) prepare(ctx context.Context, c Command) *capture {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	delay := e.WaitDelay
	if delay <= 0 {
		delay = time.Second
	}
	cmd.WaitDelay = delay

	cp := &capture{cmd: cmd}
	cmd.Stdout = tee(&cp.stdout, c.Stdout)
	cmd.Stderr = tee(&cp.stderr, c.Stderr)
	return cp
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// Run starts cmd and blocks until it exits
func (e *OS) Run(ctx context.Context, c Command) (*Result, error) {
	cp := e.prepare(ctx, c)

	start := time.Now()
	err := cp.cmd.Run()
	res := cp.result(Completed, time.Since(start))

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, exitStatus(res, err)
}

// RunBounded starts cmd and waits at most bounds.Wait for it to exit. After
// that the process is interrupted and given bounds.Grace to exit before it is
// killed.
func (e *OS) RunBounded(ctx context.Context, c Command, bounds Bounds) (*Result, error) {
	// Signals are delivered by hand, so the process is not bound to ctx.
	cp := e.prepare(context.Background(), c)

	start := time.Now()
	if err := cp.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Path, err)
	}

	done := make(chan error, 1)
	go func() { done <- cp.cmd.Wait() }()

	wait := time.NewTimer(bounds.Wait)
	defer wait.Stop()

	select {
	case err := <-done:
		res := cp.result(Completed, time.Since(start))
		return res, exitStatus(res, err)
	case <-ctx.Done():
		return cp.abandon(done, start, ctx.Err())
	case <-wait.C:
	}

	if err := cp.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return cp.kill(done, start)
	}

	grace := time.NewTimer(bounds.Grace)
	defer grace.Stop()

	select {
	case err := <-done:
		res := cp.result(Interrupted, time.Since(start))
		return res, exitStatus(res, err)
	case <-ctx.Done():
		return cp.abandon(done, start, ctx.Err())
	case <-grace.C:
	}

	return cp.kill(done, start)
}

func (cp *capture) kill(done <-chan error, start time.Time) (*Result, error) {
	_ = cp.cmd.Process.Kill()
	err := <-done
	res := cp.result(Killed, time.Since(start))
	return res, exitStatus(res, err)
}

func (cp *capture) abandon(done <-chan error, start time.Time, cause error) (*Result, error) {
	_ = cp.cmd.Process.Kill()
	<-done
	return cp.result(Killed, time.Since(start)), cause
}

func (cp *capture) result(outcome Outcome, d time.Duration) *Result {
	res := &Result{
		ExitCode: -1,
		Outcome:  outcome,
		Stdout:   cp.stdout.String(),
		Stderr:   cp.stderr.String(),
		Duration: d,
	}
	if cp.cmd.ProcessState != nil {
		res.ExitCode = cp.cmd.ProcessState.ExitCode()
	}
	return res
}

// exitStatus filters out the error exec reports for a non-zero exit, which
// callers read from the Result instead.
func exitStatus(res *Result, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return fmt.Errorf("running process: %w", err)
}
