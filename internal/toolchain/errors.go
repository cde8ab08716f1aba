package toolchain

import (
	"fmt"

	"github.com/xupit3r/quantforge/internal/executor"
)

// ProcessError reports a tool that exited unsuccessfully. Output is the
// tool's diagnostic text, unmodified.
type ProcessError struct {
	Op       string
	Tag      string
	ExitCode int
	Outcome  executor.Outcome
	Output   string
}

func newProcessError(op, tag string, res *executor.Result) *ProcessError {
	return &ProcessError{
		Op:       op,
		Tag:      tag,
		ExitCode: res.ExitCode,
		Outcome:  res.Outcome,
		Output:   res.Diagnostics(),
	}
}

func (e *ProcessError) Error() string {
	what := e.Op
	if e.Tag != "" {
		what = fmt.Sprintf("%s %s", e.Op, e.Tag)
	}

	status := fmt.Sprintf("exit status %d", e.ExitCode)
	if e.Outcome == executor.Killed {
		status = "killed after timeout"
	}

	if e.Output == "" {
		return fmt.Sprintf("%s failed: %s", what, status)
	}
	return fmt.Sprintf("%s failed: %s: %s", what, status, e.Output)
}
