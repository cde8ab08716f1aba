//go:build !windows

package executor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func sh(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

var quick = Bounds{Wait: 200 * time.Millisecond, Grace: 200 * time.Millisecond}

func TestRunCapturesOutput(t *testing.T) {
	res, err := New().Run(context.Background(), sh("echo out; echo err >&2; exit 3"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if res.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", res.ExitCode)
	}
	if res.Success() {
		t.Error("Non-zero exit should not be a success")
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Unexpected stdout %q", res.Stdout)
	}
	if strings.TrimSpace(res.Diagnostics()) != "err" {
		t.Errorf("Expected stderr as diagnostics, got %q", res.Diagnostics())
	}
}

func TestRunTeesOutput(t *testing.T) {
	var live bytes.Buffer
	cmd := sh("echo streamed")
	cmd.Stdout = &live

	res, err := New().Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.Success() {
		t.Fatalf("Expected success, got exit %d", res.ExitCode)
	}
	if strings.TrimSpace(live.String()) != "streamed" {
		t.Errorf("Live writer got %q", live.String())
	}
	if res.Stdout != live.String() {
		t.Errorf("Captured %q, streamed %q", res.Stdout, live.String())
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := New().Run(context.Background(), Command{Path: "/nonexistent/quantize"})
	if err == nil {
		t.Fatal("Expected error for missing binary")
	}
}

func TestRunBounded(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		wantOutcome Outcome
		wantSuccess bool
	}{
		{
			name:        "exits before the deadline",
			script:      "exit 0",
			wantOutcome: Completed,
			wantSuccess: true,
		},
		{
			name:        "fails before the deadline",
			script:      "echo broken >&2; exit 1",
			wantOutcome: Completed,
			wantSuccess: false,
		},
		{
			name:        "exits cleanly on interrupt",
			script:      "trap 'exit 0' INT; while true; do sleep 0.02; done",
			wantOutcome: Interrupted,
			wantSuccess: true,
		},
		{
			name:        "ignores interrupt and is killed",
			script:      "trap '' INT; while true; do sleep 0.02; done",
			wantOutcome: Killed,
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New().RunBounded(context.Background(), sh(tt.script), quick)
			if err != nil {
				t.Fatalf("RunBounded returned error: %v", err)
			}
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Expected outcome %s, got %s", tt.wantOutcome, res.Outcome)
			}
			if res.Success() != tt.wantSuccess {
				t.Errorf("Expected success=%v, got exit %d (%s)", tt.wantSuccess, res.ExitCode, res.Outcome)
			}
		})
	}
}

func TestRunBoundedContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := New().RunBounded(ctx, sh("trap '' INT; while true; do sleep 0.02; done"),
		Bounds{Wait: time.Minute, Grace: time.Minute})
	if err != context.Canceled {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res.Outcome != Killed {
		t.Errorf("Expected killed outcome, got %s", res.Outcome)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Cancellation did not stop the process promptly")
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Path: "llama-quantize", Args: []string{"in.gguf", "out.gguf", "Q4_0"}}
	if got := cmd.String(); got != "llama-quantize in.gguf out.gguf Q4_0" {
		t.Errorf("Unexpected command line %q", got)
	}
}
