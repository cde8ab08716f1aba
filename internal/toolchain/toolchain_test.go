package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xupit3r/quantforge/internal/executor"
	"github.com/xupit3r/quantforge/internal/logging"
)

// fakeLlamaCpp lays out an empty llama.cpp checkout
func fakeLlamaCpp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range []string{ConvertScriptName, QuantizeBinary, ImatrixBinary} {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, nil, 0755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func locate(t *testing.T, h executor.Handler) (*Toolchain, *executor.Fake) {
	t.Helper()
	fake := executor.NewFake(h)
	tc, err := Locate(fakeLlamaCpp(t), fake, DefaultOptions(), logging.Discard())
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	return tc, fake
}

func TestLocateMissingTools(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ConvertScriptName), nil, 0644)

	_, err := Locate(dir, executor.NewFake(nil), DefaultOptions(), logging.Discard())
	if err == nil {
		t.Fatal("Expected error when binaries are missing")
	}
	if !strings.Contains(err.Error(), "llama-quantize") || !strings.Contains(err.Error(), "llama-imatrix") {
		t.Errorf("Error should name the missing tools: %v", err)
	}
}

func TestConvert(t *testing.T) {
	tc, fake := locate(t, nil)

	if err := tc.Convert(context.Background(), "/work/model-x", "/work/model-x-fp16.gguf"); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}
	got := calls[0].Command
	if got.Path != "python" {
		t.Errorf("Expected python, got %s", got.Path)
	}
	want := []string{tc.ConvertScript, "/work/model-x", "--outtype", "f16", "--outfile", "/work/model-x-fp16.gguf"}
	if strings.Join(got.Args, " ") != strings.Join(want, " ") {
		t.Errorf("Unexpected args %v", got.Args)
	}
	if calls[0].Bounded {
		t.Error("Conversion must not be time bounded")
	}
}

func TestConvertFailureKeepsDiagnostics(t *testing.T) {
	stderr := "Traceback (most recent call last):\n  KeyError: 'model.embed_tokens'\n"
	tc, _ := locate(t, func(executor.Call) (*executor.Result, error) {
		return &executor.Result{ExitCode: 1, Stderr: stderr}, nil
	})

	err := tc.Convert(context.Background(), "src", "out")
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if perr.Output != stderr {
		t.Errorf("Diagnostics were altered: %q", perr.Output)
	}
	if perr.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", perr.ExitCode)
	}
}

func TestQuantizeArgs(t *testing.T) {
	tc, fake := locate(t, nil)
	ctx := context.Background()

	if err := tc.Quantize(ctx, "in.gguf", "out.gguf", "Q4_K_M", ""); err != nil {
		t.Fatalf("Quantize failed: %v", err)
	}
	if err := tc.Quantize(ctx, "in.gguf", "out_imat.gguf", "IQ4_XS", "imatrix.dat"); err != nil {
		t.Fatalf("Quantize with imatrix failed: %v", err)
	}

	calls := fake.CallsTo(tc.QuantizeBin)
	if len(calls) != 2 {
		t.Fatalf("Expected 2 quantize calls, got %d", len(calls))
	}
	if got := strings.Join(calls[0].Command.Args, " "); got != "in.gguf out.gguf Q4_K_M" {
		t.Errorf("Unexpected plain args %q", got)
	}
	if got := strings.Join(calls[1].Command.Args, " "); got != "--imatrix imatrix.dat in.gguf out_imat.gguf IQ4_XS" {
		t.Errorf("Unexpected imatrix args %q", got)
	}
}

func TestQuantizeFailure(t *testing.T) {
	tc, _ := locate(t, func(executor.Call) (*executor.Result, error) {
		return &executor.Result{ExitCode: 1, Stderr: "invalid ftype"}, nil
	})

	err := tc.Quantize(context.Background(), "in", "out", "Q9_X", "")
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if perr.Tag != "Q9_X" {
		t.Errorf("Expected tag Q9_X, got %s", perr.Tag)
	}
	if !strings.Contains(err.Error(), "invalid ftype") {
		t.Errorf("Error should carry diagnostics: %v", err)
	}
}

func TestCalibrate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "imatrix.dat")

	tests := []struct {
		name    string
		result  executor.Result
		write   bool
		wantErr bool
	}{
		{"completes", executor.Result{Outcome: executor.Completed}, true, false},
		{"interrupted cleanly", executor.Result{Outcome: executor.Interrupted}, true, false},
		{"interrupted uncleanly", executor.Result{Outcome: executor.Interrupted, ExitCode: 130}, true, true},
		{"killed", executor.Result{Outcome: executor.Killed, ExitCode: -1}, true, true},
		{"no output file", executor.Result{Outcome: executor.Completed}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(out)
			tc, fake := locate(t, func(call executor.Call) (*executor.Result, error) {
				if tt.write {
					os.WriteFile(out, []byte("imatrix"), 0644)
				}
				res := tt.result
				return &res, nil
			})
			tc.Options.Calibration = executor.Bounds{Wait: 3 * time.Second, Grace: time.Second}

			err := tc.Calibrate(context.Background(), "fp16.gguf", "corpus.txt", out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Calibrate error = %v, wantErr %v", err, tt.wantErr)
			}

			calls := fake.Calls()
			if len(calls) != 1 || !calls[0].Bounded {
				t.Fatalf("Expected one bounded call, got %+v", calls)
			}
			if calls[0].Bounds.Wait != 3*time.Second || calls[0].Bounds.Grace != time.Second {
				t.Errorf("Unexpected bounds %+v", calls[0].Bounds)
			}
			want := "-m fp16.gguf -f corpus.txt -ngl 99 --output-frequency 10 -o " + out
			if got := strings.Join(calls[0].Command.Args, " "); got != want {
				t.Errorf("Unexpected args %q", got)
			}
		})
	}
}

func TestProcessErrorMessage(t *testing.T) {
	err := &ProcessError{Op: "imatrix", ExitCode: -1, Outcome: executor.Killed}
	if !strings.Contains(err.Error(), "killed after timeout") {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
