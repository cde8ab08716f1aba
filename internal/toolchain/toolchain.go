// Package toolchain drives the llama.cpp conversion, importance matrix and
// quantization tools.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xupit3r/quantforge/internal/executor"
	"github.com/xupit3r/quantforge/internal/logging"
)

// Locations of the tools inside a llama.cpp checkout
const (
	ConvertScriptName = "convert_hf_to_gguf.py"
	QuantizeBinary    = "build/bin/llama-quantize"
	ImatrixBinary     = "build/bin/llama-imatrix"
)

// Options tune how the tools are invoked
type Options struct {
	Python          string
	GPULayers       int
	OutputFrequency int
	Calibration     executor.Bounds
}

// DefaultOptions mirrors the defaults of the config package
func DefaultOptions() Options {
	return Options{
		Python:          "python",
		GPULayers:       99,
		OutputFrequency: 10,
		Calibration: executor.Bounds{
			Wait:  240 * time.Second,
			Grace: 20 * time.Second,
		},
	}
}

// Toolchain runs the llama.cpp tools found in one directory
type Toolchain struct {
	Dir           string
	ConvertScript string
	QuantizeBin   string
	ImatrixBin    string
	Options       Options

	exec executor.Executor
	log  *logrus.Logger
}

// Locate finds the llama.cpp tools below dir and fails if any is missing
func Locate(dir string, exec executor.Executor, opts Options, log *logrus.Logger) (*Toolchain, error) {
	tc := &Toolchain{
		Dir:           dir,
		ConvertScript: filepath.Join(dir, ConvertScriptName),
		QuantizeBin:   filepath.Join(dir, filepath.FromSlash(QuantizeBinary)),
		ImatrixBin:    filepath.Join(dir, filepath.FromSlash(ImatrixBinary)),
		Options:       opts,
		exec:          exec,
		log:           log,
	}

	var missing []string
	for _, p := range []string{tc.ConvertScript, tc.QuantizeBin, tc.ImatrixBin} {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required llama.cpp files not found, check the llama.cpp path: %s",
			strings.Join(missing, ", "))
	}

	if tc.Options.Python == "" {
		tc.Options.Python = "python"
	}
	if tc.log == nil {
		tc.log = logging.Get()
	}

	return tc, nil
}

// Convert turns the checkpoint in srcDir into an FP16 GGUF file at out
func (t *Toolchain) Convert(ctx context.Context, srcDir, out string) error {
	cmd := executor.Command{
		Path: t.Options.Python,
		Args: []string{t.ConvertScript, srcDir, "--outtype", "f16", "--outfile", out},
	}
	t.log.Debugf("running %s", cmd)

	res, err := t.exec.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("running converter: %w", err)
	}
	if !res.Success() {
		return newProcessError("convert", "f16", res)
	}
	return nil
}

// Calibrate computes an importance matrix for model from corpus and writes it
// to out. The generator is interrupted after the configured wait and killed
// if it does not exit within the grace period; partial matrices are flushed
// periodically, so an interrupted run that exits cleanly still counts.
func (t *Toolchain) Calibrate(ctx context.Context, model, corpus, out string) error {
	stream := t.log.WriterLevel(logrus.DebugLevel)
	defer stream.Close()

	cmd := executor.Command{
		Path: t.ImatrixBin,
		Args: []string{
			"-m", model,
			"-f", corpus,
			"-ngl", strconv.Itoa(t.Options.GPULayers),
			"--output-frequency", strconv.Itoa(t.Options.OutputFrequency),
			"-o", out,
		},
		Stdout: stream,
		Stderr: stream,
	}
	t.log.Debugf("running %s", cmd)

	res, err := t.exec.RunBounded(ctx, cmd, t.Options.Calibration)
	if err != nil {
		return fmt.Errorf("running importance matrix generator: %w", err)
	}

	t.log.WithFields(logrus.Fields{
		"outcome":  res.Outcome.String(),
		"exit":     res.ExitCode,
		"duration": res.Duration.Round(time.Second).String(),
	}).Info("importance matrix generator finished")

	if !res.Success() {
		return newProcessError("imatrix", "", res)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("importance matrix generator exited cleanly but wrote no file: %w", err)
	}
	return nil
}

// Quantize writes the tag quantization of in to out. imatrix may be empty.
func (t *Toolchain) Quantize(ctx context.Context, in, out, tag, imatrix string) error {
	var args []string
	if imatrix != "" {
		args = append(args, "--imatrix", imatrix)
	}
	args = append(args, in, out, tag)

	cmd := executor.Command{Path: t.QuantizeBin, Args: args}
	t.log.Debugf("running %s", cmd)

	res, err := t.exec.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("running quantizer for %s: %w", tag, err)
	}
	if !res.Success() {
		return newProcessError("quantize", tag, res)
	}
	return nil
}
