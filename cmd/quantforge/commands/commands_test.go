package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/xupit3r/quantforge/internal/config"
	"github.com/xupit3r/quantforge/internal/gguf"
	"github.com/xupit3r/quantforge/internal/pipeline"
)

// createTestRootCommand creates a fresh root command with all subcommands
func createTestRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "quantforge",
		Short:        "Quantize Hugging Face models to GGUF and publish them",
		Version:      "test",
		SilenceUsage: true,
	}

	root.AddCommand(completionCmd)
	root.AddCommand(versionCmd)
	root.AddCommand(newRunCommand())
	root.AddCommand(newFormatsCommand())
	root.AddCommand(inspectCmd)

	return root
}

// isolate keeps the user's config and token out of the test
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HF_TOKEN", "")
	t.Setenv("QUANTFORGE_HUB_TOKEN", "")
	t.Setenv("QUANTFORGE_LOGGING_CONSOLE", "false")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(home); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := createTestRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompletionCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "bash completion", args: []string{"completion", "bash"}},
		{name: "zsh completion", args: []string{"completion", "zsh"}},
		{name: "fish completion", args: []string{"completion", "fish"}},
		{name: "powershell completion", args: []string{"completion", "powershell"}},
		{name: "invalid shell", args: []string{"completion", "invalid"}, wantErr: true},
		{name: "no shell specified", args: []string{"completion"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(out, "quantforge") {
				t.Errorf("Completion script does not mention quantforge")
			}
		})
	}
}

func TestCompleteFormats(t *testing.T) {
	isolate(t)

	labels, directive := completeFormats(nil, nil, "")
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("Unexpected directive %v", directive)
	}
	if len(labels) != 20 {
		t.Fatalf("Expected 20 suggestions, got %d", len(labels))
	}
	if !strings.HasPrefix(labels[0], "Q2_K\t") {
		t.Errorf("First suggestion %q", labels[0])
	}
	if !strings.HasPrefix(labels[19], "Q5_K_S_IMAT\t") {
		t.Errorf("Last suggestion %q", labels[19])
	}
}

func TestCompleteFormatsFromConfig(t *testing.T) {
	isolate(t)
	home, _ := os.UserHomeDir()

	body := "catalog:\n  standard: [Q4_K_M, TQ1_0]\n  calibrated: [IQ2_XXS]\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	labels, _ := completeFormats(nil, nil, "")
	var got []string
	for _, l := range labels {
		got = append(got, strings.SplitN(l, "\t", 2)[0])
	}
	if strings.Join(got, ",") != "Q4_K_M,TQ1_0,IQ2_XXS_IMAT" {
		t.Errorf("Completions %v do not follow the configured catalog", got)
	}

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("catalog:\n  standard: [Q4_0, Q4_0]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	labels, _ = completeFormats(nil, nil, "")
	if len(labels) != 20 {
		t.Errorf("Invalid config should fall back to the stock catalog, got %d labels", len(labels))
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "quantforge v"+version) {
		t.Errorf("Unexpected output: %s", out)
	}
}

func TestFormatsCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "formats", "--model", "model-x")
	if err != nil {
		t.Fatalf("formats failed: %v", err)
	}

	for _, want := range []string{
		"model-x-Q2_K.gguf",
		"model-x-Q8_0.gguf",
		"IQ3_M_IMAT",
		"model-x-IQ3_M_imat.gguf",
		"12 standard, 8 calibrated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatsCommandFilter(t *testing.T) {
	isolate(t)

	out, err := execute(t, "formats", "Q4_K_M", "Q4_K_M_IMAT")
	if err != nil {
		t.Fatalf("formats failed: %v", err)
	}
	if !strings.Contains(out, "MODEL-Q4_K_M.gguf") || !strings.Contains(out, "MODEL-Q4_K_M_imat.gguf") {
		t.Errorf("Filtered formats missing:\n%s", out)
	}
	if strings.Contains(out, "Q2_K") {
		t.Errorf("Unrequested format listed:\n%s", out)
	}

	if _, err := execute(t, "formats", "Q9_X"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestRunCommandValidation(t *testing.T) {
	isolate(t)
	llama := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "model id required",
			args:    []string{"run", "--llama-cpp-path", llama},
			wantErr: "model-id",
		},
		{
			name:    "target repo required",
			args:    []string{"run", "--llama-cpp-path", llama, "--model-id", "org/model-x"},
			wantErr: "--target-repo",
		},
		{
			name:    "token required to upload",
			args:    []string{"run", "--llama-cpp-path", llama, "--model-id", "org/model-x", "--target-repo", "me/x"},
			wantErr: "token",
		},
		{
			name:    "missing toolchain",
			args:    []string{"run", "--llama-cpp-path", llama, "--model-id", "org/model-x", "--target-repo", "me/x"},
			env:     map[string]string{"HF_TOKEN": "hf_test"},
			wantErr: "llama.cpp",
		},
		{
			name:    "missing toolchain without upload",
			args:    []string{"run", "--llama-cpp-path", llama, "--model-id", "org/model-x", "--no-upload"},
			wantErr: "llama.cpp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunOptionsJob(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hub.Token = "hf_test"
	cfg.Hub.Private = true
	cfg.Calibration.DataPath = "/data/groups_merged.txt"

	opts := &runOptions{modelID: "org/model-x", targetRepo: "me/model-x-GGUF"}
	job, err := opts.job(cfg)
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if job.OutputDir != cfg.Output.Dir {
		t.Errorf("OutputDir %s, want config default %s", job.OutputDir, cfg.Output.Dir)
	}
	if job.CalibrationData != "/data/groups_merged.txt" {
		t.Errorf("CalibrationData %s should come from config", job.CalibrationData)
	}
	if !job.Private {
		t.Error("Private should come from config")
	}

	opts.outputDir = "out"
	opts.calibrationData = "corpus.txt"
	job, err = opts.job(cfg)
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if job.OutputDir != "out" || job.CalibrationData != "corpus.txt" {
		t.Errorf("Flags should override config: %+v", job)
	}
}

func TestPrintSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model-x-Q4_0.gguf")
	if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	printSummary(&out, &pipeline.Result{
		Artifacts: []pipeline.Artifact{{Tag: "Q4_0", Path: path}},
		RepoURL:   "https://huggingface.co/me/model-x-GGUF",
	})

	for _, want := range []string{"Quantized models (1)", "Q4_0", "model-x-Q4_0.gguf", "2.0 KiB", "https://huggingface.co/me/model-x-GGUF"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Summary missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	printSummary(&out, &pipeline.Result{})
	if !strings.Contains(out.String(), "Upload skipped") {
		t.Errorf("Expected skipped upload note:\n%s", out.String())
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	progress := progressPrinter(&out)

	progress("model.safetensors", 512, 1024, 1024*1024)
	if !strings.Contains(out.String(), "50.0%") {
		t.Errorf("Expected percentage: %q", out.String())
	}

	out.Reset()
	progress("config.json", 100, 0, 0)
	if strings.Contains(out.String(), "%") {
		t.Errorf("Unknown total should not print a percentage: %q", out.String())
	}
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "model-x-Q8_0.gguf")
	var buf bytes.Buffer
	if err := gguf.WriteHeader(&buf, 3, 291, 24); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(good, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "model-x-Q2_K.gguf")
	if err := os.WriteFile(bad, []byte("not a model at all"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "inspect", good)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !strings.Contains(out, "291") || !strings.Contains(out, "24") {
		t.Errorf("Header counts missing:\n%s", out)
	}

	out, err = execute(t, "inspect", good, bad)
	if err == nil {
		t.Fatal("Expected error for invalid file")
	}
	if !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "not a GGUF file") {
		t.Errorf("Invalid file not reported:\n%s", out)
	}

	if _, err := execute(t, "inspect"); err == nil {
		t.Error("Expected error without arguments")
	}
}
