package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/xupit3r/quantforge/internal/catalog"
	"github.com/xupit3r/quantforge/internal/config"
	"github.com/xupit3r/quantforge/internal/executor"
	"github.com/xupit3r/quantforge/internal/hub"
	"github.com/xupit3r/quantforge/internal/logging"
	"github.com/xupit3r/quantforge/internal/pipeline"
	"github.com/xupit3r/quantforge/internal/system"
	"github.com/xupit3r/quantforge/internal/toolchain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7B68EE"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D4FF")).
			Width(14)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7FFF00"))
)

type runOptions struct {
	llamaCppPath    string
	modelID         string
	targetRepo      string
	outputDir       string
	calibrationData string
	private         bool
	noUpload        bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Quantize a model and upload the results",
		Long: `Download a model from the Hub, convert it to FP16 GGUF, quantize it to
every configured format and upload the files to the target repository.

Uploading needs a Hub token with write access, read from QUANTFORGE_HUB_TOKEN,
HF_TOKEN or hub.token in the config file.`,
		Example: `  quantforge run --llama-cpp-path ~/llama.cpp --model-id org/model-x --target-repo me/model-x-GGUF
  quantforge run --llama-cpp-path ~/llama.cpp --model-id org/model-x --calibration-data groups_merged.txt --no-upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuantize(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.llamaCppPath, "llama-cpp-path", "", "path to a built llama.cpp checkout")
	flags.StringVar(&opts.modelID, "model-id", "", "Hub model to quantize, e.g. org/model-x")
	flags.StringVar(&opts.targetRepo, "target-repo", "", "Hub repository to upload to; without an owner the token's user is used")
	flags.StringVar(&opts.outputDir, "output-dir", "", "where quantized files are written (default from output.dir, ./quantized_models)")
	flags.StringVar(&opts.calibrationData, "calibration-data", "", "text corpus for the importance matrix; enables calibrated formats")
	flags.BoolVar(&opts.private, "private", false, "create the target repository as private")
	flags.BoolVar(&opts.noUpload, "no-upload", false, "stop after quantization")

	_ = cmd.MarkFlagRequired("llama-cpp-path")
	_ = cmd.MarkFlagRequired("model-id")
	_ = cmd.MarkFlagDirname("llama-cpp-path")
	_ = cmd.MarkFlagDirname("output-dir")
	_ = cmd.MarkFlagFilename("calibration-data", "txt")

	return cmd
}

// job merges flags over the configuration
func (o *runOptions) job(cfg *config.Config) (pipeline.Job, error) {
	job := pipeline.Job{
		ModelID:         o.modelID,
		TargetRepo:      o.targetRepo,
		OutputDir:       o.outputDir,
		CalibrationData: o.calibrationData,
		Private:         o.private || cfg.Hub.Private,
		SkipUpload:      o.noUpload,
	}
	if job.OutputDir == "" {
		job.OutputDir = cfg.Output.Dir
	}
	if job.CalibrationData == "" {
		job.CalibrationData = cfg.Calibration.DataPath
	}

	if !job.SkipUpload {
		if job.TargetRepo == "" {
			return job, errors.New("--target-repo is required unless --no-upload is set")
		}
		if cfg.Hub.Token == "" {
			return job, errors.New("uploading needs a Hub token: set QUANTFORGE_HUB_TOKEN or HF_TOKEN, or pass --no-upload")
		}
	}
	return job, nil
}

func runQuantize(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	job, err := opts.job(cfg)
	if err != nil {
		return err
	}

	log := logging.Get()

	tools, err := toolchain.Locate(opts.llamaCppPath, executor.New(), toolchain.Options{
		Python:          cfg.Toolchain.Python,
		GPULayers:       cfg.Toolchain.GPULayers,
		OutputFrequency: cfg.Toolchain.OutputFrequency,
		Calibration: executor.Bounds{
			Wait:  cfg.Calibration.Timeout,
			Grace: cfg.Calibration.Grace,
		},
	}, log)
	if err != nil {
		return err
	}
	logging.Infof("using llama.cpp tools in %s", tools.Dir)

	cat, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		return err
	}

	client := hub.NewClient(cfg.Hub.Endpoint, cfg.Hub.Token)
	client.SetLogger(log)
	if !quiet {
		client.ProgressFunc = progressPrinter(cmd.ErrOrStderr())
	}

	p := pipeline.New(client, tools, cat, log)
	p.Endpoint = cfg.Hub.Endpoint
	p.WorkDir = cfg.Output.WorkDir
	p.VerifyArtifacts = cfg.Catalog.VerifyArtifacts

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.WithFields(logrus.Fields{
		"model":      job.ModelID,
		"target":     job.TargetRepo,
		"calibrated": job.CalibrationData != "",
		"upload":     !job.SkipUpload,
	}).Info("starting run")

	res, err := p.Run(ctx, job)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), res)
	return nil
}

// progressPrinter renders download progress on one line per file
func progressPrinter(w io.Writer) hub.ProgressFunc {
	return func(file string, downloaded, total int64, speed float64) {
		speedMB := speed / (1024 * 1024)
		if total <= 0 {
			fmt.Fprintf(w, "\r%s: %s - %.2f MB/s", file, system.FormatBytes(downloaded), speedMB)
			return
		}

		percent := float64(downloaded) / float64(total) * 100
		fmt.Fprintf(w, "\r%s: %.1f%% (%s / %s) - %.2f MB/s",
			file,
			percent,
			system.FormatBytes(downloaded),
			system.FormatBytes(total),
			speedMB)
		if downloaded >= total {
			fmt.Fprintln(w)
		}
	}
}

func printSummary(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Quantized models (%d)", len(res.Artifacts))))

	for _, a := range res.Artifacts {
		size := ""
		if info, err := os.Stat(a.Path); err == nil {
			size = system.FormatBytes(info.Size())
		}
		fmt.Fprintf(w, "  %s %s %s\n", tagStyle.Render(a.Tag), a.FileName(), dimStyle.Render(size))
	}

	fmt.Fprintln(w)
	if res.RepoURL == "" {
		fmt.Fprintln(w, dimStyle.Render("Upload skipped"))
		return
	}
	fmt.Fprintln(w, successStyle.Render("Uploaded to "+res.RepoURL))
}
