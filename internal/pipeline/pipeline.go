// Package pipeline turns a Hub checkpoint into a set of published GGUF
// quantizations.
//
// A run moves strictly forward through acquisition, conversion, optional
// calibration, quantization and publication. Any failure stops the run; the
// temporary work directory is removed on every path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/xupit3r/quantforge/internal/catalog"
	"github.com/xupit3r/quantforge/internal/gguf"
	"github.com/xupit3r/quantforge/internal/hub"
	"github.com/xupit3r/quantforge/internal/system"
)

// CommitMessage is the summary of the upload commit
const CommitMessage = "Upload quantized models"

// ReadmeName is the manifest's path in the target repository
const ReadmeName = "README.md"

var (
	// docPatterns are always downloaded alongside the weights
	docPatterns = []string{"*.md", "*.json", "*.model"}

	safetensorsPattern = "*.safetensors"
	binPattern         = "*.bin"
)

// Registry is the part of the Hub the pipeline uses
type Registry interface {
	ListTree(ctx context.Context, repoID, revision string) ([]hub.TreeEntry, error)
	DownloadFiles(ctx context.Context, repoID, revision, dir string, files []hub.TreeEntry) error
	ResolveRepoID(ctx context.Context, name string) (string, error)
	CreateRepo(ctx context.Context, repoID string, private bool) (string, error)
	Commit(ctx context.Context, repoID, message string, ops []hub.Operation) (*hub.CommitInfo, error)
}

// Tools runs the external conversion, calibration and quantization steps
type Tools interface {
	Convert(ctx context.Context, srcDir, out string) error
	Calibrate(ctx context.Context, model, corpus, out string) error
	Quantize(ctx context.Context, in, out, tag, imatrix string) error
}

// Job describes one run
type Job struct {
	ModelID         string
	TargetRepo      string
	OutputDir       string
	CalibrationData string // empty disables calibrated formats
	Private         bool
	SkipUpload      bool
}

// Artifact is one produced quantization
type Artifact struct {
	Tag  string
	Path string
}

// FileName returns the artifact's base name
func (a Artifact) FileName() string {
	return filepath.Base(a.Path)
}

// Result is what a successful run produced
type Result struct {
	Artifacts  []Artifact
	Calibrated bool
	RepoURL    string
}

// Pipeline runs jobs against a registry with a toolchain
type Pipeline struct {
	Registry Registry
	Tools    Tools
	Catalog  *catalog.Catalog

	// Endpoint is used for links in the README
	Endpoint string
	// WorkDir is the parent of the per-run work directory; empty means the
	// system temp directory
	WorkDir string
	// VerifyArtifacts checks every artifact's GGUF header
	VerifyArtifacts bool

	// OnTransition, if set, is called on every state change
	OnTransition func(from, to State)

	log   *logrus.Logger
	state State
}

// New creates a pipeline
func New(reg Registry, tools Tools, cat *catalog.Catalog, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		Registry: reg,
		Tools:    tools,
		Catalog:  cat,
		Endpoint: hub.DefaultEndpoint,
		log:      log,
		state:    StateIdle,
	}
}

// State returns the current state
func (p *Pipeline) State() State {
	return p.state
}

// ModelName is the last path segment of a model identifier
func ModelName(modelID string) string {
	return path.Base(strings.Trim(modelID, "/"))
}

// Run executes job from start to finish. A pipeline runs one job at a time and
// must be reset to idle between runs, which Run does on entry.
func (p *Pipeline) Run(ctx context.Context, job Job) (res *Result, err error) {
	p.state = StateIdle

	defer func() {
		if err != nil {
			_ = p.transition(StateFailed)
			p.log.WithFields(logrus.Fields{"model": job.ModelID}).Errorf("run failed: %v", err)
		}
	}()

	if err := validateJob(job); err != nil {
		return nil, err
	}

	area, err := NewWorkArea(p.WorkDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := area.Release(); rerr != nil {
			p.log.Warnf("%v", rerr)
		}
	}()

	name := ModelName(job.ModelID)
	entry := p.log.WithFields(logrus.Fields{"model": job.ModelID})

	if err := p.transition(StateAcquiring); err != nil {
		return nil, err
	}
	entry.Infof("downloading %s", job.ModelID)
	srcDir, err := p.acquire(ctx, job, area)
	if err != nil {
		return nil, stageErr(StageAcquisition, err)
	}

	if err := p.transition(StateConverting); err != nil {
		return nil, err
	}
	fp16 := area.Path(fmt.Sprintf("%s-fp16.%s", name, p.Catalog.Extension))
	entry.Info("converting to FP16")
	if err := p.Tools.Convert(ctx, srcDir, fp16); err != nil {
		return nil, stageErr(StageConversion, err)
	}

	var imatrix string
	if job.CalibrationData != "" {
		if err := p.transition(StateCalibrating); err != nil {
			return nil, err
		}
		imatrix = area.Path("imatrix.dat")
		entry.Infof("generating importance matrix from %s", job.CalibrationData)
		if err := p.Tools.Calibrate(ctx, fp16, job.CalibrationData, imatrix); err != nil {
			return nil, stageErr(StageCalibration, err)
		}
	}

	if err := p.transition(StateQuantizing); err != nil {
		return nil, err
	}
	artifacts, err := p.quantize(ctx, name, fp16, job.OutputDir, imatrix)
	if err != nil {
		return nil, err
	}

	res = &Result{Artifacts: artifacts, Calibrated: imatrix != ""}

	// Intermediate files are no longer needed; free the space before uploading.
	if rerr := area.Release(); rerr != nil {
		p.log.Warnf("%v", rerr)
	}

	if job.SkipUpload {
		entry.Info("upload disabled, stopping after quantization")
		return res, p.transition(StateDone)
	}

	if err := p.transition(StatePublishing); err != nil {
		return nil, err
	}
	url, err := p.publish(ctx, job, artifacts)
	if err != nil {
		return nil, stageErr(StagePublication, err)
	}
	res.RepoURL = url

	return res, p.transition(StateDone)
}

func validateJob(job Job) error {
	var missing []string
	if job.ModelID == "" {
		missing = append(missing, "model id")
	}
	if job.OutputDir == "" {
		missing = append(missing, "output directory")
	}
	if job.TargetRepo == "" && !job.SkipUpload {
		missing = append(missing, "target repository")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid job: missing %s", strings.Join(missing, ", "))
	}
	if job.CalibrationData != "" {
		if _, err := os.Stat(job.CalibrationData); err != nil {
			return fmt.Errorf("invalid job: calibration data: %w", err)
		}
	}
	return nil
}

// acquire downloads the checkpoint's documentation, config, tokenizer and
// weight files into the work area. Safetensors weights are preferred over
// pickled .bin weights when the repository has both.
func (p *Pipeline) acquire(ctx context.Context, job Job, area *WorkArea) (string, error) {
	modelID := job.ModelID
	entries, err := p.Registry.ListTree(ctx, modelID, hub.DefaultRevision)
	if err != nil {
		return "", err
	}

	weights := binPattern
	if lo.ContainsBy(entries, func(e hub.TreeEntry) bool { return strings.HasSuffix(e.Path, ".safetensors") }) {
		weights = safetensorsPattern
	}

	files := hub.Select(entries, append(append([]string(nil), docPatterns...), weights))
	weightFiles := hub.Select(files, []string{weights})
	if len(weightFiles) == 0 {
		return "", fmt.Errorf("%s has no %s weight files", modelID, weights)
	}

	variants := len(p.Catalog.Plan(job.CalibrationData != ""))
	p.checkDiskSpace(area.Root(), job.OutputDir, weightFiles, variants)

	dir := area.Path(ModelName(modelID))
	if err := p.Registry.DownloadFiles(ctx, modelID, hub.DefaultRevision, dir, files); err != nil {
		return "", err
	}

	p.log.Debugf("downloaded %d files (%s weights) to %s", len(files), weights, dir)
	return dir, nil
}

// diskInfo is swapped out in tests
var diskInfo = system.GetDiskInfo

type diskNeed struct {
	dir   string
	bytes int64
	info  *system.DiskInfo
}

// checkDiskSpace warns when the work area or the output directory looks too
// small for the run and returns the warnings. Directories on one filesystem
// are checked against their combined need.
func (p *Pipeline) checkDiskSpace(workDir, outDir string, weights []hub.TreeEntry, variants int) []string {
	total := lo.SumBy(weights, func(e hub.TreeEntry) int64 { return e.Size })
	if total == 0 {
		return nil
	}

	needs := []*diskNeed{
		{dir: workDir, bytes: system.EstimateWorkBytes(total)},
		{dir: outDir, bytes: system.EstimateQuantizedBytes(total, variants)},
	}
	for _, n := range needs {
		info, err := diskInfo(existingAncestor(n.dir))
		if err != nil {
			p.log.Debugf("skipping disk space check: %v", err)
			return nil
		}
		n.info = info
	}

	if needs[0].info.Device == needs[1].info.Device {
		needs = []*diskNeed{{
			dir:   workDir,
			bytes: needs[0].bytes + needs[1].bytes,
			info:  needs[0].info,
		}}
	}

	var warnings []string
	for _, n := range needs {
		if n.info.AvailableBytes >= n.bytes {
			continue
		}
		msg := fmt.Sprintf("only %s free at %s, a full run may need about %s",
			system.FormatBytes(n.info.AvailableBytes), n.dir, system.FormatBytes(n.bytes))
		p.log.Warn(msg)
		warnings = append(warnings, msg)
	}
	return warnings
}

// existingAncestor returns dir or its closest parent that exists
func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

// quantize builds every planned target in catalog order. The first failure
// stops the loop.
func (p *Pipeline) quantize(ctx context.Context, name, fp16, outDir, imatrix string) ([]Artifact, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, stageErr(StageQuantization, fmt.Errorf("failed to create output directory: %w", err))
	}

	plan := p.Catalog.Plan(imatrix != "")
	artifacts := make([]Artifact, 0, len(plan))

	for i, target := range plan {
		out := filepath.Join(outDir, target.FileName(name, p.Catalog.Extension))

		matrix := ""
		if target.NeedsCalibration() {
			matrix = imatrix
		}

		p.log.WithFields(logrus.Fields{
			"format":   target.Label(),
			"progress": fmt.Sprintf("%d/%d", i+1, len(plan)),
		}).Info("quantizing")

		if err := p.Tools.Quantize(ctx, fp16, out, target.Tag(), matrix); err != nil {
			return nil, &StageError{Stage: StageQuantization, Tag: target.Label(), Err: err}
		}
		if err := p.verify(out); err != nil {
			return nil, &StageError{Stage: StageQuantization, Tag: target.Label(), Err: err}
		}

		artifacts = append(artifacts, Artifact{Tag: target.Label(), Path: out})
	}

	return artifacts, nil
}

// verify checks that the quantizer really left a file behind
func (p *Pipeline) verify(out string) error {
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("quantizer reported success but %s is missing: %w", out, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", out)
	}
	if p.VerifyArtifacts {
		if _, err := gguf.ReadHeader(out); err != nil {
			return err
		}
	}
	return nil
}

// publish creates or reuses the target repository and uploads the README and
// every artifact in one commit
func (p *Pipeline) publish(ctx context.Context, job Job, artifacts []Artifact) (string, error) {
	if len(artifacts) == 0 {
		return "", errors.New("nothing to upload")
	}

	repoID, err := p.Registry.ResolveRepoID(ctx, job.TargetRepo)
	if err != nil {
		return "", err
	}

	p.log.Infof("uploading %d files to %s", len(artifacts)+1, repoID)

	url, err := p.Registry.CreateRepo(ctx, repoID, job.Private)
	if err != nil {
		return "", err
	}

	readme, err := RenderReadme(Manifest{
		Repo:          repoID,
		OriginalModel: job.ModelID,
		Endpoint:      strings.TrimRight(p.Endpoint, "/"),
		Artifacts:     artifacts,
	})
	if err != nil {
		return "", err
	}

	ops := []hub.Operation{hub.AddBytes(ReadmeName, readme)}
	for _, a := range artifacts {
		ops = append(ops, hub.AddFile(a.FileName(), a.Path))
	}

	info, err := p.Registry.Commit(ctx, repoID, CommitMessage, ops)
	if err != nil {
		return "", err
	}
	p.log.Debugf("committed %s", info.CommitURL)

	return url, nil
}
