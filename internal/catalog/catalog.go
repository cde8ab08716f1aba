// Package catalog holds the precision formats a model is quantized into.
//
// Formats come from configuration. Standard formats are always produced;
// calibrated formats are produced only when an importance matrix exists.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/xupit3r/quantforge/internal/config"
)

// CalibratedSuffix marks artifacts built with an importance matrix
const CalibratedSuffix = "_IMAT"

// Target is one quantization the pipeline produces
type Target interface {
	// Tag is the type name passed to the quantizer, e.g. Q4_K_M
	Tag() string
	// Label names the produced artifact in reports and the README
	Label() string
	// FileName is the artifact's file name for the given model
	FileName(model, ext string) string
	// NeedsCalibration reports whether an importance matrix is required
	NeedsCalibration() bool
}

// Format is a plain quantization target
type Format struct {
	tag string
}

// NewFormat creates a standard target
func NewFormat(tag string) Format { return Format{tag: tag} }

func (f Format) Tag() string            { return f.tag }
func (f Format) Label() string          { return f.tag }
func (f Format) NeedsCalibration() bool { return false }

func (f Format) FileName(model, ext string) string {
	return fmt.Sprintf("%s-%s.%s", model, f.tag, ext)
}

// CalibratedFormat is a target quantized with an importance matrix
type CalibratedFormat struct {
	tag string
}

// NewCalibratedFormat creates a target that needs calibration
func NewCalibratedFormat(tag string) CalibratedFormat { return CalibratedFormat{tag: tag} }

func (f CalibratedFormat) Tag() string            { return f.tag }
func (f CalibratedFormat) Label() string          { return f.tag + CalibratedSuffix }
func (f CalibratedFormat) NeedsCalibration() bool { return true }

func (f CalibratedFormat) FileName(model, ext string) string {
	return fmt.Sprintf("%s-%s_imat.%s", model, f.tag, ext)
}

// Catalog is an ordered set of targets
type Catalog struct {
	Extension string
	targets   []Target
}

// New builds a catalog from tag lists
func New(ext string, standard, calibrated []string) (*Catalog, error) {
	if ext == "" {
		return nil, errors.New("catalog extension must be set")
	}
	ext = strings.TrimPrefix(ext, ".")

	c := &Catalog{Extension: ext}
	for _, tag := range standard {
		c.targets = append(c.targets, NewFormat(strings.TrimSpace(tag)))
	}
	for _, tag := range calibrated {
		c.targets = append(c.targets, NewCalibratedFormat(strings.TrimSpace(tag)))
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromConfig builds the catalog described by the catalog config section
func FromConfig(cfg config.CatalogConfig) (*Catalog, error) {
	return New(cfg.Extension, cfg.Standard, cfg.Calibrated)
}

// Default returns the stock llama.cpp catalog
func Default() *Catalog {
	c, err := New("gguf", config.DefaultStandardFormats, config.DefaultCalibratedFormats)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) validate() error {
	for _, t := range c.targets {
		if t.Tag() == "" {
			return errors.New("catalog contains an empty format tag")
		}
	}
	labels := lo.Map(c.targets, func(t Target, _ int) string { return t.Label() })
	if dups := lo.FindDuplicates(labels); len(dups) > 0 {
		return fmt.Errorf("catalog lists formats more than once: %v", dups)
	}
	return nil
}

// All returns every target, standard first
func (c *Catalog) All() []Target {
	return append([]Target(nil), c.targets...)
}

// Standard returns the targets that need no calibration
func (c *Catalog) Standard() []Target {
	return lo.Filter(c.targets, func(t Target, _ int) bool { return !t.NeedsCalibration() })
}

// Calibrated returns the targets that need an importance matrix
func (c *Catalog) Calibrated() []Target {
	return lo.Filter(c.targets, func(t Target, _ int) bool { return t.NeedsCalibration() })
}

// Plan returns the targets to build, in order. Calibrated targets are only
// included when calibrated is true.
func (c *Catalog) Plan(calibrated bool) []Target {
	if calibrated {
		return append(c.Standard(), c.Calibrated()...)
	}
	return c.Standard()
}
