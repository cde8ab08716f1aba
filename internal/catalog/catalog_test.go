package catalog

import (
	"strings"
	"testing"

	"github.com/xupit3r/quantforge/internal/config"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	if len(c.Standard()) != 12 {
		t.Errorf("Expected 12 standard targets, got %d", len(c.Standard()))
	}
	if len(c.Calibrated()) != 8 {
		t.Errorf("Expected 8 calibrated targets, got %d", len(c.Calibrated()))
	}
	if c.Extension != "gguf" {
		t.Errorf("Expected gguf extension, got %s", c.Extension)
	}

	first, last := c.Standard()[0], c.Standard()[11]
	if first.Tag() != "Q2_K" || last.Tag() != "Q8_0" {
		t.Errorf("Unexpected standard order: %s ... %s", first.Tag(), last.Tag())
	}
}

func TestPlan(t *testing.T) {
	c := Default()

	plain := c.Plan(false)
	if len(plain) != 12 {
		t.Fatalf("Expected 12 targets without calibration, got %d", len(plain))
	}
	for _, target := range plain {
		if target.NeedsCalibration() {
			t.Errorf("Target %s should not need calibration", target.Tag())
		}
	}

	full := c.Plan(true)
	if len(full) != 20 {
		t.Fatalf("Expected 20 targets with calibration, got %d", len(full))
	}
	for i, target := range full {
		if (i >= 12) != target.NeedsCalibration() {
			t.Errorf("Target %d (%s) out of order", i, target.Label())
		}
	}
}

func TestTargetNaming(t *testing.T) {
	tests := []struct {
		target    Target
		wantLabel string
		wantFile  string
	}{
		{NewFormat("Q4_K_M"), "Q4_K_M", "model-x-Q4_K_M.gguf"},
		{NewFormat("Q8_0"), "Q8_0", "model-x-Q8_0.gguf"},
		{NewCalibratedFormat("IQ4_XS"), "IQ4_XS_IMAT", "model-x-IQ4_XS_imat.gguf"},
		{NewCalibratedFormat("Q4_K_M"), "Q4_K_M_IMAT", "model-x-Q4_K_M_imat.gguf"},
	}

	for _, tt := range tests {
		t.Run(tt.wantLabel, func(t *testing.T) {
			if got := tt.target.Label(); got != tt.wantLabel {
				t.Errorf("Label() = %s, want %s", got, tt.wantLabel)
			}
			if got := tt.target.FileName("model-x", "gguf"); got != tt.wantFile {
				t.Errorf("FileName() = %s, want %s", got, tt.wantFile)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.CatalogConfig{
		Extension:  ".gguf",
		Standard:   []string{"Q4_0", "Q8_0"},
		Calibrated: []string{"Q4_0"},
	})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if c.Extension != "gguf" {
		t.Errorf("Leading dot should be trimmed, got %s", c.Extension)
	}

	labels := []string{}
	for _, target := range c.All() {
		labels = append(labels, target.Label())
	}
	if strings.Join(labels, ",") != "Q4_0,Q8_0,Q4_0_IMAT" {
		t.Errorf("Unexpected labels %v", labels)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name       string
		ext        string
		standard   []string
		calibrated []string
	}{
		{"no extension", "", []string{"Q4_0"}, nil},
		{"empty tag", "gguf", []string{"Q4_0", " "}, nil},
		{"duplicate", "gguf", []string{"Q4_0", "Q4_0"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.ext, tt.standard, tt.calibrated); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}
