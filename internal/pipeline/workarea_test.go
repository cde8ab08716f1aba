package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkAreaLifecycle(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "nested", "work")

	area, err := NewWorkArea(parent)
	if err != nil {
		t.Fatalf("NewWorkArea failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(area.Root()), "quantforge-") {
		t.Errorf("Unexpected work dir name %s", area.Root())
	}

	file := area.Path("model-x", "config.json")
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := area.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(area.Root()); !os.IsNotExist(err) {
		t.Errorf("Work dir still exists: %v", err)
	}
	if err := area.Release(); err != nil {
		t.Errorf("Second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(parent); err != nil {
		t.Errorf("Parent should survive: %v", err)
	}
}

func TestWorkAreaDistinctPerRun(t *testing.T) {
	parent := t.TempDir()

	a, err := NewWorkArea(parent)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := NewWorkArea(parent)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	if a.Root() == b.Root() {
		t.Errorf("Work areas share %s", a.Root())
	}
}
