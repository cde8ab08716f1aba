package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// WorkArea is a temporary directory owned by a single run
type WorkArea struct {
	root string
	once sync.Once
	err  error
}

// NewWorkArea creates a fresh directory below parent, or below the system
// temp directory when parent is empty.
func NewWorkArea(parent string) (*WorkArea, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work directory parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(parent, "quantforge-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &WorkArea{root: root}, nil
}

// Root returns the directory itself
func (w *WorkArea) Root() string {
	return w.root
}

// Path joins elem onto the work directory
func (w *WorkArea) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Release removes the directory and everything in it. Safe to call more than
// once; later calls return the first result.
func (w *WorkArea) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.root); err != nil {
			w.err = fmt.Errorf("failed to remove work directory %s: %w", w.root, err)
		}
	})
	return w.err
}
