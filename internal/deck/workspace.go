package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is a private scratch directory for one request. Everything the
// request writes lives under Dir and is removed by Close.
type Workspace struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// OpenWorkspace creates a fresh directory under root. An empty root uses the
// system temp directory.
func OpenWorkspace(root string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("deck: create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "essaydeck-*")
	if err != nil {
		return nil, fmt.Errorf("deck: create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the absolute path of name inside the workspace. name must be
// a bare file name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Create creates or truncates name inside the workspace.
func (w *Workspace) Create(name string) (*os.File, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("deck: workspace %s already closed", w.dir)
	}
	return os.Create(w.Path(name))
}

// Close removes the workspace and everything in it. It is safe to call more
// than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("deck: remove workspace: %w", err)
	}
	return nil
}
