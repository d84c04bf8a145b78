package gitbundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// workspace is a per-call, exclusively-owned temporary directory. One is
// created for every fetch/push and released on every exit path; nothing is
// ever shared between concurrent calls.
type workspace struct {
	root string
}

// newWorkspace creates a uniquely named directory under base. An empty base
// falls back to the system temp directory.
func newWorkspace(base string) (*workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	root := filepath.Join(base, "bundle-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &workspace{root: root}, nil
}

// path joins elements under the workspace root.
func (w *workspace) path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// release removes the workspace. A removal failure is logged, never allowed
// to mask the primary operation's result.
func (w *workspace) release(log *zap.Logger) {
	if err := os.RemoveAll(w.root); err != nil {
		log.Error("failed to remove workspace",
			zap.String("dir", w.root),
			zap.Error(err),
		)
	}
}
