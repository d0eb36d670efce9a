package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/fsutil"
)

// PersistWorkspace copies paths (relative to srcRoot, a host directory) into
// node's workspace, preserving their relative layout. Repeated calls
// accumulate.
func (d *RunDir) PersistWorkspace(node, srcRoot string, paths []string) error {
	dst := d.WorkspaceDir(node)
	for _, p := range paths {
		rel := filepath.Clean(filepath.FromSlash(p))
		if filepath.IsAbs(rel) || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
			return fmt.Errorf("workspace path %q must be relative to the root", p)
		}
		if err := fsutil.CopyTree(filepath.Join(srcRoot, rel), filepath.Join(dst, rel)); err != nil {
			return fmt.Errorf("failed to persist %q: %w", p, err)
		}
	}
	return nil
}

// HasWorkspace reports whether node persisted anything.
func (d *RunDir) HasWorkspace(node string) bool {
	entries, err := os.ReadDir(d.WorkspaceDir(node))
	return err == nil && len(entries) > 0
}
