package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/pipegrid/internal/fsutil"
)

const (
	logsDir        = "logs"
	artifactsDir   = "artifacts"
	testResultsDir = "test-results"
	workspaceDir   = "workspace"
	// ReportFile is the name of the run report inside a run directory.
	ReportFile = "report.json"
)

// RunsDir returns the directory holding every run under stateDir.
func RunsDir(stateDir string) string {
	return filepath.Join(stateDir, "runs")
}

// RunDir is the directory of one run.
type RunDir struct {
	Root string
}

// NewRunDir creates the directory tree for runID below stateDir.
func NewRunDir(stateDir, runID string) (*RunDir, error) {
	d := &RunDir{Root: filepath.Join(RunsDir(stateDir), runID)}
	for _, sub := range []string{logsDir, artifactsDir, testResultsDir, workspaceDir} {
		if err := os.MkdirAll(filepath.Join(d.Root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}
	return d, nil
}

// nodeDir returns the per-node subdirectory of kind.
func (d *RunDir) nodeDir(kind, node string) string {
	return filepath.Join(d.Root, kind, fsutil.SanitizeName(node))
}

// CreateLog creates the log file of step index of node and returns it along
// with its path relative to the run directory.
func (d *RunDir) CreateLog(node string, index int, stepName string) (*os.File, string, error) {
	dir := d.nodeDir(logsDir, node)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("%02d-%s.log", index, fsutil.SanitizeName(stepName))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create step log: %w", err)
	}
	return f, d.Rel(path), nil
}

// ArtifactDir is where store_artifacts places files for node.
func (d *RunDir) ArtifactDir(node string) string { return d.nodeDir(artifactsDir, node) }

// TestResultsDir is where store_test_results places files for node.
func (d *RunDir) TestResultsDir(node string) string { return d.nodeDir(testResultsDir, node) }

// WorkspaceDir holds the workspace node persisted.
func (d *RunDir) WorkspaceDir(node string) string { return d.nodeDir(workspaceDir, node) }

// ReportPath is the location of report.json.
func (d *RunDir) ReportPath() string { return filepath.Join(d.Root, ReportFile) }

// Rel returns p relative to the run directory, or p itself if it lies outside.
func (d *RunDir) Rel(p string) string {
	rel, err := filepath.Rel(d.Root, p)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return p
	}
	return filepath.ToSlash(rel)
}

// Files lists every regular file below dir, relative to the run directory,
// in lexical order. A missing dir yields no files.
func (d *RunDir) Files(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, e os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if e.Type().IsRegular() {
			out = append(out, d.Rel(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
