// Package runenv provides the places a job's steps run in: a directory on
// the host, or a long-lived Docker container driven through the docker CLI.
//
// An Environment is prepared once per job, receives every step's command
// through Exec, exchanges files with the host through CopyIn and CopyOut,
// and is torn down with Close regardless of the job's outcome.
package runenv

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrImagePull is returned by Prepare when a job's image cannot be pulled.
// The job fails before any step runs.
var ErrImagePull = errors.New("image pull failed")

// DefaultShell runs commands when neither the step nor the job sets one.
const DefaultShell = "/bin/sh -e"

// ExecRequest describes one command to run inside an environment.
type ExecRequest struct {
	Command string
	// Shell is split on whitespace; the command is passed after "-c".
	Shell string
	Env   map[string]string
	// Dir is an environment path, see Environment.Path.
	Dir string
	// Output receives combined stdout and stderr.
	Output io.Writer
}

// Environment is where a job's steps execute.
type Environment interface {
	// Prepare creates the environment. For containers this pulls the image.
	Prepare(ctx context.Context) error
	// Exec runs a command and returns its exit code. A non-zero exit code is
	// not an error; err is reserved for failures to run the command at all,
	// including cancellation of ctx.
	Exec(ctx context.Context, req ExecRequest) (exitCode int, err error)
	// CopyIn copies a host file or directory to an environment path. The
	// contents of a directory are merged into the destination.
	CopyIn(ctx context.Context, hostPath, envPath string) error
	// CopyOut copies an environment path to a host path that must not exist
	// yet. It returns an error wrapping fs.ErrNotExist when envPath is missing.
	CopyOut(ctx context.Context, envPath, hostPath string) error
	// Home is the job's working directory inside the environment.
	Home() string
	// Path maps a path as written in the pipeline (absolute, relative to
	// Home, or starting with "~") to an environment path.
	Path(p string) string
	// Close removes the environment.
	Close(ctx context.Context) error
}

// resolvePath implements Environment.Path for slash-separated environments.
func resolvePath(home, p string) string {
	switch {
	case p == "" || p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		return path.Join(home, p[2:])
	case path.IsAbs(p):
		return path.Clean(p)
	default:
		return path.Join(home, p)
	}
}

func shellArgs(shell, command string) []string {
	if strings.TrimSpace(shell) == "" {
		shell = DefaultShell
	}
	return append(strings.Fields(shell), "-c", command)
}
