package runenv

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// Command is an external program invocation on the host.
type Command struct {
	Name string
	Args []string
	// Env is appended to the current process environment.
	Env    []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CommandRunner runs host commands. It exists so the docker backend and
// image builds can be tested without a docker daemon.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// waitDelay bounds how long Wait blocks on output pipes held open by
// orphaned grandchildren after the process itself exited or was killed.
const waitDelay = 5 * time.Second

// Run implements CommandRunner. Cancelling ctx kills the whole process group.
func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)
	return cmd.Run()
}

// ExitCode extracts a process exit code from err. ok is false when err does
// not describe a process that ran and exited.
func ExitCode(err error) (code int, ok bool) {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		if c := coded.ExitCode(); c >= 0 {
			return c, true
		}
	}
	return 0, false
}

// execResult converts the outcome of a command into Exec's contract.
func execResult(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, context.Cause(ctx)
	}
	if code, ok := ExitCode(err); ok {
		return code, nil
	}
	return -1, err
}
