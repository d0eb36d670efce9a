package runenv

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T, wd string) *Local {
	t.Helper()
	l := NewLocal(filepath.Join(t.TempDir(), "job"), wd, nil)
	require.NoError(t, l.Prepare(context.Background()))
	return l
}

func TestLocal_Paths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "job")
	l := NewLocal(root, "/tmp/project", nil)

	assert.Equal(t, filepath.Join(root, "tmp", "project"), l.Home())
	assert.Equal(t, filepath.Join(root, "tmp", "project", "out"), l.Path("out"))
	assert.Equal(t, filepath.Join(root, "tmp", "project", ".cache"), l.Path("~/.cache"))
	assert.Equal(t, filepath.Join(root, "var", "log"), l.Path("/var/log"))
	assert.Equal(t, l.Home(), l.Path(l.Home()), "paths already inside the sandbox are kept")

	assert.Equal(t, filepath.Join(root, "project"), NewLocal(root, "", nil).Home())
}

func TestLocal_Exec(t *testing.T) {
	t.Run("exit code, env and working directory", func(t *testing.T) {
		// --- Arrange ---
		l := newTestLocal(t, "")
		var out bytes.Buffer

		// --- Act ---
		code, err := l.Exec(context.Background(), ExecRequest{
			Command: "echo \"$GREETING from $(basename \"$PWD\")\"; echo oops >&2; exit 3",
			Env:     map[string]string{"GREETING": "hello"},
			Dir:     "sub",
			Output:  &out,
		})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, 3, code)
		assert.Equal(t, "hello from sub\noops\n", out.String())
	})

	t.Run("custom shell", func(t *testing.T) {
		l := newTestLocal(t, "")
		var out bytes.Buffer

		code, err := l.Exec(context.Background(), ExecRequest{
			Command: "false; echo still running",
			Shell:   "/bin/sh",
			Output:  &out,
		})

		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Equal(t, "still running\n", out.String())
	})

	t.Run("default shell stops on first error", func(t *testing.T) {
		l := newTestLocal(t, "")
		var out bytes.Buffer

		code, err := l.Exec(context.Background(), ExecRequest{Command: "false; echo unreachable", Output: &out})

		require.NoError(t, err)
		assert.Equal(t, 1, code)
		assert.Empty(t, out.String())
	})

	t.Run("cancellation returns the cause", func(t *testing.T) {
		// --- Arrange ---
		l := newTestLocal(t, "")
		cause := errors.New("stop now")
		ctx, cancel := context.WithCancelCause(context.Background())
		time.AfterFunc(100*time.Millisecond, func() { cancel(cause) })

		// --- Act ---
		start := time.Now()
		_, err := l.Exec(ctx, ExecRequest{Command: "sleep 30", Output: &bytes.Buffer{}})

		// --- Assert ---
		require.ErrorIs(t, err, cause)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}

func TestLocal_Copy(t *testing.T) {
	// --- Arrange ---
	l := newTestLocal(t, "")
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "report.xml"), []byte("<testsuite/>"), 0o644))

	// --- Act ---
	require.NoError(t, l.CopyIn(context.Background(), src, "results"))
	out := filepath.Join(t.TempDir(), "copied")
	err := l.CopyOut(context.Background(), "results", out)

	// --- Assert ---
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(out, "report.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<testsuite/>", string(data))

	err = l.CopyOut(context.Background(), "missing", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLocal_Close(t *testing.T) {
	l := newTestLocal(t, "")
	require.NoError(t, l.Close(context.Background()))
	_, err := os.Stat(l.Home())
	assert.True(t, os.IsNotExist(err))

	kept := newTestLocal(t, "")
	kept.Keep = true
	require.NoError(t, kept.Close(context.Background()))
	assert.DirExists(t, kept.Home())
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendAuto, b)

	b, err = ParseBackend("docker")
	require.NoError(t, err)
	assert.Equal(t, BackendDocker, b)

	_, err = ParseBackend("kubernetes")
	assert.Error(t, err)
}
