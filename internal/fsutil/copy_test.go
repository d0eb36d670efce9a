package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyTree(t *testing.T) {
	t.Run("directory contents are merged", func(t *testing.T) {
		// --- Arrange ---
		src := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "run.sh"), []byte("#!/bin/sh"), 0o755))
		require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))
		dst := filepath.Join(t.TempDir(), "out")

		// --- Act ---
		err := CopyTree(src, dst)

		// --- Assert ---
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "a", string(data))

		info, err := os.Stat(filepath.Join(dst, "sub", "run.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

		link, err := os.Readlink(filepath.Join(dst, "link"))
		require.NoError(t, err)
		assert.Equal(t, "a.txt", link)
	})

	t.Run("single file", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "f.txt")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))
		dst := filepath.Join(t.TempDir(), "nested", "g.txt")

		require.NoError(t, CopyTree(src, dst))
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "x", string(data))
	})

	t.Run("missing source", func(t *testing.T) {
		err := CopyTree(filepath.Join(t.TempDir(), "nope"), t.TempDir())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ci_test-debian-11", SanitizeName("ci/test-debian-11"))
	assert.Equal(t, "test_0_", SanitizeName("test[0]"))
	assert.Equal(t, "_", SanitizeName(".."))
	assert.Equal(t, "_", SanitizeName(""))
}
