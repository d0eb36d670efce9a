package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/statedb"
)

func TestRenderKey(t *testing.T) {
	data := KeyData{
		Branch:      "main",
		Revision:    "abc123",
		Environment: map[string]string{"PYTHON": "3.11"},
		Checksum:    func(path string) (string, error) { return "sum-of-" + path, nil },
		Now:         time.Unix(1700000000, 0),
	}

	testCases := []struct {
		name    string
		tmpl    string
		want    string
		wantErr string
	}{
		{name: "literal", tmpl: "pip-v1", want: "pip-v1"},
		{name: "fields", tmpl: "pip-{{ .Branch }}-{{ .Revision }}-{{ .Environment.PYTHON }}", want: "pip-main-abc123-3.11"},
		{name: "checksum", tmpl: `deps-{{ checksum "requirements.txt" }}`, want: "deps-sum-of-requirements.txt"},
		{name: "epoch", tmpl: "build-{{ epoch }}", want: "build-1700000000"},
		{name: "missing env", tmpl: "x-{{ .Environment.NOPE }}", wantErr: "failed to render"},
		{name: "bad template", tmpl: "x-{{ .Branch", wantErr: "invalid cache key"},
		{name: "empty", tmpl: "{{ .Environment.EMPTY }}", wantErr: "failed to render"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RenderKey(tc.tmpl, data)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("arch", func(t *testing.T) {
		got, err := RenderKey("{{ arch }}", KeyData{})
		require.NoError(t, err)
		assert.Contains(t, got, "-")
	})
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("requests==2.31"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("requests==2.32"), 0o644))

	sumA, err := FileChecksum(a)
	require.NoError(t, err)
	sumB, err := FileChecksum(b)
	require.NoError(t, err)

	assert.Len(t, sumA, 64)
	assert.NotEqual(t, sumA, sumB)

	_, err = FileChecksum(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestPackUnpack(t *testing.T) {
	// --- Arrange ---
	staging := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "0", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "0", "pkg", "mod.txt"), []byte("module"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "2"), []byte("single file"), 0o600))
	paths := []string{"~/.cache/pip", "/missing", "venv.lock"}

	// --- Act ---
	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, staging, paths))
	out := t.TempDir()
	got, err := Unpack(&buf, out)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, paths, got)
	data, err := os.ReadFile(filepath.Join(out, "0", "pkg", "mod.txt"))
	require.NoError(t, err)
	assert.Equal(t, "module", string(data))
	data, err = os.ReadFile(filepath.Join(out, "2"))
	require.NoError(t, err)
	assert.Equal(t, "single file", string(data))
	assert.NoFileExists(t, filepath.Join(out, "1"))
}

func TestUnpack_Corrupt(t *testing.T) {
	_, err := Unpack(strings.NewReader("definitely not zstd"), t.TempDir())
	assert.Error(t, err)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := statedb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, t.TempDir())
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readEntry(t *testing.T, s *Store, e *Entry) string {
	t.Helper()
	rc, err := s.Open(e)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestStore(t *testing.T) {
	t.Run("entries are immutable", func(t *testing.T) {
		// --- Arrange ---
		s := newTestStore(t)
		ctx := context.Background()

		// --- Act ---
		saved1, err1 := s.Save(ctx, "pip-main-abc", writeString("first"))
		saved2, err2 := s.Save(ctx, "pip-main-abc", writeString("second"))

		// --- Assert ---
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, saved1)
		assert.False(t, saved2)

		e, err := s.Lookup(ctx, "pip-main-abc")
		require.NoError(t, err)
		assert.Equal(t, "first", readEntry(t, s, e))

		entries, err := os.ReadDir(s.dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no stray archive is left behind")
	})

	t.Run("exact match beats newer prefix match", func(t *testing.T) {
		s := newTestStore(t)
		ctx := context.Background()
		clock := time.Unix(1000, 0)
		s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

		_, err := s.Save(ctx, "pip-main", writeString("exact"))
		require.NoError(t, err)
		_, err = s.Save(ctx, "pip-main-newer", writeString("newer"))
		require.NoError(t, err)

		e, err := s.Lookup(ctx, "pip-main")
		require.NoError(t, err)
		assert.Equal(t, "pip-main", e.Key)
	})

	t.Run("prefix picks the most recent", func(t *testing.T) {
		s := newTestStore(t)
		ctx := context.Background()
		clock := time.Unix(1000, 0)
		s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

		_, err := s.Save(ctx, "pip-main-1", writeString("old"))
		require.NoError(t, err)
		_, err = s.Save(ctx, "pip-main-2", writeString("new"))
		require.NoError(t, err)
		_, err = s.Save(ctx, "pipx-other", writeString("unrelated"))
		require.NoError(t, err)

		e, err := s.Restore(ctx, []string{"pip-feature-", "pip-main-"})
		require.NoError(t, err)
		assert.Equal(t, "pip-main-2", e.Key)
		assert.Equal(t, "new", readEntry(t, s, e))
	})

	t.Run("miss", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Restore(context.Background(), []string{"nothing"})
		assert.True(t, errors.Is(err, ErrMiss))
	})

	t.Run("failed write leaves nothing behind", func(t *testing.T) {
		s := newTestStore(t)
		ctx := context.Background()

		saved, err := s.Save(ctx, "k", func(io.Writer) error { return errors.New("disk full") })

		require.Error(t, err)
		assert.False(t, saved)
		_, err = s.Lookup(ctx, "k")
		assert.ErrorIs(t, err, ErrMiss)
		entries, _ := os.ReadDir(s.dir)
		assert.Empty(t, entries)
	})

	t.Run("list and prune", func(t *testing.T) {
		s := newTestStore(t)
		ctx := context.Background()
		now := time.Unix(100000, 0)
		s.now = func() time.Time { return now }

		now = now.Add(-48 * time.Hour)
		_, err := s.Save(ctx, "old", writeString("o"))
		require.NoError(t, err)
		now = now.Add(48 * time.Hour)
		_, err = s.Save(ctx, "fresh", writeString("f"))
		require.NoError(t, err)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "fresh", list[0].Key)

		n, err := s.Prune(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		list, err = s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "fresh", list[0].Key)
		entries, _ := os.ReadDir(s.dir)
		assert.Len(t, entries, 1)
	})
}
