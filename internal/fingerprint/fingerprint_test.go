package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func compute(t *testing.T, f *Fingerprinter, root string) Digest {
	t.Helper()
	d, err := f.Compute(context.Background(), root)
	require.NoError(t, err)
	return d
}

func TestCompute_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "print('hi')")
	writeFile(t, filepath.Join(root, "pkg", "util.py"), "x = 1")

	f := New(Options{}, nil)
	first := compute(t, f, root)
	second := compute(t, f, root)

	require.Equal(t, first, second)
	require.Len(t, first.Value, 16)
	require.Equal(t, 3, first.Entries)
	require.Equal(t, int64(16), first.TotalSize)
	require.False(t, first.Sampled)
}

func TestCompute_SensitiveToStructuralChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "print('hi')")
	f := New(Options{}, nil)
	base := compute(t, f, root)

	t.Run("addition", func(t *testing.T) {
		writeFile(t, filepath.Join(root, "new.py"), "")
		require.NotEqual(t, base.Value, compute(t, f, root).Value)
		require.NoError(t, os.Remove(filepath.Join(root, "new.py")))
	})

	t.Run("size", func(t *testing.T) {
		before := compute(t, f, root)
		writeFile(t, filepath.Join(root, "app.py"), "print('hello world')")
		require.NotEqual(t, before.Value, compute(t, f, root).Value)
	})

	t.Run("mtime", func(t *testing.T) {
		before := compute(t, f, root)
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(root, "app.py"), later, later))
		require.NotEqual(t, before.Value, compute(t, f, root).Value)
	})

	t.Run("removal", func(t *testing.T) {
		before := compute(t, f, root)
		require.NoError(t, os.Remove(filepath.Join(root, "app.py")))
		require.NotEqual(t, before.Value, compute(t, f, root).Value)
	})
}

func TestCompute_DoesNotReadContents(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "app.py")
	writeFile(t, path, "aaaa")
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	f := New(Options{}, nil)
	before := compute(t, f, root)

	writeFile(t, path, "bbbb")
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	require.Equal(t, before.Value, compute(t, f, root).Value)
}

func TestCompute_BoundedDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b", "c", "deep.py"), "")

	f := New(Options{MaxDepth: 2}, nil)
	base := compute(t, f, root)
	require.Equal(t, 2, base.Entries, "a and a/b only")

	deep := filepath.Join(root, "a", "b", "c", "deeper.py")
	writeFile(t, deep, "")
	// a/b/c is below the depth bound; only its parent's mtime could reveal it.
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "b"), stamp, stamp))
	first := compute(t, f, root)
	require.NoError(t, os.Remove(deep))
	require.NoError(t, os.Chtimes(filepath.Join(root, "a", "b"), stamp, stamp))
	require.Equal(t, first.Value, compute(t, f, root).Value)
}

func TestCompute_SkipsHiddenAndIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "")
	f := New(Options{}, nil)

	writeFile(t, filepath.Join(root, "node_modules", "x", "index.js"), "")
	writeFile(t, filepath.Join(root, ".cache", "blob"), "")
	writeFile(t, filepath.Join(root, "__pycache__", "app.pyc"), "")
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(root, stamp, stamp))
	base := compute(t, f, root)
	require.Equal(t, 1, base.Entries)

	writeFile(t, filepath.Join(root, "node_modules", "y", "index.js"), "more")
	writeFile(t, filepath.Join(root, ".cache", "blob2"), "more")
	require.Equal(t, base.Value, compute(t, f, root).Value)
}

func TestCompute_GitHeadOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(root, ".git", "objects", "ab", "cdef"), "blob")

	f := New(Options{}, nil)
	base := compute(t, f, root)
	require.Equal(t, 1, base.Entries)

	writeFile(t, filepath.Join(root, ".git", "objects", "ab", "0123"), "blob")
	require.Equal(t, base.Value, compute(t, f, root).Value)

	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/feature\n")
	require.NotEqual(t, base.Value, compute(t, f, root).Value)
}

func TestCompute_SamplesLargeTrees(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py", "d.py", "e.py"} {
		writeFile(t, filepath.Join(root, name), "x")
	}

	f := New(Options{MaxEntries: 3}, nil)
	base := compute(t, f, root)
	require.True(t, base.Sampled)
	require.Equal(t, 5, base.Entries)
	require.Equal(t, int64(5), base.TotalSize)

	// An mtime-only change past the cap is an accepted false negative.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "e.py"), later, later))
	require.Equal(t, base.Value, compute(t, f, root).Value)

	// Aggregate size still catches growth past the cap.
	writeFile(t, filepath.Join(root, "e.py"), "xxxx")
	require.NoError(t, os.Chtimes(filepath.Join(root, "e.py"), later, later))
	require.NotEqual(t, base.Value, compute(t, f, root).Value)
}

func TestCompute_UnreadableSubtreeExcluded(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "")
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "secret.py"), "")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	d, err := New(Options{}, nil).Compute(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, d.Skipped)
}

func TestCompute_Errors(t *testing.T) {
	f := New(Options{}, nil)

	_, err := f.Compute(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "")
	_, err = f.Compute(context.Background(), file)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "")
	_, err = f.Compute(ctx, root)
	require.ErrorIs(t, err, context.Canceled)
}
