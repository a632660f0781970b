package discovery

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func dirEntries(t *testing.T, names ...string) []fs.DirEntry {
	t.Helper()
	fsys := fstest.MapFS{}
	for _, n := range names {
		fsys[n] = &fstest.MapFile{}
	}
	entries, err := fs.ReadDir(fsys, ".")
	require.NoError(t, err)
	return entries
}

func TestMarkerPredicate(t *testing.T) {
	p := NewMarkerPredicate()
	require.True(t, p.IsProject("/x", dirEntries(t, "README.md", "requirements.txt")))
	require.True(t, p.IsProject("/x", dirEntries(t, "Cargo.toml")))
	require.False(t, p.IsProject("/x", dirEntries(t, "README.md", "notes.txt")))

	custom := NewMarkerPredicate("Makefile")
	require.True(t, custom.IsProject("/x", dirEntries(t, "Makefile")))
	require.False(t, custom.IsProject("/x", dirEntries(t, "app.py")))
}

func TestMainScript(t *testing.T) {
	require.Nil(t, mainScript(dirEntries(t, "util.py")))
	require.Equal(t, "app.py", *mainScript(dirEntries(t, "webui.py", "app.py", "main.py")))
	require.Equal(t, "run.py", *mainScript(dirEntries(t, "run.py", "server.py")))
}
