package discovery

import "io/fs"

// Predicate decides whether a directory is a project boundary.
type Predicate interface {
	IsProject(dir string, entries []fs.DirEntry) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(dir string, entries []fs.DirEntry) bool

// IsProject calls f.
func (f PredicateFunc) IsProject(dir string, entries []fs.DirEntry) bool {
	return f(dir, entries)
}

// DefaultMarkers are files whose presence marks a project root.
var DefaultMarkers = []string{
	"requirements.txt",
	"pyproject.toml",
	"environment.yml",
	"environment.yaml",
	"conda.yaml",
	"setup.py",
	"Pipfile",
	"package.json",
	"go.mod",
	"Cargo.toml",
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	"app.py",
	"main.py",
	"webui.py",
}

// EntryScripts are candidate entry points in preference order.
var EntryScripts = []string{"app.py", "main.py", "run.py", "start.py", "launch.py", "webui.py", "server.py"}

// MarkerPredicate matches directories containing at least one marker file.
type MarkerPredicate struct {
	markers map[string]struct{}
}

// NewMarkerPredicate creates a MarkerPredicate. With no markers it uses DefaultMarkers.
func NewMarkerPredicate(markers ...string) *MarkerPredicate {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	set := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		set[m] = struct{}{}
	}
	return &MarkerPredicate{markers: set}
}

// IsProject reports whether entries contain a marker file.
func (p *MarkerPredicate) IsProject(_ string, entries []fs.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := p.markers[e.Name()]; ok {
			return true
		}
	}
	return false
}

// mainScript picks the preferred entry script present in entries.
func mainScript(entries []fs.DirEntry) *string {
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = struct{}{}
		}
	}
	for _, s := range EntryScripts {
		if _, ok := names[s]; ok {
			script := s
			return &script
		}
	}
	return nil
}

func hasGitDir(entries []fs.DirEntry) bool {
	for _, e := range entries {
		if e.Name() == ".git" {
			return true
		}
	}
	return false
}
