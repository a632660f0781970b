// Package discovery walks the configured roots, finds project directories and
// reconciles them against the catalog.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
	"github.com/Jagard11/Launcher/internal/fingerprint"
	"github.com/Jagard11/Launcher/internal/metrics"
	"github.com/Jagard11/Launcher/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxDepth    = 4
	DefaultParallelism = 4
)

// Fingerprinter computes the change signature of a project directory.
type Fingerprinter interface {
	Compute(ctx context.Context, root string) (fingerprint.Digest, error)
}

// EnvResolver maps a project directory to its environment descriptor.
type EnvResolver interface {
	Resolve(dir string) project.Environment
}

// DeltaKind classifies a reconciliation outcome worth reacting to.
type DeltaKind string

const (
	DeltaCreated DeltaKind = "created"
	DeltaChanged DeltaKind = "changed"
	DeltaRemoved DeltaKind = "removed"
)

// Delta is emitted for every project a scan created, changed or removed.
type Delta struct {
	Kind      DeltaKind `json:"kind"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Dirty     bool      `json:"dirty"`
	At        time.Time `json:"at"`
}

// Result summarizes one scan.
type Result struct {
	SessionID string         `json:"session_id"`
	Kind      session.Kind   `json:"kind"`
	Counts    session.Counts `json:"counts"`
	Deltas    []Delta        `json:"deltas"`
}

// Options bounds the walk.
type Options struct {
	Roots       []string
	MaxDepth    int
	Ignore      []string
	Parallelism int
}

// Deps are the scanner's collaborators. Activity and Deltas are optional.
type Deps struct {
	Projects      project.Repository
	Sessions      *session.Service
	Activity      *activity.Service
	Fingerprinter Fingerprinter
	Resolver      EnvResolver
	Predicate     Predicate
	// Deltas receives every delta as it is produced.
	Deltas chan<- Delta
	Logger *slog.Logger
}

// Scanner runs quick and full scans. Scans are serialized.
type Scanner struct {
	projects  project.Repository
	sessions  *session.Service
	activity  *activity.Service
	fp        Fingerprinter
	env       EnvResolver
	predicate Predicate
	deltas    chan<- Delta
	logger    *slog.Logger

	roots       []string
	maxDepth    int
	parallelism int
	ignore      map[string]struct{}

	mu sync.Mutex
}

// NewScanner creates a Scanner.
func NewScanner(deps Deps, opts Options) *Scanner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	predicate := deps.Predicate
	if predicate == nil {
		predicate = NewMarkerPredicate()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Ignore == nil {
		opts.Ignore = fingerprint.DefaultIgnore
	}
	ignore := make(map[string]struct{}, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignore[name] = struct{}{}
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		roots = append(roots, filepath.Clean(r))
	}

	return &Scanner{
		projects:    deps.Projects,
		sessions:    deps.Sessions,
		activity:    deps.Activity,
		fp:          deps.Fingerprinter,
		env:         deps.Resolver,
		predicate:   predicate,
		deltas:      deps.Deltas,
		logger:      logger,
		roots:       roots,
		maxDepth:    opts.MaxDepth,
		parallelism: opts.Parallelism,
		ignore:      ignore,
	}
}

// Roots returns the configured roots.
func (s *Scanner) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Scan runs one scan of every root. A quick scan only descends into top-level
// directories modified since the last completed quick scan and removes known
// projects whose directory no longer exists. A full scan walks everything and
// removes every known project under a root it did not observe.
func (s *Scanner) Scan(ctx context.Context, kind session.Kind) (*Result, error) {
	if kind != session.KindQuick && kind != session.KindFull {
		return nil, fmt.Errorf("unknown scan kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var since *time.Time
	if kind == session.KindQuick {
		last, err := s.sessions.LastCompleted(ctx, session.KindQuick)
		if err != nil {
			return nil, err
		}
		if last != nil {
			since = &last.StartedAt
		}
	}

	sess, err := s.sessions.Begin(ctx, kind, s.roots)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("session_id", sess.ID, "kind", kind)
	logger.Info("scan started", "roots", len(s.roots), "incremental", since != nil)

	result := &Result{SessionID: sess.ID, Kind: kind}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, root := range s.roots {
		g.Go(func() error {
			w := &rootWalk{
				scanner:  s,
				root:     root,
				kind:     kind,
				since:    since,
				session:  sess,
				logger:   logger.With("root", root),
				observed: make(map[string]struct{}),
			}
			err := w.run(gctx)

			mu.Lock()
			addCounts(&result.Counts, w.counts)
			result.Deltas = append(result.Deltas, w.deltas...)
			mu.Unlock()
			return err
		})
	}
	scanErr := g.Wait()

	// The session must close even when the scan context is gone.
	closeCtx := context.WithoutCancel(ctx)
	if err := s.sessions.Finish(closeCtx, sess, result.Counts, scanErr); err != nil {
		logger.Error("failed to close scan session", "error", err)
	}

	status := string(session.StatusCompleted)
	if scanErr != nil {
		status = string(session.StatusFailed)
	}
	metrics.ScansTotal.WithLabelValues(string(kind), status).Inc()
	metrics.ScanDuration.WithLabelValues(string(kind)).Observe(time.Since(sess.StartedAt).Seconds())

	if scanErr != nil {
		return result, fmt.Errorf("scanning roots: %w", scanErr)
	}
	return result, nil
}

func addCounts(dst *session.Counts, c session.Counts) {
	dst.Discovered += c.Discovered
	dst.Changed += c.Changed
	dst.Unchanged += c.Unchanged
	dst.Removed += c.Removed
	dst.Errored += c.Errored
}

func (s *Scanner) skipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := s.ignore[name]
	return ok
}

// rootWalk is the state of one root within a scan. It is owned by one goroutine.
type rootWalk struct {
	scanner *Scanner
	root    string
	kind    session.Kind
	since   *time.Time
	session *session.Session
	logger  *slog.Logger

	observed map[string]struct{}
	// unreadable holds subtrees whose known projects must not be removed.
	unreadable []string
	counts     session.Counts
	deltas     []Delta
}

func (w *rootWalk) run(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		// An unreadable root (unmounted drive, bad config) must not wipe its projects.
		w.logger.Warn("skipping unreadable root", "error", err)
		w.counts.Errored++
		return nil
	}

	for _, e := range entries {
		if !e.IsDir() || w.scanner.skipDir(e.Name()) {
			continue
		}
		child := filepath.Join(w.root, e.Name())
		if w.since != nil {
			info, err := e.Info()
			if err == nil && !info.ModTime().After(*w.since) {
				continue
			}
		}
		if err := w.walk(ctx, child, 1); err != nil {
			return err
		}
	}

	return w.removeMissing(ctx)
}

func (w *rootWalk) walk(ctx context.Context, dir string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
		w.unreadable = append(w.unreadable, dir)
		w.counts.Errored++
		return nil
	}

	if w.scanner.predicate.IsProject(dir, entries) {
		if err := w.visit(ctx, dir, entries); err != nil {
			return err
		}
	}

	if depth >= w.scanner.maxDepth {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || w.scanner.skipDir(e.Name()) {
			continue
		}
		if err := w.walk(ctx, filepath.Join(dir, e.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// visit fingerprints and reconciles one project directory. Per-project failures
// are counted and logged; only cancellation aborts the walk.
func (w *rootWalk) visit(ctx context.Context, dir string, entries []fs.DirEntry) error {
	w.observed[dir] = struct{}{}
	logger := w.logger.With("path", dir)

	digest, err := w.scanner.fp.Compute(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("failed to fingerprint project", "error", err)
		w.counts.Errored++
		return nil
	}

	out, err := w.scanner.projects.Reconcile(ctx, project.ReconcileInput{
		Path:        dir,
		Root:        w.root,
		Name:        filepath.Base(dir),
		Fingerprint: digest.Value,
		Environment: w.scanner.env.Resolve(dir),
		IsGit:       hasGitDir(entries),
		SizeBytes:   digest.TotalSize,
		MainScript:  mainScript(entries),
		ScannedAt:   w.session.StartedAt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, repository.ErrConflict) {
			// Writes per identity are serialized, so this is a broken invariant.
			logger.Error("write conflict while reconciling project", "error", err)
		} else {
			logger.Warn("failed to reconcile project", "error", err)
		}
		w.counts.Errored++
		return nil
	}

	switch {
	case out.Result == project.ReconcileCreated:
		w.counts.Discovered++
		w.emit(ctx, Delta{Kind: DeltaCreated, ProjectID: out.Project.ID, Path: dir, Dirty: true}, activity.TypeDiscovered,
			"Discovered "+out.Project.Name, map[string]any{"fingerprint": digest.Value, "entries": digest.Entries, "sampled": digest.Sampled})
	case out.Changed:
		w.counts.Changed++
		w.emit(ctx, Delta{Kind: DeltaChanged, ProjectID: out.Project.ID, Path: dir, Dirty: out.Project.Dirty}, activity.TypeChanged,
			"Contents changed", map[string]any{"fingerprint": digest.Value, "status": out.Project.Status})
	default:
		w.counts.Unchanged++
	}
	return nil
}

func (w *rootWalk) removeMissing(ctx context.Context) error {
	known, err := w.scanner.projects.ListPathsUnder(ctx, w.root)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("failed to list known projects", "error", err)
		w.counts.Errored++
		return nil
	}

	for path, id := range known {
		if _, ok := w.observed[path]; ok || w.underUnreadable(path) {
			continue
		}
		if w.kind == session.KindQuick {
			if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
				continue
			}
		}

		if err := w.scanner.projects.Remove(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, repository.ErrTombstoned) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			w.logger.Warn("failed to remove project", "path", path, "error", err)
			w.counts.Errored++
			continue
		}
		w.counts.Removed++
		w.emit(ctx, Delta{Kind: DeltaRemoved, ProjectID: id, Path: path}, activity.TypeRemoved,
			"No longer present on disk", nil)
	}
	return nil
}

func (w *rootWalk) underUnreadable(path string) bool {
	for _, dir := range w.unreadable {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *rootWalk) emit(ctx context.Context, d Delta, typ activity.ActivityType, summary string, details any) {
	d.At = time.Now().UTC()
	w.deltas = append(w.deltas, d)
	metrics.ScanDeltas.WithLabelValues(string(w.kind), string(d.Kind)).Inc()

	if w.scanner.activity != nil {
		sessionID := w.session.ID
		w.scanner.activity.Record(ctx, activity.ActivityEntry{
			ProjectID:    d.ProjectID,
			SessionID:    &sessionID,
			ActivityType: typ,
			Summary:      summary,
		}, details)
	}

	if w.scanner.deltas != nil {
		select {
		case w.scanner.deltas <- d:
		case <-ctx.Done():
		}
	}
}
