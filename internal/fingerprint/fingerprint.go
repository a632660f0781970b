// Package fingerprint computes structural change signatures for directory trees.
//
// A digest covers relative path, size, modification time and kind of every
// entry within a bounded depth. File contents are never read. Trees larger
// than the entry cap are sampled: only the first entries in path order are
// hashed individually, while the aggregate size and entry count of the whole
// bounded walk are always folded in. Changes that only touch sampled-out
// entries without altering size or count go unnoticed until they do.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultMaxDepth   = 3
	DefaultMaxEntries = 2000
)

// DefaultIgnore lists directory names whose contents churn without the
// project itself changing.
var DefaultIgnore = []string{
	"node_modules",
	"__pycache__",
	"venv",
	"env",
	"site-packages",
	"dist",
	"build",
	"target",
}

// Options bounds the walk.
type Options struct {
	MaxDepth   int
	MaxEntries int
	Ignore     []string
}

// Digest is the result of fingerprinting one tree.
type Digest struct {
	Value     string `json:"value"`
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size"`
	Sampled   bool   `json:"sampled"`
	Skipped   int    `json:"skipped"`
}

type entry struct {
	rel   string
	size  int64
	mtime int64
	dir   bool
}

// Fingerprinter computes digests. It is safe for concurrent use.
type Fingerprinter struct {
	maxDepth   int
	maxEntries int
	ignore     map[string]struct{}
	logger     *slog.Logger
}

// New creates a Fingerprinter. Zero option values fall back to the defaults.
func New(opts Options, logger *slog.Logger) *Fingerprinter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}

	ignore := make(map[string]struct{}, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignore[name] = struct{}{}
	}

	return &Fingerprinter{
		maxDepth:   opts.MaxDepth,
		maxEntries: opts.MaxEntries,
		ignore:     ignore,
		logger:     logger,
	}
}

// Compute fingerprints the tree rooted at root. Unreadable subtrees are logged
// and left out of the digest; only a missing or unreadable root is an error.
func (f *Fingerprinter) Compute(ctx context.Context, root string) (Digest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return Digest{}, fmt.Errorf("%s is not a directory", root)
	}

	var (
		entries []entry
		skipped int
	)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			skipped++
			f.logger.Warn("skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if name == ".git" {
				// Only the checked-out ref matters, not the object store.
				if head, err := os.Stat(filepath.Join(path, "HEAD")); err == nil {
					entries = append(entries, entry{rel: rel + "/HEAD", size: head.Size(), mtime: head.ModTime().UnixNano()})
				}
				return fs.SkipDir
			}
			if strings.HasPrefix(name, ".") || f.ignored(name) {
				return fs.SkipDir
			}
		}

		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			skipped++
			f.logger.Warn("skipping entry without info", "path", path, "error", err)
			return nil
		}

		e := entry{rel: rel, mtime: fi.ModTime().UnixNano(), dir: d.IsDir()}
		if !e.dir {
			e.size = fi.Size()
		}
		entries = append(entries, e)

		if d.IsDir() && strings.Count(rel, "/")+1 >= f.maxDepth {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return Digest{}, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return f.digest(entries, skipped), nil
}

func (f *Fingerprinter) ignored(name string) bool {
	_, ok := f.ignore[name]
	return ok
}

func (f *Fingerprinter) digest(entries []entry, skipped int) Digest {
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	var total int64
	for _, e := range entries {
		total += e.size
	}

	hashed := entries
	sampled := false
	if len(hashed) > f.maxEntries {
		hashed = hashed[:f.maxEntries]
		sampled = true
	}

	h := xxhash.New()
	buf := make([]byte, 0, 256)
	for _, e := range hashed {
		buf = buf[:0]
		buf = append(buf, e.rel...)
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, e.size, 10)
		buf = append(buf, '|')
		buf = strconv.AppendInt(buf, e.mtime, 10)
		buf = append(buf, '|')
		buf = strconv.AppendBool(buf, e.dir)
		buf = append(buf, '\n')
		_, _ = h.Write(buf)
	}
	_, _ = fmt.Fprintf(h, "#%d|%d", len(entries), total)

	return Digest{
		Value:     fmt.Sprintf("%016x", h.Sum64()),
		Entries:   len(entries),
		TotalSize: total,
		Sampled:   sampled,
		Skipped:   skipped,
	}
}
