package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a burst of events to settle.
const DefaultDebounce = 2 * time.Second

// Watcher observes the roots and their top-level directories and calls
// trigger once per settled burst of filesystem events. It only nudges quick
// scans; scans remain the source of truth.
type Watcher struct {
	fw       *fsnotify.Watcher
	roots    []string
	skip     func(name string) bool
	debounce time.Duration
	trigger  func()
	logger   *slog.Logger
}

// NewWatcher creates a watcher over the scanner's roots.
func NewWatcher(s *Scanner, debounce time.Duration, trigger func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		fw:       fw,
		roots:    s.Roots(),
		skip:     s.skipDir,
		debounce: debounce,
		trigger:  trigger,
		logger:   logger,
	}, nil
}

// Run watches until ctx is cancelled, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	for _, root := range w.roots {
		w.add(root)
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !w.skip(e.Name()) {
				w.add(filepath.Join(root, e.Name()))
			}
		}
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if w.skip(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) && w.isTopLevel(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.Debug("filesystem changes settled, requesting quick scan")
			w.trigger()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) add(path string) {
	if err := w.fw.Add(path); err != nil {
		w.logger.Warn("cannot watch directory", "path", path, "error", err)
	}
}

func (w *Watcher) isTopLevel(path string) bool {
	parent := filepath.Dir(path)
	for _, root := range w.roots {
		if parent == root {
			return true
		}
	}
	return false
}
