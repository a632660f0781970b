// Package dirty turns scan deltas and manual requests into enrichment work and
// wakes the pipeline when there is some.
package dirty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Jagard11/Launcher/internal/discovery"
	"github.com/Jagard11/Launcher/internal/domain/activity"
	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/enrich"
	"github.com/Jagard11/Launcher/internal/metrics"
	"github.com/Jagard11/Launcher/internal/repository"
)

// Tracker owns the wake signal. The dirty flags themselves live in the store.
type Tracker struct {
	projects project.Repository
	activity *activity.Service
	wake     chan struct{}
	logger   *slog.Logger
}

// NewTracker creates a Tracker. act may be nil.
func NewTracker(projects project.Repository, act *activity.Service, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		projects: projects,
		activity: act,
		wake:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Wake fires at least once after any number of Notify calls.
func (t *Tracker) Wake() <-chan struct{} {
	return t.wake
}

// Notify signals that dirty work may be waiting. It never blocks.
func (t *Tracker) Notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Consume reads scan deltas until ctx ends or the channel is closed.
func (t *Tracker) Consume(ctx context.Context, deltas <-chan discovery.Delta) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				return
			}
			if !d.Dirty {
				continue
			}
			reason := project.ReasonChanged
			if d.Kind == discovery.DeltaCreated {
				reason = project.ReasonNew
			}
			metrics.DirtyMarks.WithLabelValues(string(reason)).Inc()
			t.logger.Debug("project queued for enrichment", "project_id", d.ProjectID, "path", d.Path, "reason", reason)
			t.Notify()
		}
	}
}

// MarkDirty forces a project back into the enrichment queue.
func (t *Tracker) MarkDirty(ctx context.Context, id string) (*project.Project, error) {
	p, err := t.projects.MarkDirty(ctx, id, project.ReasonForced)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, project.ErrProjectNotFound
		case errors.Is(err, repository.ErrTombstoned):
			return nil, project.ErrProjectRemoved
		}
		return nil, fmt.Errorf("marking project dirty: %w", err)
	}

	metrics.DirtyMarks.WithLabelValues(string(project.ReasonForced)).Inc()
	if t.activity != nil {
		t.activity.Record(ctx, activity.ActivityEntry{
			ProjectID:    p.ID,
			ActivityType: activity.TypeMarkedDirty,
			Summary:      "marked dirty on request",
		}, nil)
	}
	t.logger.Info("project marked dirty", "project_id", p.ID, "path", p.Path)
	t.Notify()
	return p, nil
}

// MarkAll forces every live project back into the queue.
func (t *Tracker) MarkAll(ctx context.Context) (int, error) {
	n, err := t.projects.MarkAllDirty(ctx, project.ReasonForced)
	if err != nil {
		return 0, fmt.Errorf("marking all projects dirty: %w", err)
	}
	metrics.DirtyMarks.WithLabelValues(string(project.ReasonForced)).Add(float64(n))
	t.logger.Info("all projects marked dirty", "count", n)
	if n > 0 {
		t.Notify()
	}
	return n, nil
}

// Pending lists dirty records, oldest first.
func (t *Tracker) Pending(ctx context.Context, limit int) ([]enrich.Task, error) {
	dirty, err := t.projects.ListDirty(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dirty projects: %w", err)
	}
	tasks := make([]enrich.Task, 0, len(dirty))
	for i := range dirty {
		tasks = append(tasks, enrich.TaskFromProject(&dirty[i]))
	}
	return tasks, nil
}
