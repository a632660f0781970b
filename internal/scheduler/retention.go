package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/domain/session"
)

// Retention drops closed scan sessions and tombstones past their age. A zero
// age keeps that kind of history forever.
type Retention struct {
	Sessions     *session.Service
	Projects     project.Repository
	SessionAge   time.Duration
	TombstoneAge time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Sweep implements Janitor.
func (r Retention) Sweep(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var errs []error
	if r.Sessions != nil && r.SessionAge > 0 {
		if _, err := r.Sessions.Cleanup(ctx, r.SessionAge); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Projects != nil && r.TombstoneAge > 0 {
		n, err := r.Projects.PurgeTombstones(ctx, now().Add(-r.TombstoneAge).UTC())
		if err != nil {
			errs = append(errs, fmt.Errorf("purging tombstones: %w", err))
		} else if n > 0 {
			logger.Info("old tombstones purged", "count", n, "retention", r.TombstoneAge)
		}
	}
	return errors.Join(errs...)
}
