// Package enrich drains dirty catalog records: it claims them, works out a
// launch command and a description, and commits the result.
package enrich

import (
	"errors"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/project"
)

// ErrNoStrategy is returned by a strategy that has nothing to offer for a project.
var ErrNoStrategy = errors.New("strategy not applicable")

// Task is a dirty record waiting for enrichment. Token, Fingerprint and Seq are
// set only once the record has been claimed.
type Task struct {
	ProjectID   string              `json:"project_id"`
	Path        string              `json:"path"`
	Reason      project.DirtyReason `json:"reason"`
	EnqueuedAt  time.Time           `json:"enqueued_at"`
	Token       string              `json:"-"`
	Fingerprint string              `json:"-"`
	Seq         int64               `json:"-"`
}

// TaskFromProject builds an unclaimed task for a dirty record.
func TaskFromProject(p *project.Project) Task {
	t := Task{ProjectID: p.ID, Path: p.Path, Reason: project.ReasonChanged, EnqueuedAt: p.UpdatedAt}
	if p.DirtyReason != nil {
		t.Reason = *p.DirtyReason
	}
	if p.DirtySince != nil {
		t.EnqueuedAt = *p.DirtySince
	}
	return t
}

// TaskFromClaim builds a claimed task.
func TaskFromClaim(c project.Claim) Task {
	t := TaskFromProject(&c.Project)
	t.Reason = c.Reason
	t.Token = c.Token
	t.Fingerprint = c.Fingerprint
	t.Seq = c.Seq
	return t
}
