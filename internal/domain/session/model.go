package session

import "time"

// Kind distinguishes quick scans from full scans.
type Kind string

const (
	KindQuick Kind = "quick"
	KindFull  Kind = "full"
)

// Status represents the lifecycle status of a scan session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Counts tallies what a scan observed.
type Counts struct {
	Discovered int `json:"discovered"`
	Changed    int `json:"changed"`
	Unchanged  int `json:"unchanged"`
	Removed    int `json:"removed"`
	Errored    int `json:"errored"`
}

// Session is the append-only audit record of one scan.
type Session struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	Roots     []string   `json:"roots"`
	Counts    Counts     `json:"counts"`
	Error     *string    `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns how long the scan ran, or zero while it is running.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
