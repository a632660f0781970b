package activity

import "time"

// ActivityType represents the type of catalog event
type ActivityType string

const (
	TypeDiscovered    ActivityType = "discovered"
	TypeChanged       ActivityType = "changed"
	TypeRemoved       ActivityType = "removed"
	TypeMarkedDirty   ActivityType = "marked_dirty"
	TypeClaimed       ActivityType = "claimed"
	TypeCommitted     ActivityType = "committed"
	TypeDiscarded     ActivityType = "discarded"
	TypeFailed        ActivityType = "failed"
	TypeScriptWritten ActivityType = "script_written"
	TypeScriptSkipped ActivityType = "script_skipped"
	TypeLaunched      ActivityType = "launched"
)

// ActivityEntry represents an event in the activity log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	ProjectID    string       `json:"project_id"`
	SessionID    *string      `json:"session_id,omitempty"`
	ClaimToken   *string      `json:"claim_token,omitempty"`
	Worker       *string      `json:"worker,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
}
