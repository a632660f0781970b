package project

import (
	"encoding/json"
	"time"
)

// Status is the enrichment lifecycle state of a project record.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusEnriching  Status = "enriching"
	StatusReady      Status = "ready"
	StatusStale      Status = "stale"
	StatusError      Status = "error"
	StatusRemoved    Status = "removed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDiscovered, StatusEnriching, StatusReady, StatusStale, StatusError, StatusRemoved,
}

// LaunchMethod records which strategy produced the launch command.
type LaunchMethod string

const (
	MethodHeuristic     LaunchMethod = "heuristic"
	MethodAIPrimary     LaunchMethod = "ai-primary"
	MethodAIAlternative LaunchMethod = "ai-alternative"
	MethodCustomScript  LaunchMethod = "custom-script"
	MethodUnresolved    LaunchMethod = "unresolved"
)

// DirtyReason explains why a record was queued for enrichment.
type DirtyReason string

const (
	ReasonNew     DirtyReason = "new"
	ReasonChanged DirtyReason = "changed"
	ReasonForced  DirtyReason = "forced"
	ReasonRetry   DirtyReason = "retry"
)

// Environment describes the interpreter environment detected for a project.
type Environment struct {
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Activate string `json:"activate,omitempty"`
}

// Project is one discovered project directory and its enrichment artifacts.
type Project struct {
	ID                    string       `json:"id"`
	Path                  string       `json:"path"`
	Root                  string       `json:"root"`
	Name                  string       `json:"name"`
	DisplayName           string       `json:"display_name"`
	Environment           Environment  `json:"environment"`
	ContentFingerprint    string       `json:"content_fingerprint"`
	EnrichmentFingerprint *string      `json:"enrichment_fingerprint,omitempty"`
	Description           *string      `json:"description,omitempty"`
	Tooltip               *string      `json:"tooltip,omitempty"`
	MainScript            *string      `json:"main_script,omitempty"`
	LaunchCommand         *string      `json:"launch_command,omitempty"`
	LaunchWorkingDir      *string      `json:"launch_working_dir,omitempty"`
	LaunchConfidence      *float64     `json:"launch_confidence,omitempty"`
	LaunchMethod          LaunchMethod `json:"launch_method"`
	LaunchNotes           *string      `json:"launch_notes,omitempty"`
	Dirty                 bool         `json:"dirty"`
	DirtyReason           *DirtyReason `json:"dirty_reason,omitempty"`
	DirtySince            *time.Time   `json:"dirty_since,omitempty"`
	DirtySeq              int64        `json:"-"`
	Status                Status       `json:"status"`
	ClaimToken            *string      `json:"-"`
	ClaimedAt             *time.Time   `json:"claimed_at,omitempty"`
	LastScannedAt         *time.Time   `json:"last_scanned_at,omitempty"`
	LastEnrichedAt        *time.Time   `json:"last_enriched_at,omitempty"`
	LastError             *string      `json:"last_error,omitempty"`
	IsGit                 bool         `json:"is_git"`
	SizeBytes             int64        `json:"size_bytes"`
	IsFavorite            bool         `json:"is_favorite"`
	IsHidden              bool         `json:"is_hidden"`
	ScriptHash            *string      `json:"-"`
	ScriptUserModified    bool         `json:"script_user_modified"`
	RemovedAt             *time.Time   `json:"removed_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// ArtifactState marks whether an enrichment artifact has been produced yet.
type ArtifactState string

const (
	ArtifactDetermined       ArtifactState = "determined"
	ArtifactNotYetDetermined ArtifactState = "not_yet_determined"
)

func artifactState[T any](v *T) ArtifactState {
	if v == nil {
		return ArtifactNotYetDetermined
	}
	return ArtifactDetermined
}

// LaunchState reports whether a launch command has been determined.
func (p *Project) LaunchState() ArtifactState {
	return artifactState(p.LaunchCommand)
}

// DescriptionState reports whether a description has been determined.
func (p *Project) DescriptionState() ArtifactState {
	return artifactState(p.Description)
}

// MarshalJSON adds launch_state and description_state so clients can tell a
// missing artifact from one that was never produced.
func (p Project) MarshalJSON() ([]byte, error) {
	type plain Project
	return json.Marshal(struct {
		plain
		LaunchState      ArtifactState `json:"launch_state"`
		DescriptionState ArtifactState `json:"description_state"`
	}{
		plain:            plain(p),
		LaunchState:      p.LaunchState(),
		DescriptionState: p.DescriptionState(),
	})
}

// Removed reports whether the project has been tombstoned.
func (p *Project) Removed() bool {
	return p.Status == StatusRemoved
}

// ProjectRef is a lightweight listing view.
type ProjectRef struct {
	ID               string        `json:"id"`
	Path             string        `json:"path"`
	Name             string        `json:"name"`
	Status           Status        `json:"status"`
	Dirty            bool          `json:"dirty"`
	Tooltip          *string       `json:"tooltip,omitempty"`
	LaunchMethod     LaunchMethod  `json:"launch_method"`
	LaunchConfidence *float64      `json:"launch_confidence,omitempty"`
	LaunchState      ArtifactState `json:"launch_state"`
	DescriptionState ArtifactState `json:"description_state"`
	EnvironmentKind  string        `json:"environment_kind"`
	IsFavorite       bool          `json:"is_favorite"`
	IsHidden         bool          `json:"is_hidden"`
}

// Ref returns the listing view of the project.
func (p *Project) Ref() ProjectRef {
	return ProjectRef{
		ID:               p.ID,
		Path:             p.Path,
		Name:             p.Name,
		Status:           p.Status,
		Dirty:            p.Dirty,
		Tooltip:          p.Tooltip,
		LaunchMethod:     p.LaunchMethod,
		LaunchConfidence: p.LaunchConfidence,
		LaunchState:      p.LaunchState(),
		DescriptionState: p.DescriptionState(),
		EnvironmentKind:  p.Environment.Kind,
		IsFavorite:       p.IsFavorite,
		IsHidden:         p.IsHidden,
	}
}

// ReconcileResult is the outcome of reconciling one observed directory.
type ReconcileResult string

const (
	ReconcileCreated   ReconcileResult = "created"
	ReconcileUpdated   ReconcileResult = "updated"
	ReconcileUnchanged ReconcileResult = "unchanged"
)

// ReconcileInput carries everything discovery observed about a directory.
type ReconcileInput struct {
	Path        string
	Root        string
	Name        string
	Fingerprint string
	Environment Environment
	IsGit       bool
	SizeBytes   int64
	MainScript  *string
	ScannedAt   time.Time
}

// ReconcileOutcome reports what a reconcile did.
type ReconcileOutcome struct {
	Result  ReconcileResult
	Project *Project
	// Changed is true when the content fingerprint moved.
	Changed bool
	// BecameDirty is true when this reconcile set the dirty flag.
	BecameDirty bool
}

// Artifacts are the enrichment fields committed together by ClearDirty.
type Artifacts struct {
	Description      *string
	Tooltip          *string
	MainScript       *string
	LaunchCommand    *string
	LaunchWorkingDir *string
	LaunchConfidence *float64
	LaunchMethod     LaunchMethod
	LaunchNotes      *string
}

// ClaimOptions controls which dirty records a claim may take.
type ClaimOptions struct {
	Limit          int
	Owner          string
	IncludeErrored bool
	// ErroredBefore, when set, limits IncludeErrored to records that failed
	// before it, so a sweep does not pick up its own fresh failures.
	ErroredBefore time.Time
	// ExcludeIDs are never claimed, even when eligible.
	ExcludeIDs []string
}

// Claim is a record exclusively held by one enrichment worker.
type Claim struct {
	Project     Project
	Token       string
	Fingerprint string
	Seq         int64
	Reason      DirtyReason
	ClaimedAt   time.Time
}

// ClearInput commits a successful enrichment.
type ClearInput struct {
	ID          string
	Token       string
	Fingerprint string
	Seq         int64
	Artifacts   Artifacts
}

// FailInput records an enrichment that exhausted every fallback.
type FailInput struct {
	ID    string
	Token string
	Error string
	Notes *string
}

// ListOptions filters catalog listings.
type ListOptions struct {
	Root           string
	Statuses       []Status
	Dirty          *bool
	FavoritesOnly  bool
	IncludeHidden  bool
	IncludeRemoved bool
	Limit          int
	Offset         int
}

// SearchResult is a full-text match over names and descriptions.
type SearchResult struct {
	Project ProjectRef `json:"project"`
	Rank    float64    `json:"rank"`
	Snippet string     `json:"snippet,omitempty"`
}

// Stats summarizes the catalog.
type Stats struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Dirty        int            `json:"dirty"`
	Removed      int            `json:"removed"`
	Favorites    int            `json:"favorites"`
	Hidden       int            `json:"hidden"`
	ByStatus     map[Status]int `json:"by_status"`
	LastScanned  *time.Time     `json:"last_scanned,omitempty"`
	LastEnriched *time.Time     `json:"last_enriched,omitempty"`
}
