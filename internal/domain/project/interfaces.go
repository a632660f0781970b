package project

import (
	"context"
	"time"
)

// Repository is the catalog store. It is the only writer of project records.
type Repository interface {
	Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileOutcome, error)
	Get(ctx context.Context, id string) (*Project, error)
	GetByPath(ctx context.Context, path string) (*Project, error)
	List(ctx context.Context, opts ListOptions) ([]Project, error)
	ListPathsUnder(ctx context.Context, root string) (map[string]string, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	MarkDirty(ctx context.Context, id string, reason DirtyReason) (*Project, error)
	MarkAllDirty(ctx context.Context, reason DirtyReason) (int, error)
	ListDirty(ctx context.Context, limit int) ([]Project, error)
	Claim(ctx context.Context, opts ClaimOptions) ([]Claim, error)
	ClearDirty(ctx context.Context, in ClearInput) (*Project, error)
	Fail(ctx context.Context, in FailInput) (*Project, error)
	ReleaseClaim(ctx context.Context, id, token string) error
	ReleaseClaims(ctx context.Context) (int, error)
	Remove(ctx context.Context, id string) error
	SetFavorite(ctx context.Context, id string, favorite bool) error
	SetHidden(ctx context.Context, id string, hidden bool) error
	SetScriptState(ctx context.Context, id string, hash *string, userModified bool) error
	Stats(ctx context.Context) (*Stats, error)
	PurgeTombstones(ctx context.Context, before time.Time) (int, error)
}
