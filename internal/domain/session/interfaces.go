package session

import (
	"context"
	"time"
)

// Repository provides persistence for scan sessions.
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Close(ctx context.Context, sess *Session) error
	List(ctx context.Context, limit int) ([]Session, error)
	LastCompleted(ctx context.Context, kind Kind) (*Session, error)
	DeleteBefore(ctx context.Context, before time.Time) (int, error)
}
