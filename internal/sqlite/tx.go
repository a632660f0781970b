package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const maxTxAttempts = 3

// runTx executes fn inside a transaction, retrying when SQLite reports BUSY.
// fn must only use tx; touching db inside fn would wait on the single connection.
func (db *DB) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := db.runTxOnce(ctx, fn)
		if err == nil || !isBusy(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-time.After(time.Duration(100*attempt) * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("failed to retry transaction: %w", ctx.Err())
		}
	}
}

func (db *DB) runTxOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// keyedMutex serializes writers per key while letting different keys proceed.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
