package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/google/uuid"
)

// Claim atomically moves up to opts.Limit dirty projects to enriching and returns
// them with a claim token. The guarded UPDATE makes the status change the lock:
// a project can be held by at most one claim at a time.
func (r *ProjectRepository) Claim(ctx context.Context, opts project.ClaimOptions) ([]project.Claim, error) {
	if opts.Limit <= 0 {
		return nil, nil
	}

	var claims []project.Claim
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		claims = claims[:0]
		args := claimableArgs()
		exclude := ""
		if len(opts.ExcludeIDs) > 0 {
			exclude = " AND id NOT IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(opts.ExcludeIDs)), ", ") + ")"
			for _, id := range opts.ExcludeIDs {
				args = append(args, id)
			}
		}
		args = append(args, opts.IncludeErrored, opts.ErroredBefore.IsZero(), opts.ErroredBefore.UTC(), opts.Limit)

		// Records that failed wait for a sweep unless something re-queued them.
		rows, err := tx.QueryContext(ctx, `
			SELECT id, status FROM projects
			WHERE dirty = 1 AND status IN (`+claimablePlaceholders+`)`+exclude+` AND (
				status != 'error'
				OR (? AND (? OR dirty_since < ?))
				OR COALESCE(dirty_reason, '') != 'retry'
			)
			ORDER BY dirty_since, id
			LIMIT ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to select claimable projects: %w", err)
		}
		type candidate struct {
			id     string
			status project.Status
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.status); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan claimable project: %w", err)
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating claimable projects: %w", err)
		}

		now := r.now()
		for _, c := range candidates {
			id := c.id
			if err := checkTransition(id, c.status, project.StatusEnriching); err != nil {
				return err
			}
			token, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate claim token: %w", err)
			}
			updateArgs := append([]any{project.StatusEnriching, token.String(), now, now, id}, claimableArgs()...)
			result, err := tx.ExecContext(ctx, `
				UPDATE projects
				SET status = ?, claim_token = ?, claimed_at = ?, claim_seq = dirty_seq, updated_at = ?
				WHERE id = ? AND status IN (`+claimablePlaceholders+`)`,
				updateArgs...,
			)
			if err != nil {
				return fmt.Errorf("failed to claim project: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if n == 0 {
				continue
			}

			proj, err := scanProject(tx.QueryRowContext(ctx,
				`SELECT `+projectColumnsSQL+` FROM projects WHERE id = ?`, id))
			if err != nil {
				return fmt.Errorf("failed to load claimed project: %w", err)
			}
			reason := project.ReasonChanged
			if proj.DirtyReason != nil {
				reason = *proj.DirtyReason
			}
			claims = append(claims, project.Claim{
				Project:     *proj,
				Token:       token.String(),
				Fingerprint: proj.ContentFingerprint,
				Seq:         proj.DirtySeq,
				Reason:      reason,
				ClaimedAt:   now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ClearDirty commits enrichment artifacts in one write. The claim must still be
// held and the project must not be tombstoned. If the content fingerprint or the
// dirty sequence moved while the claim was held, the artifacts are committed but
// the project stays dirty and becomes stale.
func (r *ProjectRepository) ClearDirty(ctx context.Context, in project.ClearInput) (*project.Project, error) {
	if err := project.ValidArtifacts(in.Artifacts); err != nil {
		return nil, repository.ErrInvalidInput
	}

	unlock := r.locks.Lock(in.ID)
	defer unlock()

	now := r.now()
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		current, err := r.loadClaimed(ctx, tx, in.ID, in.Token)
		if err != nil {
			return err
		}

		stillDirty := current.ContentFingerprint != in.Fingerprint || current.DirtySeq != in.Seq
		status := project.StatusReady
		var (
			dirtyReason any
			dirtySince  any
		)
		if stillDirty {
			status = project.StatusStale
			reason := project.ReasonChanged
			if current.DirtySeq != in.Seq && current.DirtyReason != nil && current.ContentFingerprint == in.Fingerprint {
				reason = *current.DirtyReason
			}
			dirtyReason = reason
			dirtySince = now
		}
		if err := checkTransition(in.ID, current.Status, status); err != nil {
			return err
		}

		a := in.Artifacts
		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET description = COALESCE(?, description),
			    tooltip = COALESCE(?, tooltip),
			    main_script = COALESCE(?, main_script),
			    launch_command = ?, launch_working_dir = ?, launch_confidence = ?,
			    launch_method = ?, launch_notes = ?,
			    enrichment_fingerprint = ?, last_enriched_at = ?, last_error = NULL,
			    claim_token = NULL, claimed_at = NULL,
			    status = ?, dirty = ?, dirty_reason = ?, dirty_since = ?,
			    updated_at = ?
			WHERE id = ? AND claim_token = ? AND status = 'enriching'`,
			a.Description, a.Tooltip, a.MainScript,
			a.LaunchCommand, a.LaunchWorkingDir, a.LaunchConfidence,
			a.LaunchMethod, a.LaunchNotes,
			in.Fingerprint, now,
			status, stillDirty, dirtyReason, dirtySince,
			now,
			in.ID, in.Token,
		)
		if err != nil {
			return fmt.Errorf("failed to commit enrichment: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, in.ID)
}

// Fail moves a claimed project to error once every fallback is exhausted. The
// previous description and command stay as last-known-good values; the method
// becomes unresolved and the confidence is cleared.
func (r *ProjectRepository) Fail(ctx context.Context, in project.FailInput) (*project.Project, error) {
	unlock := r.locks.Lock(in.ID)
	defer unlock()

	now := r.now()
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		current, err := r.loadClaimed(ctx, tx, in.ID, in.Token)
		if err != nil {
			return err
		}
		if err := checkTransition(in.ID, current.Status, project.StatusError); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET status = 'error', launch_method = 'unresolved', launch_confidence = NULL,
			    launch_notes = COALESCE(?, launch_notes), last_error = ?,
			    claim_token = NULL, claimed_at = NULL,
			    dirty = 1,
			    dirty_reason = CASE WHEN dirty_seq != claim_seq THEN dirty_reason ELSE 'retry' END,
			    dirty_since = ?, updated_at = ?
			WHERE id = ? AND claim_token = ? AND status = 'enriching'`,
			in.Notes, in.Error, now, now, in.ID, in.Token,
		)
		if err != nil {
			return fmt.Errorf("failed to record enrichment failure: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, in.ID)
}

// ReleaseClaim hands back a single claim without committing anything. The
// project returns to discovered or stale and stays dirty, so the next drain
// or a manual force picks it up again.
func (r *ProjectRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	return r.db.runTx(ctx, func(tx *sql.Tx) error {
		current, err := r.loadClaimed(ctx, tx, id, token)
		if err != nil {
			return err
		}
		next := project.StatusStale
		if current.EnrichmentFingerprint == nil {
			next = project.StatusDiscovered
		}
		if err := checkTransition(id, current.Status, next); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET status = ?, claim_token = NULL, claimed_at = NULL, updated_at = ?
			WHERE id = ? AND claim_token = ? AND status = 'enriching'`,
			next, r.now(), id, token,
		)
		if err != nil {
			return fmt.Errorf("failed to release claim: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return repository.ErrClaimLost
		}
		return nil
	})
}

// ReleaseClaims returns every project left in enriching to the claimable
// states. It is run at startup, before any worker holds a claim, to recover
// from a process that died mid-enrichment. The dirty flag is untouched.
func (r *ProjectRepository) ReleaseClaims(ctx context.Context) (int, error) {
	var released int
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET status = CASE WHEN enrichment_fingerprint IS NULL THEN 'discovered' ELSE 'stale' END,
			    claim_token = NULL, claimed_at = NULL, updated_at = ?
			WHERE status = 'enriching'`,
			r.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to release claims: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		released = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// loadClaimed verifies that token still owns the project.
func (r *ProjectRepository) loadClaimed(ctx context.Context, tx *sql.Tx, id, token string) (*project.Project, error) {
	current, err := scanProject(tx.QueryRowContext(ctx,
		`SELECT `+projectColumnsSQL+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if current.Status == project.StatusRemoved {
		return nil, repository.ErrTombstoned
	}
	if current.Status != project.StatusEnriching || current.ClaimToken == nil || *current.ClaimToken != token {
		return nil, repository.ErrClaimLost
	}
	return current, nil
}

// claimablePlaceholders and claimableArgs render project.ClaimableStatuses as
// a SQL IN list.
var claimablePlaceholders = strings.TrimSuffix(strings.Repeat("?, ", len(project.ClaimableStatuses())), ", ")

func claimableArgs() []any {
	statuses := project.ClaimableStatuses()
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}

// checkTransition applies the project state machine to a status write.
// Keeping the current status is not a transition.
func checkTransition(id string, from, to project.Status) error {
	if from == to {
		return nil
	}
	if err := project.ValidateTransition(from, to); err != nil {
		return fmt.Errorf("%w: project %s cannot move from %s to %s: %w", repository.ErrConflict, id, from, to, err)
	}
	return nil
}
