package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jagard11/Launcher/internal/domain/project"
	"github.com/Jagard11/Launcher/internal/repository"
	"github.com/google/uuid"
)

const projectColumnsSQL = `
	id, path, root, name, display_name, environment,
	content_fingerprint, enrichment_fingerprint,
	description, tooltip, main_script,
	launch_command, launch_working_dir, launch_confidence, launch_method, launch_notes,
	dirty, dirty_reason, dirty_since, dirty_seq,
	status, claim_token, claimed_at,
	last_scanned_at, last_enriched_at, last_error,
	is_git, size_bytes, is_favorite, is_hidden,
	script_hash, script_user_modified, removed_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*project.Project, error) {
	var (
		p   project.Project
		env string
	)
	err := row.Scan(
		&p.ID, &p.Path, &p.Root, &p.Name, &p.DisplayName, &env,
		&p.ContentFingerprint, &p.EnrichmentFingerprint,
		&p.Description, &p.Tooltip, &p.MainScript,
		&p.LaunchCommand, &p.LaunchWorkingDir, &p.LaunchConfidence, &p.LaunchMethod, &p.LaunchNotes,
		&p.Dirty, &p.DirtyReason, &p.DirtySince, &p.DirtySeq,
		&p.Status, &p.ClaimToken, &p.ClaimedAt,
		&p.LastScannedAt, &p.LastEnrichedAt, &p.LastError,
		&p.IsGit, &p.SizeBytes, &p.IsFavorite, &p.IsHidden,
		&p.ScriptHash, &p.ScriptUserModified, &p.RemovedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &p.Environment); err != nil {
			return nil, fmt.Errorf("failed to decode environment: %w", err)
		}
	}
	return &p, nil
}

func encodeEnvironment(env project.Environment) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode environment: %w", err)
	}
	return string(data), nil
}

// ProjectRepository is the catalog store: project records keyed by identity.
// Writes to one identity are serialized; different identities proceed concurrently.
type ProjectRepository struct {
	db    *DB
	locks *keyedMutex
	now   func() time.Time
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{
		db:    db,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile upserts the record for an observed directory. The record becomes
// dirty when it is new or its content fingerprint changed.
func (r *ProjectRepository) Reconcile(ctx context.Context, in project.ReconcileInput) (*project.ReconcileOutcome, error) {
	if err := project.ValidateReconcileInput(in); err != nil {
		return nil, repository.ErrInvalidInput
	}

	unlockPath := r.locks.Lock("path:" + in.Path)
	defer unlockPath()

	var existingID string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM projects WHERE path = ? AND status != 'removed'`, in.Path).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up project: %w", err)
	}
	if existingID != "" {
		unlockID := r.locks.Lock(existingID)
		defer unlockID()
	}

	env, err := encodeEnvironment(in.Environment)
	if err != nil {
		return nil, err
	}
	now := r.now()
	scannedAt := in.ScannedAt.UTC()
	if in.ScannedAt.IsZero() {
		scannedAt = now
	}

	var outcome project.ReconcileOutcome
	err = r.db.runTx(ctx, func(tx *sql.Tx) error {
		current, err := scanProject(tx.QueryRowContext(ctx,
			`SELECT `+projectColumnsSQL+` FROM projects WHERE path = ? AND status != 'removed'`, in.Path))
		if errors.Is(err, sql.ErrNoRows) {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate project id: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO projects (
					id, path, root, name, display_name, environment,
					content_fingerprint, main_script, launch_method,
					dirty, dirty_reason, dirty_since, dirty_seq, status,
					last_scanned_at, is_git, size_bytes, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
				id.String(), in.Path, in.Root, in.Name, in.Name, env,
				in.Fingerprint, in.MainScript, project.MethodUnresolved,
				project.ReasonNew, now, project.StatusDiscovered,
				scannedAt, in.IsGit, in.SizeBytes, now, now,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return repository.ErrConflict
				}
				return fmt.Errorf("failed to create project: %w", err)
			}
			outcome.Result = project.ReconcileCreated
			outcome.BecameDirty = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load project: %w", err)
		}

		changed := current.ContentFingerprint != in.Fingerprint
		metaChanged := current.Name != in.Name ||
			current.Environment != in.Environment ||
			current.IsGit != in.IsGit ||
			current.SizeBytes != in.SizeBytes ||
			current.Root != in.Root

		if !changed {
			_, err := tx.ExecContext(ctx, `
				UPDATE projects
				SET root = ?, name = ?, environment = ?, is_git = ?, size_bytes = ?,
				    main_script = COALESCE(main_script, ?), last_scanned_at = ?, updated_at = ?
				WHERE id = ?`,
				in.Root, in.Name, env, in.IsGit, in.SizeBytes, in.MainScript, scannedAt, now, current.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update project: %w", err)
			}
			outcome.Result = project.ReconcileUnchanged
			if metaChanged {
				outcome.Result = project.ReconcileUpdated
			}
			return nil
		}

		status := current.Status
		if status == project.StatusReady {
			status = project.StatusStale
		}
		if err := checkTransition(current.ID, current.Status, status); err != nil {
			return err
		}
		outcome.Changed = true
		outcome.BecameDirty = !current.Dirty

		// A failed record parked for retry becomes an ordinary change again.
		_, err = tx.ExecContext(ctx, `
			UPDATE projects
			SET root = ?, name = ?, environment = ?, is_git = ?, size_bytes = ?,
			    main_script = COALESCE(main_script, ?),
			    content_fingerprint = ?, status = ?,
			    dirty_reason = CASE WHEN dirty = 1 AND COALESCE(dirty_reason, '') != 'retry' THEN dirty_reason ELSE ? END,
			    dirty_since = CASE WHEN dirty = 1 AND COALESCE(dirty_reason, '') != 'retry' THEN dirty_since ELSE ? END,
			    dirty = 1, dirty_seq = dirty_seq + 1,
			    last_scanned_at = ?, updated_at = ?
			WHERE id = ?`,
			in.Root, in.Name, env, in.IsGit, in.SizeBytes, in.MainScript,
			in.Fingerprint, status, project.ReasonChanged, now,
			scannedAt, now, current.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		outcome.Result = project.ReconcileUpdated
		return nil
	})
	if err != nil {
		return nil, err
	}

	proj, err := r.GetByPath(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	outcome.Project = proj
	return &outcome, nil
}

// Get retrieves a project by ID, including tombstoned ones
func (r *ProjectRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	proj, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumnsSQL+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return proj, nil
}

// GetByPath retrieves the live project at path
func (r *ProjectRepository) GetByPath(ctx context.Context, path string) (*project.Project, error) {
	proj, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumnsSQL+` FROM projects WHERE path = ? AND status != 'removed'`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project by path: %w", err)
	}
	return proj, nil
}

// List returns projects matching the given options ordered by name
func (r *ProjectRepository) List(ctx context.Context, opts project.ListOptions) ([]project.Project, error) {
	query := `SELECT ` + projectColumnsSQL + ` FROM projects`

	args := []any{}
	conditions := []string{}

	if !opts.IncludeRemoved {
		conditions = append(conditions, "status != 'removed'")
	}
	if !opts.IncludeHidden {
		conditions = append(conditions, "is_hidden = 0")
	}
	if opts.FavoritesOnly {
		conditions = append(conditions, "is_favorite = 1")
	}
	if opts.Root != "" {
		conditions = append(conditions, "root = ?")
		args = append(args, opts.Root)
	}
	if opts.Dirty != nil {
		conditions = append(conditions, "dirty = ?")
		args = append(args, *opts.Dirty)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, s := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, s)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY is_favorite DESC, name COLLATE NOCASE, path"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	return r.queryProjects(ctx, "list projects", query, args...)
}

func (r *ProjectRepository) queryProjects(ctx context.Context, op, query string, args ...any) ([]project.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *proj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// ListPathsUnder returns path -> id for every live project discovered under root
func (r *ProjectRepository) ListPathsUnder(ctx context.Context, root string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, id FROM projects WHERE root = ? AND status != 'removed'`, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]string)
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths[path] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating paths: %w", err)
	}
	return paths, nil
}

// MarkDirty queues a project for enrichment. A project being enriched keeps its
// status; the bumped dirty sequence makes the pending commit re-mark it.
func (r *ProjectRepository) MarkDirty(ctx context.Context, id string, reason project.DirtyReason) (*project.Project, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	now := r.now()
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		var status project.Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load project: %w", err)
		}
		if status == project.StatusRemoved {
			return repository.ErrTombstoned
		}

		next := status
		if status == project.StatusReady {
			next = project.StatusStale
		}
		if err := checkTransition(id, status, next); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projects
			SET status = ?, dirty_reason = ?,
			    dirty_since = CASE WHEN dirty = 1 THEN dirty_since ELSE ? END,
			    dirty = 1, dirty_seq = dirty_seq + 1, updated_at = ?
			WHERE id = ?`,
			next, reason, now, now, id,
		)
		if err != nil {
			return fmt.Errorf("failed to mark project dirty: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// MarkAllDirty queues every live project and returns how many were touched
func (r *ProjectRepository) MarkAllDirty(ctx context.Context, reason project.DirtyReason) (int, error) {
	now := r.now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET status = CASE WHEN status = 'ready' THEN 'stale' ELSE status END,
		    dirty_reason = ?,
		    dirty_since = CASE WHEN dirty = 1 THEN dirty_since ELSE ? END,
		    dirty = 1, dirty_seq = dirty_seq + 1, updated_at = ?
		WHERE status != 'removed'`,
		reason, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all dirty: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// ListDirty returns dirty projects, oldest enqueue first
func (r *ProjectRepository) ListDirty(ctx context.Context, limit int) ([]project.Project, error) {
	query := `SELECT ` + projectColumnsSQL + ` FROM projects
		WHERE dirty = 1 AND status != 'removed'
		ORDER BY dirty_since, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryProjects(ctx, "list dirty projects", query, args...)
}

// Remove tombstones a project. The row is kept so in-flight work can observe the removal.
func (r *ProjectRepository) Remove(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	now := r.now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE projects
		SET status = 'removed', removed_at = ?, dirty = 0, dirty_reason = NULL, dirty_since = NULL,
		    claim_token = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status != 'removed'`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrTombstoned(ctx, id)
	}
	return nil
}

// SetFavorite toggles the favorite flag
func (r *ProjectRepository) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return r.setFlag(ctx, id, "is_favorite", favorite)
}

// SetHidden toggles the hidden flag
func (r *ProjectRepository) SetHidden(ctx context.Context, id string, hidden bool) error {
	return r.setFlag(ctx, id, "is_hidden", hidden)
}

func (r *ProjectRepository) setFlag(ctx context.Context, id, column string, value bool) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE projects SET %s = ?, updated_at = ? WHERE id = ? AND status != 'removed'`, column),
		value, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", column, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrTombstoned(ctx, id)
	}
	return nil
}

// SetScriptState records the hash of the last generated script and the user-modified marker
func (r *ProjectRepository) SetScriptState(ctx context.Context, id string, hash *string, userModified bool) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	result, err := r.db.ExecContext(ctx, `
		UPDATE projects SET script_hash = ?, script_user_modified = ?, updated_at = ?
		WHERE id = ? AND status != 'removed'`,
		hash, userModified, r.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set script state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrTombstoned(ctx, id)
	}
	return nil
}

// Stats summarizes the catalog
func (r *ProjectRepository) Stats(ctx context.Context) (*project.Stats, error) {
	stats := &project.Stats{ByStatus: make(map[project.Status]int)}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status project.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
		if status == project.StatusRemoved {
			stats.Removed = count
		} else {
			stats.Active += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	var lastScanned, lastEnriched sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN dirty = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(is_favorite), 0),
			COALESCE(SUM(is_hidden), 0),
			MAX(last_scanned_at),
			MAX(last_enriched_at)
		FROM projects WHERE status != 'removed'`,
	).Scan(&stats.Dirty, &stats.Favorites, &stats.Hidden, &lastScanned, &lastEnriched)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate projects: %w", err)
	}
	stats.LastScanned = parseAggregateTime(lastScanned)
	stats.LastEnriched = parseAggregateTime(lastEnriched)

	return stats, nil
}

// PurgeTombstones physically deletes projects removed before the cutoff
func (r *ProjectRepository) PurgeTombstones(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE status = 'removed' AND removed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *ProjectRepository) missingOrTombstoned(ctx context.Context, id string) error {
	var status project.Status
	err := r.db.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check project existence: %w", err)
	}
	if status == project.StatusRemoved {
		return repository.ErrTombstoned
	}
	return repository.ErrConflict
}

// MAX() over a TIMESTAMP column loses the declared type, so it comes back as text.
func parseAggregateTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v.String); err == nil {
			return &t
		}
	}
	return nil
}
