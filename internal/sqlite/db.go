package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	if dataSourceName != ":memory:" && dataSourceName != "" {
		if dir := filepath.Dir(dataSourceName); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: pragmas are per connection and each ":memory:" connection is its own database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	if dataSourceName != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}

	return &DB{db}, nil
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    content_fingerprint TEXT NOT NULL,
    enrichment_fingerprint TEXT,
    description TEXT,
    launch_command TEXT,
    launch_confidence REAL,
    launch_method TEXT NOT NULL DEFAULT 'unresolved',
    dirty INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL CHECK(status IN ('discovered', 'enriching', 'ready', 'stale', 'error', 'removed')),
    last_scanned_at TIMESTAMP,
    last_enriched_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

-- Scan sessions (append-only audit)
CREATE TABLE IF NOT EXISTS scan_sessions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK(kind IN ('quick', 'full')),
    status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
    roots TEXT NOT NULL DEFAULT '[]',
    discovered INTEGER NOT NULL DEFAULT 0,
    changed INTEGER NOT NULL DEFAULT 0,
    unchanged INTEGER NOT NULL DEFAULT 0,
    removed INTEGER NOT NULL DEFAULT 0,
    errored INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON scan_sessions(started_at);

-- Activity log
CREATE TABLE IF NOT EXISTS activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL,
    session_id TEXT,
    claim_token TEXT,
    worker TEXT,
    activity_type TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_project ON activity_log(project_id);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);
`

// column is an optional projects column added after the base schema.
type column struct {
	name string
	ddl  string
}

// projectColumns are applied in order with ALTER TABLE ADD COLUMN when missing.
// New fields must be appended here, never folded into baseSchema.
var projectColumns = []column{
	{"root", "TEXT NOT NULL DEFAULT ''"},
	{"display_name", "TEXT NOT NULL DEFAULT ''"},
	{"environment", "TEXT NOT NULL DEFAULT '{}'"},
	{"tooltip", "TEXT"},
	{"main_script", "TEXT"},
	{"launch_working_dir", "TEXT"},
	{"launch_notes", "TEXT"},
	{"dirty_reason", "TEXT"},
	{"dirty_since", "TIMESTAMP"},
	{"dirty_seq", "INTEGER NOT NULL DEFAULT 0"},
	{"claim_token", "TEXT"},
	{"claimed_at", "TIMESTAMP"},
	{"claim_seq", "INTEGER NOT NULL DEFAULT 0"},
	{"last_error", "TEXT"},
	{"is_git", "INTEGER NOT NULL DEFAULT 0"},
	{"size_bytes", "INTEGER NOT NULL DEFAULT 0"},
	{"is_favorite", "INTEGER NOT NULL DEFAULT 0"},
	{"is_hidden", "INTEGER NOT NULL DEFAULT 0"},
	{"script_hash", "TEXT"},
	{"script_user_modified", "INTEGER NOT NULL DEFAULT 0"},
	{"removed_at", "TIMESTAMP"},
}

const indexSchema = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_live_path ON projects(path) WHERE status != 'removed';
CREATE INDEX IF NOT EXISTS idx_projects_dirty ON projects(dirty, dirty_since);
CREATE INDEX IF NOT EXISTS idx_projects_root ON projects(root);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

-- Full-text search (SQLite FTS5)
CREATE VIRTUAL TABLE IF NOT EXISTS projects_fts USING fts5(
    name,
    tooltip,
    description,
    content='projects',
    content_rowid='rowid'
);

-- Triggers to keep FTS index synchronized
CREATE TRIGGER IF NOT EXISTS projects_ai AFTER INSERT ON projects BEGIN
    INSERT INTO projects_fts(rowid, name, tooltip, description)
    VALUES (new.rowid, new.name, new.tooltip, new.description);
END;

CREATE TRIGGER IF NOT EXISTS projects_ad AFTER DELETE ON projects BEGIN
    INSERT INTO projects_fts(projects_fts, rowid, name, tooltip, description)
    VALUES('delete', old.rowid, old.name, old.tooltip, old.description);
END;

CREATE TRIGGER IF NOT EXISTS projects_au AFTER UPDATE OF name, tooltip, description ON projects BEGIN
    INSERT INTO projects_fts(projects_fts, rowid, name, tooltip, description)
    VALUES('delete', old.rowid, old.name, old.tooltip, old.description);
    INSERT INTO projects_fts(rowid, name, tooltip, description)
    VALUES (new.rowid, new.name, new.tooltip, new.description);
END;
`

// RunMigrations brings the schema up to date. It is safe to run on every start:
// tables are created when missing and newer columns are added to older catalogs.
func (db *DB) RunMigrations() error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	existing, err := db.columnSet(ctx, "projects")
	if err != nil {
		return err
	}
	for _, col := range projectColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE projects ADD COLUMN %s %s", col.name, col.ddl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}

	var hadFTS int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'projects_fts'`).Scan(&hadFTS); err != nil {
		return fmt.Errorf("failed to check search index: %w", err)
	}

	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	// Rows written before the search index existed are not in it yet.
	if hadFTS == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO projects_fts(projects_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("failed to build search index: %w", err)
		}
	}

	return nil
}

func (db *DB) columnSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table info: %w", err)
	}
	return cols, nil
}
