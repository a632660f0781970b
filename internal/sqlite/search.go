package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jagard11/Launcher/internal/domain/project"
)

// Search performs a full-text search over project names, tooltips and descriptions
func (r *ProjectRepository) Search(ctx context.Context, query string, limit int) ([]project.SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT ` + prefixColumns("p.") + `,
			bm25(projects_fts) AS rank,
			snippet(projects_fts, 2, '[', ']', '...', 12) AS snippet
		FROM projects_fts
		JOIN projects p ON p.rowid = projects_fts.rowid
		WHERE projects_fts MATCH ? AND p.status != 'removed'
		ORDER BY rank
	`
	args := []any{match}
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	defer rows.Close()

	var results []project.SearchResult
	for rows.Next() {
		var (
			rank    float64
			snippet *string
		)
		proj, err := scanProject(scanWithExtras{rows: rows, extras: []any{&rank, &snippet}})
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		result := project.SearchResult{Project: proj.Ref(), Rank: rank}
		if snippet != nil {
			result.Snippet = *snippet
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	return results, nil
}

// ftsQuery turns free text into a prefix-matching FTS5 query with each term quoted.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}

func prefixColumns(prefix string) string {
	cols := strings.Split(projectColumnsSQL, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanWithExtras appends extra destinations after the project columns.
type scanWithExtras struct {
	rows   rowScanner
	extras []any
}

func (s scanWithExtras) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.extras...)...)
}
