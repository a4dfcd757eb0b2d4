package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// ftsMatchSet runs a quoted-phrase match against memory_fts and returns the
// set of matching memory ids. Unlike the OR-prefix query-sanitisation this
// corpus otherwise uses for free-text search, the recall pipeline here is
// specified to match the escaped phrase literally — see DESIGN.md.
func ftsMatchSet(ctx context.Context, q querier, ftsQuery string) (map[int64]bool, error) {
	if strings.TrimSpace(ftsQuery) == "" {
		return nil, nil
	}

	escaped := strings.ReplaceAll(ftsQuery, `"`, `""`)
	rows, err := q.QueryContext(ctx, `SELECT rowid FROM memory_fts WHERE memory_fts MATCH ?`, `"`+escaped+`"`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fts query failed: %w", err)
	}
	defer rows.Close()

	set := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan fts row: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}
