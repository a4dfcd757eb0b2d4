package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/pkg/types"
)

func resolveID(ctx context.Context, q querier, mnemonic string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM memories WHERE mnemonic = ?`, mnemonic).Scan(&id)
	if err != nil {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

// Link resolves both mnemonics and inserts the edge, idempotently.
func (s *Store) Link(ctx context.Context, source, target string, linkType types.LinkType) error {
	if !linkType.Valid() {
		return fmt.Errorf("%w: unknown link type %q", storage.ErrInvalidInput, linkType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sourceID, err := resolveID(ctx, s.db, source)
	if err != nil {
		return fmt.Errorf("link: source %q: %w", source, err)
	}
	targetID, err := resolveID(ctx, s.db, target)
	if err != nil {
		return fmt.Errorf("link: target %q: %w", target, err)
	}
	if sourceID == targetID {
		return fmt.Errorf("%w: self-links are forbidden", storage.ErrInvalidInput)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_links (source_id, target_id, link_type, created_at)
		VALUES (?, ?, ?, ?)
	`, sourceID, targetID, string(linkType), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert link: %w", err)
	}
	return nil
}

// Unlink deletes the exact triple; a missing edge is not an error.
func (s *Store) Unlink(ctx context.Context, source, target string, linkType types.LinkType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sourceID, err := resolveID(ctx, s.db, source)
	if err != nil {
		return nil
	}
	targetID, err := resolveID(ctx, s.db, target)
	if err != nil {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM memory_links WHERE source_id = ? AND target_id = ? AND link_type = ?
	`, sourceID, targetID, string(linkType))
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete link: %w", err)
	}
	return nil
}

// GetLinks returns all edges incident to mnemonic, projected by mnemonic.
func (s *Store) GetLinks(ctx context.Context, mnemonic string) ([]types.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := resolveID(ctx, s.db, mnemonic)
	if err != nil {
		return nil, fmt.Errorf("get_links: %w", err)
	}
	return s.queryLinks(ctx, `WHERE l.source_id = ? OR l.target_id = ?`, id, id)
}

// GetAllLinks returns every edge in the graph, projected by mnemonic.
func (s *Store) GetAllLinks(ctx context.Context) ([]types.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLinks(ctx, "")
}

func (s *Store) queryLinks(ctx context.Context, where string, args ...interface{}) ([]types.Link, error) {
	query := `
		SELECT l.id, l.source_id, l.target_id, l.link_type, l.created_at, sm.mnemonic, tm.mnemonic
		FROM memory_links l
		JOIN memories sm ON sm.id = l.source_id
		JOIN memories tm ON tm.id = l.target_id
		` + where + `
		ORDER BY l.id
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query links: %w", err)
	}
	defer rows.Close()

	var out []types.Link
	for rows.Next() {
		var l types.Link
		var createdAt, linkType string
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &linkType, &createdAt, &l.SourceMnemonic, &l.TargetMnemonic); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan link: %w", err)
		}
		l.Type = types.LinkType(linkType)
		l.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// linksForCandidateSet fetches edges among a given set of memory ids, used
// by the recall pipeline's link_boost term. Both endpoints must be present
// in the candidate set for an edge to be returned.
func (s *Store) linksForCandidateSet(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids)*2)
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
		args[len(ids)+i] = id
	}
	inClause := "(" + joinComma(placeholders) + ")"
	query := `
		SELECT source_id, target_id FROM memory_links
		WHERE source_id IN ` + inClause + ` AND target_id IN ` + inClause
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query candidate links: %w", err)
	}
	defer rows.Close()

	adj := make(map[int64][]int64)
	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	return adj, rows.Err()
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// transferLinks rewrites edges incident to fromID onto toID, drops any
// self-link the rewrite creates, and leaves conflicting duplicates in place
// on fromID — they are removed by the FK cascade when fromID's row is
// deleted immediately afterward by the caller.
func transferLinks(ctx context.Context, q querier, fromID, toID int64) error {
	if _, err := q.ExecContext(ctx, `UPDATE OR IGNORE memory_links SET source_id = ? WHERE source_id = ?`, toID, fromID); err != nil {
		return fmt.Errorf("sqlite: failed to transfer outgoing links: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE OR IGNORE memory_links SET target_id = ? WHERE target_id = ?`, toID, fromID); err != nil {
		return fmt.Errorf("sqlite: failed to transfer incoming links: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM memory_links WHERE source_id = target_id`); err != nil {
		return fmt.Errorf("sqlite: failed to drop self-links created by merge: %w", err)
	}
	return nil
}
