package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/pkg/types"
)

// Merge absorbs discard into keep with the caller-chosen survivor, replacing
// keep's vector with reEmbedding. Identical semantics to auto-merge except
// the keep row, not the newly-written row, is the survivor.
func (s *Store) Merge(ctx context.Context, keep, discard string, reEmbedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	keepID, err := resolveID(ctx, tx, keep)
	if err != nil {
		return fmt.Errorf("merge: keep %q: %w", keep, err)
	}
	discardID, err := resolveID(ctx, tx, discard)
	if err != nil {
		return fmt.Errorf("merge: discard %q: %w", discard, err)
	}

	if _, err := mergeInto(ctx, tx, keepID, discardID, reEmbedding); err != nil {
		return err
	}
	return tx.Commit()
}

// Edit applies a rename and/or tag delta, re-embedding only on rename.
func (s *Store) Edit(ctx context.Context, req storage.EditRequest) (*types.EditResult, error) {
	if req.NewMnemonic == "" && len(req.AddTags) == 0 && len(req.RemoveTags) == 0 {
		return nil, fmt.Errorf("%w: edit requires at least one change", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin edit transaction: %w", err)
	}
	defer tx.Rollback()

	mem, err := s.getByMnemonic(ctx, tx, req.Mnemonic)
	if err != nil {
		return nil, fmt.Errorf("edit: %w", err)
	}

	tags := applyTagDelta(mem.Tags, req.AddTags, req.RemoveTags)

	newMnemonic := mem.Mnemonic
	reEmbedded := false
	if req.NewMnemonic != "" && req.NewMnemonic != mem.Mnemonic {
		if req.NewEmbedding == nil {
			return nil, fmt.Errorf("%w: rename requires a re-embedding of the new mnemonic", storage.ErrInvalidInput)
		}
		var existingID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE mnemonic = ?`, req.NewMnemonic).Scan(&existingID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: mnemonic %q is already in use", storage.ErrConflict, req.NewMnemonic)
		case err != sql.ErrNoRows:
			return nil, fmt.Errorf("sqlite: failed to check mnemonic uniqueness: %w", err)
		}
		newMnemonic = req.NewMnemonic
		reEmbedded = true
	}

	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET mnemonic = ?, tags = ?, updated_at = ? WHERE id = ?`,
		newMnemonic, tagsJSON, now, mem.ID); err != nil {
		return nil, fmt.Errorf("sqlite: failed to apply edit: %w", err)
	}

	if reEmbedded {
		if err := upsertVector(ctx, tx, mem.ID, req.NewEmbedding); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit edit: %w", err)
	}

	return &types.EditResult{Old: mem.Mnemonic, New: newMnemonic, Tags: tags, ReEmbedded: reEmbedded}, nil
}

func applyTagDelta(tags, add, remove []string) []string {
	removeSet := make(map[string]bool, len(remove))
	for _, t := range remove {
		removeSet[t] = true
	}

	existing := make(map[string]bool, len(tags)+len(add))
	out := make([]string, 0, len(tags)+len(add))
	for _, t := range tags {
		if removeSet[t] {
			continue
		}
		out = append(out, t)
		existing[t] = true
	}
	for _, t := range add {
		if existing[t] {
			continue
		}
		out = append(out, t)
		existing[t] = true
	}
	return out
}

// Rate increments useful_count or not_useful_count for mnemonic.
func (s *Store) Rate(ctx context.Context, mnemonic string, useful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.rate(ctx, s.db, mnemonic, useful)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("rate: %q: %w", mnemonic, storage.ErrNotFound)
	}
	return nil
}

// RateBatch applies rate per element, collecting any mnemonics not found
// rather than failing the whole batch.
func (s *Store) RateBatch(ctx context.Context, mnemonics []string, useful bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	for _, m := range mnemonics {
		rows, err := s.rate(ctx, s.db, m, useful)
		if err != nil {
			return missing, err
		}
		if rows == 0 {
			missing = append(missing, m)
		}
	}
	return missing, nil
}

func (s *Store) rate(ctx context.Context, q querier, mnemonic string, useful bool) (int64, error) {
	column := "not_useful_count"
	if useful {
		column = "useful_count"
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE memories SET %s = %s + 1 WHERE mnemonic = ?`, column, column), mnemonic)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to rate %q: %w", mnemonic, err)
	}
	return res.RowsAffected()
}

// RenameTag replaces old with new in every memory's tag set, avoiding
// duplicates, and bumps updated_at on each mutated row.
func (s *Store) RenameTag(ctx context.Context, old, newTag string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, tags FROM memories WHERE tags LIKE ?`, "%\""+old+"\"%")
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to scan for tag %q: %w", old, err)
	}
	type candidate struct {
		id   int64
		tags []string
	}
	var candidates []candidate
	for rows.Next() {
		var id int64
		var tagsJSON string
		if err := rows.Scan(&id, &tagsJSON); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlite: failed to scan tag candidate: %w", err)
		}
		tags, err := decodeTags(tagsJSON)
		if err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, candidate{id, tags})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var mutated int64
	now := formatTime(time.Now())
	for _, c := range candidates {
		if !containsTag(c.tags, old) {
			continue
		}
		newTags := renameTagInSlice(c.tags, old, newTag)
		tagsJSON, err := encodeTags(newTags)
		if err != nil {
			return mutated, err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE memories SET tags = ?, updated_at = ? WHERE id = ?`, tagsJSON, now, c.id); err != nil {
			return mutated, fmt.Errorf("sqlite: failed to rename tag on memory %d: %w", c.id, err)
		}
		mutated++
	}
	return mutated, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func renameTagInSlice(tags []string, old, newTag string) []string {
	hasNew := containsTag(tags, newTag)
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t == old {
			if hasNew {
				continue
			}
			t = newTag
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Delete removes a memory row; the FK cascade removes its vector and edges.
func (s *Store) Delete(ctx context.Context, mnemonic string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE mnemonic = ?`, mnemonic)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to delete %q: %w", mnemonic, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to read delete result: %w", err)
	}
	return rows > 0, nil
}

// ListTags enumerates distinct tags with frequency, using SQLite's JSON
// table-valued function over the tags column per the tag-encoding design
// note, rather than unmarshalling every row's JSON in Go.
func (s *Store) ListTags(ctx context.Context) ([]types.TagCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT je.value, count(*) AS n
		FROM memories, json_each(memories.tags) AS je
		GROUP BY je.value
		ORDER BY n DESC, je.value ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list tags: %w", err)
	}
	defer rows.Close()

	var out []types.TagCount
	for rows.Next() {
		var tc types.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan tag count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ListAllSummaries returns every memory's summary fields, ordered by
// recall_count desc then updated_at desc.
func (s *Store) ListAllSummaries(ctx context.Context) ([]types.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, selectMemoryColumns+` FROM memories ORDER BY recall_count DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []types.Summary
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Summary{
			Mnemonic:       m.Mnemonic,
			Content:        m.Content,
			Tags:           m.Tags,
			RecallCount:    m.RecallCount,
			UsefulCount:    m.UsefulCount,
			NotUsefulCount: m.NotUsefulCount,
		})
	}
	return out, rows.Err()
}

// FindMergeCandidates runs a KNN search post-filtered by threshold and the
// caller's exclude set, for the external interactive dedup loop.
func (s *Store) FindMergeCandidates(ctx context.Context, embedding []float32, threshold float64, exclude []string, limit int) ([]types.MergeCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excludeSet := make(map[string]bool, len(exclude))
	for _, m := range exclude {
		excludeSet[m] = true
	}

	hits, err := searchVectors(ctx, s.db, embedding, limit+len(exclude)+10)
	if err != nil {
		return nil, err
	}

	out := make([]types.MergeCandidate, 0, limit)
	for _, h := range hits {
		if h.Distance > threshold {
			break // hits are ascending by distance; nothing further qualifies
		}
		mem, err := getByIDTx(ctx, s.db, h.MemoryID)
		if err != nil {
			return nil, err
		}
		if excludeSet[mem.Mnemonic] {
			continue
		}
		out = append(out, types.MergeCandidate{Mnemonic: mem.Mnemonic, Distance: h.Distance})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
