package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/pkg/types"
)

// Memorize upserts (mnemonic, content, tags, embedding) and runs the
// write-time admission policy: auto-merge the closest near-duplicate, or
// auto-link nearby neighbors, then always returns a neighbor report. The
// whole operation is one transaction per the storage layer's transactional
// discipline.
func (s *Store) Memorize(ctx context.Context, mnemonic, content string, tags []string, embedding []float32) (*types.MemorizeResult, error) {
	if mnemonic == "" {
		return nil, fmt.Errorf("%w: mnemonic is required", storage.ErrInvalidInput)
	}
	if len(embedding) != s.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: embedding must have %d dimensions, got %d", storage.ErrInvalidInput, s.cfg.EmbedDim, len(embedding))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin memorize transaction: %w", err)
	}
	defer tx.Rollback()

	newID, err := upsertRow(ctx, tx, mnemonic, content, tags)
	if err != nil {
		return nil, err
	}
	if err := upsertVector(ctx, tx, newID, embedding); err != nil {
		return nil, err
	}

	// K+1 so the just-inserted row's own (zero-distance) match is included
	// and excluded explicitly by id, per the neighbor-fetch edge policy.
	hits, err := searchVectors(ctx, tx, embedding, s.cfg.AutoLinkMaxNeighbors+1)
	if err != nil {
		return nil, err
	}

	var neighbors []types.Neighbor
	var closest *vectorHit
	for i := range hits {
		h := hits[i]
		if h.MemoryID == newID {
			continue
		}
		if closest == nil {
			closest = &hits[i]
		}
		if h.Distance < s.cfg.AutoLinkThreshold {
			nm, err := getByIDTx(ctx, tx, h.MemoryID)
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, types.Neighbor{Mnemonic: nm.Mnemonic, Distance: h.Distance, Tags: nm.Tags})
		}
	}

	result := &types.MemorizeResult{Neighbors: neighbors}

	switch {
	case closest != nil && closest.Distance < s.cfg.AutoMergeThreshold:
		oldMnemonic, err := mergeInto(ctx, tx, newID, closest.MemoryID, nil)
		if err != nil {
			return nil, err
		}
		result.MergedWith = &oldMnemonic

	default:
		now := formatTime(time.Now())
		for _, h := range hits {
			if h.MemoryID == newID || h.Distance >= s.cfg.AutoLinkThreshold {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO memory_links (source_id, target_id, link_type, created_at) VALUES (?, ?, ?, ?)
			`, newID, h.MemoryID, string(types.LinkRelated), now); err != nil {
				return nil, fmt.Errorf("sqlite: failed to auto-link: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit memorize: %w", err)
	}
	return result, nil
}

// ImportRow upserts a row keyed by uuid rather than mnemonic, preserving the
// caller-supplied identity instead of assigning a fresh one, and writes its
// vector directly. Unlike Memorize it never runs the auto-merge / auto-link
// admission policy: import reproduces exactly the rows and links the source
// described, nothing more.
func (s *Store) ImportRow(ctx context.Context, uuid, mnemonic, content string, tags []string, embedding []float32) (created, updated bool, err error) {
	if uuid == "" {
		return false, false, fmt.Errorf("%w: uuid is required", storage.ErrInvalidInput)
	}
	if mnemonic == "" {
		return false, false, fmt.Errorf("%w: mnemonic is required", storage.ErrInvalidInput)
	}
	if len(embedding) != s.cfg.EmbedDim {
		return false, false, fmt.Errorf("%w: embedding must have %d dimensions, got %d", storage.ErrInvalidInput, s.cfg.EmbedDim, len(embedding))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("sqlite: failed to begin import-row transaction: %w", err)
	}
	defer tx.Rollback()

	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return false, false, err
	}
	now := formatTime(time.Now())

	var id int64
	var existingMnemonic, existingContent string
	err = tx.QueryRowContext(ctx, `SELECT id, mnemonic, content FROM memories WHERE uuid = ?`, uuid).
		Scan(&id, &existingMnemonic, &existingContent)
	switch {
	case err == sql.ErrNoRows:
		var conflictID int64
		cErr := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE mnemonic = ?`, mnemonic).Scan(&conflictID)
		if cErr == nil {
			return false, false, fmt.Errorf("%w: mnemonic %q already belongs to a different memory", storage.ErrConflict, mnemonic)
		}
		if cErr != sql.ErrNoRows {
			return false, false, fmt.Errorf("sqlite: failed to check mnemonic uniqueness: %w", cErr)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (uuid, mnemonic, content, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid, mnemonic, content, tagsJSON, now, now)
		if err != nil {
			return false, false, fmt.Errorf("sqlite: failed to insert imported memory %q: %w", mnemonic, err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return false, false, err
		}
		if err := upsertVector(ctx, tx, newID, embedding); err != nil {
			return false, false, err
		}
		if err := tx.Commit(); err != nil {
			return false, false, fmt.Errorf("sqlite: failed to commit import-row: %w", err)
		}
		return true, false, nil

	case err != nil:
		return false, false, fmt.Errorf("sqlite: failed to look up uuid %q: %w", uuid, err)

	default:
		if mnemonic != existingMnemonic {
			var conflictID int64
			cErr := tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE mnemonic = ? AND id != ?`, mnemonic, id).Scan(&conflictID)
			if cErr == nil {
				return false, false, fmt.Errorf("%w: mnemonic %q already belongs to a different memory", storage.ErrConflict, mnemonic)
			}
			if cErr != sql.ErrNoRows {
				return false, false, fmt.Errorf("sqlite: failed to check mnemonic uniqueness: %w", cErr)
			}
		}

		if mnemonic == existingMnemonic && content == existingContent {
			if err := tx.Commit(); err != nil {
				return false, false, fmt.Errorf("sqlite: failed to commit import-row: %w", err)
			}
			return false, false, nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE memories SET mnemonic = ?, content = ?, tags = ?, updated_at = ? WHERE id = ?`,
			mnemonic, content, tagsJSON, now, id); err != nil {
			return false, false, fmt.Errorf("sqlite: failed to update imported memory %q: %w", mnemonic, err)
		}
		if err := upsertVector(ctx, tx, id, embedding); err != nil {
			return false, false, err
		}
		if err := tx.Commit(); err != nil {
			return false, false, fmt.Errorf("sqlite: failed to commit import-row: %w", err)
		}
		return false, true, nil
	}
}

// upsertRow implements the upsert half of memorize: overwrite content/tags
// and bump updated_at on conflict, leaving uuid and counters untouched;
// assign a fresh uuid on insert.
func upsertRow(ctx context.Context, tx *sql.Tx, mnemonic, content string, tags []string) (int64, error) {
	tagsJSON, err := encodeTags(tags)
	if err != nil {
		return 0, err
	}
	now := formatTime(time.Now())

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE mnemonic = ?`, mnemonic).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memories (uuid, mnemonic, content, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), mnemonic, content, tagsJSON, now, now)
		if err != nil {
			return 0, fmt.Errorf("sqlite: failed to insert memory %q: %w", mnemonic, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("sqlite: failed to look up mnemonic %q: %w", mnemonic, err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET content = ?, tags = ?, updated_at = ? WHERE id = ?`,
			content, tagsJSON, now, id); err != nil {
			return 0, fmt.Errorf("sqlite: failed to update memory %q: %w", mnemonic, err)
		}
		return id, nil
	}
}
