package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/hollow-oak/mnemo/pkg/types"
)

// mergeInto absorbs discardID into survivorID: content is concatenated
// survivor-then-discard, tags are unioned survivor-first, incident edges are
// transferred, a supersedes edge survivor→discard is inserted and then the
// discard row is deleted — which cascades that very edge away along with
// the rest of discard's edges and its vector. See the open-question note in
// DESIGN.md: this is deliberate and exercised by the auto-merge-idempotence
// property, not an oversight.
func mergeInto(ctx context.Context, tx querier, survivorID, discardID int64, newEmbedding []float32) (string, error) {
	survivor, err := getByIDTx(ctx, tx, survivorID)
	if err != nil {
		return "", err
	}
	discard, err := getByIDTx(ctx, tx, discardID)
	if err != nil {
		return "", err
	}

	mergedContent := survivor.Content + "\n\n" + discard.Content
	mergedTags := unionTags(survivor.Tags, discard.Tags)
	tagsJSON, err := encodeTags(mergedTags)
	if err != nil {
		return "", err
	}
	now := formatTime(time.Now())

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET content = ?, tags = ?, updated_at = ? WHERE id = ?`,
		mergedContent, tagsJSON, now, survivorID); err != nil {
		return "", fmt.Errorf("sqlite: failed to update merge survivor: %w", err)
	}

	if newEmbedding != nil {
		if err := upsertVector(ctx, tx, survivorID, newEmbedding); err != nil {
			return "", err
		}
	}

	if err := transferLinks(ctx, tx, discardID, survivorID); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_links (source_id, target_id, link_type, created_at) VALUES (?, ?, ?, ?)
	`, survivorID, discardID, string(types.LinkSupersedes), now); err != nil {
		return "", fmt.Errorf("sqlite: failed to insert supersedes edge: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, discardID); err != nil {
		return "", fmt.Errorf("sqlite: failed to delete merged-away memory: %w", err)
	}

	return discard.Mnemonic, nil
}

// unionTags concatenates a then b, keeping first occurrence order and
// dropping duplicates.
func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// getByIDTx is getByID without a Store receiver, for use from merge helpers
// that run against either a *sql.Tx or the Store's *sql.DB.
func getByIDTx(ctx context.Context, q querier, id int64) (*types.Memory, error) {
	row := q.QueryRowContext(ctx, selectMemoryColumns+` FROM memories WHERE id = ?`, id)
	return scanMemory(row)
}
