package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/pkg/types"
)

type candidate struct {
	mem      types.Memory
	distance float64
}

// Recall runs the over-fetch → filter → score → sort → truncate →
// post-update pipeline described in the component design.
func (s *Store) Recall(ctx context.Context, rq storage.RecallQuery) ([]types.ScoredMemory, error) {
	if rq.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fetchLimit := 3 * rq.Limit
	if len(rq.IncludeTags) > 0 || len(rq.ExcludeTags) > 0 {
		fetchLimit = 12 * rq.Limit
	}

	hits, err := searchVectors(ctx, s.db, rq.Embedding, fetchLimit)
	if err != nil {
		return nil, err
	}

	matchSet, err := ftsMatchSet(ctx, s.db, rq.FTSQuery)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(hits))
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		mem, err := getByIDTx(ctx, s.db, h.MemoryID)
		if err != nil {
			return nil, err
		}
		if len(rq.IncludeTags) > 0 && !anyTagMatch(mem.Tags, rq.IncludeTags) {
			continue
		}
		if len(rq.ExcludeTags) > 0 && anyTagMatch(mem.Tags, rq.ExcludeTags) {
			continue
		}
		candidates = append(candidates, candidate{mem: *mem, distance: h.Distance})
		ids = append(ids, h.MemoryID)
	}

	adj, err := s.linksForCandidateSet(ctx, ids)
	if err != nil {
		return nil, err
	}
	distanceByID := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		distanceByID[c.mem.ID] = c.distance
	}

	now := time.Now()
	scored := make([]types.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		score := s.scoreCandidate(c, adj, distanceByID, matchSet, now)
		links, err := s.queryLinks(ctx, `WHERE l.source_id = ? OR l.target_id = ?`, c.mem.ID, c.mem.ID)
		if err != nil {
			return nil, err
		}
		scored = append(scored, types.ScoredMemory{Memory: c.mem, Distance: c.distance, Score: score, Links: links})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Mnemonic < scored[j].Mnemonic
	})

	if len(scored) > rq.Limit {
		scored = scored[:rq.Limit]
	}

	if err := s.touchRecalled(ctx, scored, now); err != nil {
		return nil, err
	}

	return scored, nil
}

// scoreCandidate computes the composite recall score. The returned value
// reflects pre-update counters: recall_count/last_recalled_at are bumped
// only after scoring, by touchRecalled.
func (s *Store) scoreCandidate(c candidate, adj map[int64][]int64, distanceByID map[int64]float64, ftsSet map[int64]bool, now time.Time) float64 {
	cfg := s.cfg
	similarity := 1 - c.distance

	recency := 0.0
	if c.mem.LastRecalledAt != nil {
		days := now.Sub(*c.mem.LastRecalledAt).Hours() / 24
		lambda := math.Ln2 / cfg.HalfLifeDays
		recency = math.Exp(-lambda * days)
	}

	frequency := math.Log(1 + float64(c.mem.RecallCount))

	linkBoost := 0.0
	contributors := 0
	for _, neighborID := range adj[c.mem.ID] {
		if contributors >= 3 {
			break
		}
		if d, ok := distanceByID[neighborID]; ok {
			linkBoost += 1 - d
			contributors++
		}
	}

	ratingSignal := 0.0
	r := float64(c.mem.UsefulCount) - float64(c.mem.NotUsefulCount)
	n := float64(c.mem.UsefulCount) + float64(c.mem.NotUsefulCount)
	if n > 0 {
		ratingSignal = (r / n) * (math.Sqrt(n) / (math.Sqrt(n) + 1))
	}

	tagBoost := 0.0
	if len(cfg.BoostTags) > 0 {
		tagBoost = float64(tagOverlapCount(c.mem.Tags, cfg.BoostTags)) / float64(len(cfg.BoostTags))
	}

	ftsBoost := 0.0
	if ftsSet != nil && ftsSet[c.mem.ID] {
		ftsBoost = 1
	}

	return cfg.WeightSimilarity*similarity +
		cfg.WeightRecency*recency +
		cfg.WeightFrequency*frequency +
		cfg.WeightLinkBoost*linkBoost +
		cfg.WeightRating*ratingSignal +
		cfg.WeightTagBoost*tagBoost +
		cfg.WeightFTSBoost*ftsBoost
}

// touchRecalled increments recall_count and advances last_recalled_at for
// every memory in the returned set. The caller already captured the
// pre-update snapshot in scored, so this mutation happens after scoring.
func (s *Store) touchRecalled(ctx context.Context, scored []types.ScoredMemory, now time.Time) error {
	if len(scored) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin recall update transaction: %w", err)
	}
	defer tx.Rollback()

	nowStr := formatTime(now)
	for _, sm := range scored {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET recall_count = recall_count + 1, last_recalled_at = ? WHERE id = ?
		`, nowStr, sm.ID); err != nil {
			return fmt.Errorf("sqlite: failed to update recall stats for %q: %w", sm.Mnemonic, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit recall update: %w", err)
	}
	return nil
}

func anyTagMatch(tags, filter []string) bool {
	set := make(map[string]bool, len(filter))
	for _, t := range filter {
		set[t] = true
	}
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

func tagOverlapCount(tags, boost []string) int {
	set := make(map[string]bool, len(boost))
	for _, t := range boost {
		set[t] = true
	}
	count := 0
	for _, t := range tags {
		if set[t] {
			count++
		}
	}
	return count
}
