package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// vectorHit is one row of a KNN search: a memory id and its L2 distance
// from the query vector, ascending.
type vectorHit struct {
	MemoryID int64
	Distance float64
}

// upsertVector replaces the embedding stored for memoryID. Unlike the
// CGO sqlite-vec extension this corpus otherwise reaches for, memory_id is
// already this database's integer primary key, so no separate rowid-mapping
// table is needed — see DESIGN.md for why the mapping layer from the
// reference vec0 wrapper was dropped rather than ported.
func upsertVector(ctx context.Context, q querier, memoryID int64, embedding []float32) error {
	blob := serializeEmbedding(embedding)
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, embedding) VALUES (?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding
	`, memoryID, blob)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert vector for memory %d: %w", memoryID, err)
	}
	return nil
}

func deleteVector(ctx context.Context, q querier, memoryID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM memory_vectors WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("sqlite: failed to delete vector for memory %d: %w", memoryID, err)
	}
	return nil
}

func getVector(ctx context.Context, q querier, memoryID int64) ([]float32, error) {
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT embedding FROM memory_vectors WHERE memory_id = ?`, memoryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read vector for memory %d: %w", memoryID, err)
	}
	return deserializeEmbedding(blob), nil
}

// searchVectors runs a brute-force KNN scan: there is no ANN extension
// wired in (see DESIGN.md), so every stored vector is compared against the
// query and the k closest by L2 distance are returned ascending. This is
// adequate for the target scale of a single conversational agent's memory
// store; it is the one place the implementation trades an index structure
// for code it can keep transactionally inside the same database file.
func searchVectors(ctx context.Context, q querier, query []float32, k int) ([]vectorHit, error) {
	rows, err := q.QueryContext(ctx, `SELECT memory_id, embedding FROM memory_vectors`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scan vector index: %w", err)
	}
	defer rows.Close()

	var hits []vectorHit
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan vector row: %w", err)
		}
		vec := deserializeEmbedding(blob)
		hits = append(hits, vectorHit{MemoryID: id, Distance: l2Distance(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHitsByDistance(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortHitsByDistance(hits []vectorHit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// serializeEmbedding packs a float32 vector as little-endian 4-byte floats,
// matching the on-disk layout named in the external interface.
func serializeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[4*i+0] = byte(bits)
		buf[4*i+1] = byte(bits >> 8)
		buf[4*i+2] = byte(bits >> 16)
		buf[4*i+3] = byte(bits >> 24)
	}
	return buf
}

func deserializeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[4*i+0]) | uint32(buf[4*i+1])<<8 | uint32(buf[4*i+2])<<16 | uint32(buf[4*i+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}
