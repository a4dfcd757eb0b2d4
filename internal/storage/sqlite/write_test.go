package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemorizeFirstRowHasNoNeighbors covers scenario S1: a single memorize
// into an empty store reports no merge and no neighbors.
func TestMemorizeFirstRowHasNoNeighbors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result, err := store.Memorize(ctx, "alpha", "Rust is a systems language", nil, vec(0))
	require.NoError(t, err)
	assert.Nil(t, result.MergedWith)
	assert.Empty(t, result.Neighbors)
}

// TestMemorizeAutoLinksNearNeighbor covers scenario S2: a second memory
// close enough to cross AUTO_LINK_THRESHOLD but not AUTO_MERGE_THRESHOLD
// is reported as a neighbor and gets a "related" edge, not a merge.
func TestMemorizeAutoLinksNearNeighbor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "Rust is a systems language", nil, vec(0))
	require.NoError(t, err)

	result, err := store.Memorize(ctx, "beta", "SQLite is embedded", []string{"db"}, vec(0.01))
	require.NoError(t, err)

	assert.Nil(t, result.MergedWith)
	require.Len(t, result.Neighbors, 1)
	assert.Equal(t, "alpha", result.Neighbors[0].Mnemonic)
	assert.InDelta(t, 0.196, result.Neighbors[0].Distance, 0.01)

	links, err := store.GetLinks(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "beta", links[0].SourceMnemonic)
	assert.Equal(t, "alpha", links[0].TargetMnemonic)
	assert.Equal(t, "related", string(links[0].Type))
}

// TestMemorizeAutoMergesNearDuplicate covers scenario S3: a memory within
// AUTO_MERGE_THRESHOLD collapses into the survivor, concatenating content,
// unioning tags, and reports merged_with.
func TestMemorizeAutoMergesNearDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "old content", []string{"lang"}, vec(0))
	require.NoError(t, err)

	result, err := store.Memorize(ctx, "alpha2", "new content", []string{"systems"}, vec(0.0001))
	require.NoError(t, err)

	require.NotNil(t, result.MergedWith)
	assert.Equal(t, "alpha", *result.MergedWith)

	all, err := store.AllMemories(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	survivor := all[0]
	assert.Equal(t, "alpha2", survivor.Mnemonic)
	assert.Equal(t, "new content\n\nold content", survivor.Content)
	assert.ElementsMatch(t, []string{"systems", "lang"}, survivor.Tags)

	_, err = store.GetByMnemonic(ctx, "alpha")
	assert.Error(t, err)
}

func TestMemorizeRejectsWrongEmbeddingDimension(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "content", nil, []float32{0.1, 0.2})
	assert.Error(t, err)
}

func TestMemorizeRejectsEmptyMnemonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "", "content", nil, vec(0))
	assert.Error(t, err)
}
