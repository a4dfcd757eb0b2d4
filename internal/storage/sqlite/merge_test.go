package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollow-oak/mnemo/pkg/types"
)

// TestMergeKeepSurvives exercises the explicit merge operation (distinct
// from auto-merge): the caller-chosen "keep" row is the survivor, content
// concatenates keep-then-discard, links transfer, and the discard row is
// gone.
func TestMergeKeepSurvives(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "keep", "keep content", []string{"a"}, vec(0))
	require.NoError(t, err)
	_, err = store.Memorize(ctx, "discard", "discard content", []string{"b"}, vec(10))
	require.NoError(t, err)
	_, err = store.Memorize(ctx, "other", "other content", nil, vec(20))
	require.NoError(t, err)
	require.NoError(t, store.Link(ctx, "discard", "other", types.LinkRelated))

	require.NoError(t, store.Merge(ctx, "keep", "discard", vec(0.5)))

	survivor, err := store.GetByMnemonic(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "keep content\n\ndiscard content", survivor.Content)
	assert.ElementsMatch(t, []string{"a", "b"}, survivor.Tags)

	_, err = store.GetByMnemonic(ctx, "discard")
	assert.Error(t, err)

	// The edge discard->other transfers onto keep->other.
	links, err := store.GetLinks(ctx, "keep")
	require.NoError(t, err)
	found := false
	for _, l := range links {
		if l.SourceMnemonic == "keep" && l.TargetMnemonic == "other" {
			found = true
		}
	}
	assert.True(t, found, "expected transferred link keep->other, got %+v", links)
}

func TestMergeNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Memorize(ctx, "keep", "content", nil, vec(0))
	require.NoError(t, err)

	err = store.Merge(ctx, "keep", "missing", vec(0))
	assert.Error(t, err)
}

// TestAutoMergeSupersedesEdgeDoesNotSurvive covers testable property 9: the
// supersedes edge is inserted then immediately cascaded away along with the
// deleted discard row, so no edge to the discarded mnemonic remains.
func TestAutoMergeSupersedesEdgeDoesNotSurvive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "old", nil, vec(0))
	require.NoError(t, err)
	_, err = store.Memorize(ctx, "alpha2", "new", nil, vec(0.0001))
	require.NoError(t, err)

	links, err := store.GetAllLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
}
