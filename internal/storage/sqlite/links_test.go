package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollow-oak/mnemo/pkg/types"
)

func memorizeFar(t *testing.T, store *Store, mnemonic string, offset float64) {
	t.Helper()
	_, err := store.Memorize(context.Background(), mnemonic, mnemonic+" content", nil, vec(offset))
	require.NoError(t, err)
}

// TestLinkIdempotent covers scenario S4 and testable property 6: linking
// the same (source, target, type) twice yields a single edge.
func TestLinkIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)
	memorizeFar(t, store, "b", 10)

	require.NoError(t, store.Link(ctx, "a", "b", types.LinkSupersedes))
	require.NoError(t, store.Link(ctx, "a", "b", types.LinkSupersedes))

	links, err := store.GetLinks(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

// TestUnlinkMissingIsNoop covers testable property 7.
func TestUnlinkMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)
	memorizeFar(t, store, "b", 10)

	err := store.Unlink(ctx, "a", "b", types.LinkRelated)
	assert.NoError(t, err)
}

func TestLinkRejectsSelfLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)

	err := store.Link(ctx, "a", "a", types.LinkRelated)
	assert.Error(t, err)
}

func TestLinkRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)
	memorizeFar(t, store, "b", 10)

	err := store.Link(ctx, "a", "b", types.LinkType("cites"))
	assert.Error(t, err)
}

func TestLinkNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)

	err := store.Link(ctx, "a", "missing", types.LinkRelated)
	assert.Error(t, err)
}

func TestGetAllLinksProjectsBothEndpoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	memorizeFar(t, store, "a", 0)
	memorizeFar(t, store, "b", 10)
	require.NoError(t, store.Link(ctx, "a", "b", types.LinkDerivedFrom))

	all, err := store.GetAllLinks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].SourceMnemonic)
	assert.Equal(t, "b", all[0].TargetMnemonic)
	assert.Equal(t, types.LinkDerivedFrom, all[0].Type)
}
