package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFTSMatchSetEmptyQueryReturnsNil(t *testing.T) {
	store := newTestStore(t)
	set, err := ftsMatchSet(context.Background(), store.db, "")
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestFTSMatchSetFindsPhrase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Memorize(ctx, "alpha", "SQLite is an embedded database engine", nil, vec(0))
	require.NoError(t, err)
	_, err = store.Memorize(ctx, "beta", "gardening tips for spring", nil, vec(10))
	require.NoError(t, err)

	set, err := ftsMatchSet(ctx, store.db, "embedded database")
	require.NoError(t, err)
	assert.Len(t, set, 1)
}

func TestFTSCoherenceAfterDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Memorize(ctx, "alpha", "SQLite is an embedded database engine", nil, vec(0))
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, deleted)

	set, err := ftsMatchSet(ctx, store.db, "embedded")
	require.NoError(t, err)
	assert.Empty(t, set)
}
