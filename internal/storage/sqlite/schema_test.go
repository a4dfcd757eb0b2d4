package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaIdempotent(t *testing.T) {
	store := newTestStore(t)
	// Re-running ensureSchema against an already-migrated database must not
	// error: CREATE TABLE/TRIGGER use IF NOT EXISTS, and ALTER TABLE
	// tolerates "duplicate column".
	require.NoError(t, ensureSchema(store.db))
	require.NoError(t, ensureSchema(store.db))
}

func TestMemorizeAssignsUUIDAndStableAcrossUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "Rust is a systems language", nil, vec(0))
	require.NoError(t, err)

	first, err := store.GetByMnemonic(ctx, "alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, first.UUID)

	// A same-mnemonic upsert must not change the UUID (I3), and must leave
	// counters untouched.
	_, err = store.Memorize(ctx, "alpha", "Rust is a systems language, revised", nil, vec(0))
	require.NoError(t, err)

	second, err := store.GetByMnemonic(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, first.UUID, second.UUID)
	assert.Equal(t, "Rust is a systems language, revised", second.Content)
}

func TestMnemonicUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Memorize(ctx, "alpha", "content", nil, vec(0))
	require.NoError(t, err)

	// Memorizing the same mnemonic again updates the row in place rather
	// than creating a second one sharing the mnemonic (I1).
	_, err = store.Memorize(ctx, "alpha", "content v2", nil, vec(0.5))
	require.NoError(t, err)

	all, err := store.AllMemories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
