package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDim = 384

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mnemo.db")
	cfg := DefaultConfig()
	cfg.EmbedDim = testDim
	store, err := Open(dbPath, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// vec builds a 384-dim embedding whose values are (i/384) + offset, the
// shape the end-to-end scenarios in spec.md §8 use so that distances between
// fixtures are easy to reason about by hand.
func vec(offset float64) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32(float64(i)/float64(testDim) + offset)
	}
	return v
}
