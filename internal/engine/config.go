package engine

import (
	"github.com/hollow-oak/mnemo/internal/embed"
	"github.com/hollow-oak/mnemo/internal/storage/sqlite"
)

// Config bundles everything needed to open an Engine: the database path,
// the storage layer's tuning constants, and the embedder's circuit breaker
// settings. Embedding model selection and its own configuration live
// outside the core, supplied as the embed.Func passed to New.
type Config struct {
	DBPath  string
	Store   sqlite.Config
	Breaker embed.BreakerConfig
}

// DefaultConfig returns the tuning constants named in the external
// interface section, opening dbPath.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:  dbPath,
		Store:   sqlite.DefaultConfig(),
		Breaker: embed.DefaultBreakerConfig(),
	}
}
