// Package storage defines the store-facing contract the engine programs
// against. There is exactly one implementation (sqlite); the interface
// still exists to keep the engine package's tests swappable against a fake.
package storage

import (
	"context"

	"github.com/hollow-oak/mnemo/pkg/types"
)

// RecallQuery bundles the recall pipeline's inputs.
type RecallQuery struct {
	Embedding   []float32
	Limit       int
	IncludeTags []string
	ExcludeTags []string
	FTSQuery    string
}

// EditRequest bundles edit's inputs; at least one of NewMnemonic, AddTags or
// RemoveTags must be set or the call fails with ErrInvalidInput.
type EditRequest struct {
	Mnemonic     string
	NewMnemonic  string
	AddTags      []string
	RemoveTags   []string
	NewEmbedding []float32
}

// Store is the full contract the engine drives, one method group per
// component in the write/link/recall/maintenance split.
type Store interface {
	// Memorize upserts a memory and runs the auto-merge / auto-link
	// admission policy. See sqlite.Store.Memorize for the full algorithm.
	Memorize(ctx context.Context, mnemonic, content string, tags []string, embedding []float32) (*types.MemorizeResult, error)

	// ImportRow upserts a row keyed by uuid, preserving that identity and
	// skipping the admission policy entirely. Used only by the import-row
	// transaction the interchange format's import operation drives.
	ImportRow(ctx context.Context, uuid, mnemonic, content string, tags []string, embedding []float32) (created, updated bool, err error)

	Recall(ctx context.Context, q RecallQuery) ([]types.ScoredMemory, error)

	Link(ctx context.Context, source, target string, linkType types.LinkType) error
	Unlink(ctx context.Context, source, target string, linkType types.LinkType) error
	GetLinks(ctx context.Context, mnemonic string) ([]types.Link, error)
	GetAllLinks(ctx context.Context) ([]types.Link, error)

	Merge(ctx context.Context, keep, discard string, reEmbedding []float32) error

	Edit(ctx context.Context, req EditRequest) (*types.EditResult, error)
	Rate(ctx context.Context, mnemonic string, useful bool) error
	RateBatch(ctx context.Context, mnemonics []string, useful bool) (missing []string, err error)
	RenameTag(ctx context.Context, old, newTag string) (int64, error)
	Delete(ctx context.Context, mnemonic string) (bool, error)

	ListTags(ctx context.Context) ([]types.TagCount, error)
	ListAllSummaries(ctx context.Context) ([]types.Summary, error)
	FindMergeCandidates(ctx context.Context, embedding []float32, threshold float64, exclude []string, limit int) ([]types.MergeCandidate, error)

	// GetByMnemonic fetches a single row by mnemonic.
	GetByMnemonic(ctx context.Context, mnemonic string) (*types.Memory, error)
	// AllMemories enumerates every row, used by export.
	AllMemories(ctx context.Context) ([]types.Memory, error)

	Close() error
}
