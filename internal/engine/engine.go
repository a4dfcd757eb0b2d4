// Package engine wires the storage layer and the embedder together behind
// the mutex discipline the concurrency model requires, and exposes the
// operations named in the external interface section. It is the only
// package collaborators (CLI, JSON-RPC, HTTP — all out of scope here) are
// meant to import.
package engine

import (
	"context"
	"fmt"

	"github.com/hollow-oak/mnemo/internal/embed"
	"github.com/hollow-oak/mnemo/internal/storage"
	"github.com/hollow-oak/mnemo/internal/storage/sqlite"
	"github.com/hollow-oak/mnemo/pkg/types"
)

// Engine composes a Store and an Embedder. Every method that needs both an
// embedding and the store embeds first, lets the embedder's lock go, and
// only then drives the store — never the reverse, and never both locks
// held at once.
type Engine struct {
	store    storage.Store
	embedder *embed.Embedder
}

// New opens the database at cfg.DBPath and wraps embedFn for use by every
// operation that needs a fresh vector.
func New(cfg Config, embedFn embed.Func) (*Engine, error) {
	store, err := sqlite.Open(cfg.DBPath, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open store: %w", err)
	}
	embedder := embed.New(embedFn, cfg.Store.EmbedDim, cfg.Breaker)
	return &Engine{store: store, embedder: embedder}, nil
}

// Close releases the underlying database connection.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Memorize embeds content and upserts it, running the admission policy.
func (e *Engine) Memorize(ctx context.Context, mnemonic, content string, tags []string) (*types.MemorizeResult, error) {
	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("engine: memorize: %w", err)
	}
	return e.store.Memorize(ctx, mnemonic, content, tags, vec)
}

// ImportRow embeds content and upserts it keyed by uuid, bypassing the
// auto-merge / auto-link admission policy so an import reproduces exactly
// the rows and links its source described.
func (e *Engine) ImportRow(ctx context.Context, uuid, mnemonic, content string, tags []string) (created, updated bool, err error) {
	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return false, false, fmt.Errorf("engine: import_row: %w", err)
	}
	return e.store.ImportRow(ctx, uuid, mnemonic, content, tags, vec)
}

// Recall embeds query and runs the recall pipeline.
func (e *Engine) Recall(ctx context.Context, query string, limit int, includeTags, excludeTags []string, ftsQuery string) ([]types.ScoredMemory, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: recall: %w", err)
	}
	return e.store.Recall(ctx, storage.RecallQuery{
		Embedding:   vec,
		Limit:       limit,
		IncludeTags: includeTags,
		ExcludeTags: excludeTags,
		FTSQuery:    ftsQuery,
	})
}

func (e *Engine) Link(ctx context.Context, source, target string, linkType types.LinkType) error {
	return e.store.Link(ctx, source, target, linkType)
}

func (e *Engine) Unlink(ctx context.Context, source, target string, linkType types.LinkType) error {
	return e.store.Unlink(ctx, source, target, linkType)
}

func (e *Engine) GetLinks(ctx context.Context, mnemonic string) ([]types.Link, error) {
	return e.store.GetLinks(ctx, mnemonic)
}

func (e *Engine) GetAllLinks(ctx context.Context) ([]types.Link, error) {
	return e.store.GetAllLinks(ctx)
}

// Merge absorbs discard into keep, re-embedding keep from reEmbedText
// (typically keep's own mnemonic or content, per the design notes).
func (e *Engine) Merge(ctx context.Context, keep, discard, reEmbedText string) error {
	vec, err := e.embedder.Embed(ctx, reEmbedText)
	if err != nil {
		return fmt.Errorf("engine: merge: %w", err)
	}
	return e.store.Merge(ctx, keep, discard, vec)
}

// EditRequest mirrors storage.EditRequest but carries the rename text to
// re-embed instead of a precomputed vector, since the engine owns the
// embedder.
type EditRequest struct {
	Mnemonic    string
	NewMnemonic string
	AddTags     []string
	RemoveTags  []string
}

func (e *Engine) Edit(ctx context.Context, req EditRequest) (*types.EditResult, error) {
	sr := storage.EditRequest{
		Mnemonic:    req.Mnemonic,
		NewMnemonic: req.NewMnemonic,
		AddTags:     req.AddTags,
		RemoveTags:  req.RemoveTags,
	}
	if req.NewMnemonic != "" && req.NewMnemonic != req.Mnemonic {
		vec, err := e.embedder.Embed(ctx, req.NewMnemonic)
		if err != nil {
			return nil, fmt.Errorf("engine: edit: %w", err)
		}
		sr.NewEmbedding = vec
	}
	return e.store.Edit(ctx, sr)
}

func (e *Engine) Rate(ctx context.Context, mnemonic string, useful bool) error {
	return e.store.Rate(ctx, mnemonic, useful)
}

func (e *Engine) RateBatch(ctx context.Context, mnemonics []string, useful bool) ([]string, error) {
	return e.store.RateBatch(ctx, mnemonics, useful)
}

func (e *Engine) RenameTag(ctx context.Context, old, newTag string) (int64, error) {
	return e.store.RenameTag(ctx, old, newTag)
}

func (e *Engine) Delete(ctx context.Context, mnemonic string) (bool, error) {
	return e.store.Delete(ctx, mnemonic)
}

func (e *Engine) ListTags(ctx context.Context) ([]types.TagCount, error) {
	return e.store.ListTags(ctx)
}

func (e *Engine) ListAllSummaries(ctx context.Context) ([]types.Summary, error) {
	return e.store.ListAllSummaries(ctx)
}

// FindMergeCandidates embeds query and runs a KNN search post-filtered by
// threshold and exclude, for an external interactive dedup loop.
func (e *Engine) FindMergeCandidates(ctx context.Context, query string, threshold float64, exclude []string, limit int) ([]types.MergeCandidate, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: find_merge_candidates: %w", err)
	}
	return e.store.FindMergeCandidates(ctx, vec, threshold, exclude, limit)
}

func (e *Engine) GetByMnemonic(ctx context.Context, mnemonic string) (*types.Memory, error) {
	return e.store.GetByMnemonic(ctx, mnemonic)
}

func (e *Engine) AllMemories(ctx context.Context) ([]types.Memory, error) {
	return e.store.AllMemories(ctx)
}
