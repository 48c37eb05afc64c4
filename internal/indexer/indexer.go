// Package indexer orchestrates the tab indexing pipeline. The
// ContentIndexer pulls extracted text for a tab, chunks and embeds it,
// and keeps the vector index consistent as tabs open, settle, navigate
// and close. Search runs the same pipeline in reverse: embed the query
// once, over-fetch from the index, and collapse to the best chunk per
// tab.
package indexer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tabsense/tabsense/internal/chunk"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/tabs"
	"github.com/tabsense/tabsense/internal/vector"
)

// Defaults applied when the corresponding config field is zero.
const (
	// DefaultMaxChunksPerDoc bounds index growth and embedding work for
	// a single document.
	DefaultMaxChunksPerDoc = 32

	// DefaultDedupOverfetch multiplies topK when querying the vector
	// index so owner-level deduplication can still fill the requested
	// result count.
	DefaultDedupOverfetch = 3

	// rebuildParallelism bounds concurrent document indexing during a
	// full rebuild.
	rebuildParallelism = 4
)

// OwnerLister enumerates the owners whose documents a full rebuild
// should re-index. *tabs.Registry satisfies it.
type OwnerLister interface {
	Owners() []string
}

// Deps are the collaborators injected into a ContentIndexer.
type Deps struct {
	// Engine is the embedding delegate (required).
	Engine embed.Engine

	// Index is the vector index (required).
	Index *vector.Index

	// Extractor supplies extracted text per owner (required).
	Extractor tabs.Extractor

	// Owners lists owners for RebuildAll (optional; rebuilds fail
	// without it).
	Owners OwnerLister

	// Chunker splits extracted text (optional; defaults apply).
	Chunker *chunk.TextChunker

	// NewEngine recreates the embedding delegate during Reinitialize
	// (optional; without it the existing delegate is reloaded in
	// place).
	NewEngine func(ctx context.Context) (embed.Engine, error)

	// NewIndex recreates the vector index when a reinitialized engine
	// reports a different output dimension (optional; without it the
	// existing index is cleared and kept).
	NewIndex func(dimension int) (*vector.Index, error)
}

// ContentIndexer coordinates extraction, chunking, embedding and the
// vector index for the set of open tabs. Safe for concurrent use; no
// lock is held across an embedding or persistence round-trip.
type ContentIndexer struct {
	cfg       config.IndexerConfig
	chunker   *chunk.TextChunker
	extractor tabs.Extractor
	owners    OwnerLister

	newEngine func(ctx context.Context) (embed.Engine, error)
	newIndex  func(dimension int) (*vector.Index, error)

	// mu guards replacement of the delegates, not their use.
	mu     sync.RWMutex
	engine embed.Engine
	index  *vector.Index

	// Process-lifetime dedup of indexed (url, title) pairs. ownerKeys
	// remembers which pair each owner contributed so removal frees it.
	dedupMu   sync.Mutex
	seen      map[string]struct{}
	ownerKeys map[string]string

	denySchemes []string

	reinit atomic.Bool
}

// New creates a ContentIndexer. Engine, Index and Extractor are
// required; zero config fields fall back to defaults.
func New(deps Deps, cfg config.IndexerConfig) (*ContentIndexer, error) {
	if deps.Engine == nil {
		return nil, errors.ConfigError("content indexer requires an embedding engine", nil)
	}
	if deps.Index == nil {
		return nil, errors.ConfigError("content indexer requires a vector index", nil)
	}
	if deps.Extractor == nil {
		return nil, errors.ConfigError("content indexer requires an extractor", nil)
	}

	if cfg.MaxChunksPerDoc <= 0 {
		cfg.MaxChunksPerDoc = DefaultMaxChunksPerDoc
	}
	if cfg.DedupOverfetch < 1 {
		cfg.DedupOverfetch = DefaultDedupOverfetch
	}

	// Configured schemes extend the built-in privileged list, they never
	// replace it.
	deny := append(config.DefaultDenySchemes(), cfg.DenySchemes...)
	lowered := make([]string, 0, len(deny))
	for _, scheme := range deny {
		if s := strings.ToLower(strings.TrimSpace(scheme)); s != "" {
			lowered = append(lowered, s)
		}
	}

	chunker := deps.Chunker
	if chunker == nil {
		chunker = chunk.NewTextChunker()
	}

	return &ContentIndexer{
		cfg:         cfg,
		chunker:     chunker,
		extractor:   deps.Extractor,
		owners:      deps.Owners,
		newEngine:   deps.NewEngine,
		newIndex:    deps.NewIndex,
		engine:      deps.Engine,
		index:       deps.Index,
		seen:        make(map[string]struct{}),
		ownerKeys:   make(map[string]string),
		denySchemes: lowered,
	}, nil
}

// IndexDocument indexes the current content of one tab, replacing any
// previous version of the same tab. Unindexable tabs are skipped with a
// nil error: an unavailable engine, an ineligible or duplicate
// location, and failed or empty extraction are all normal outcomes, not
// faults.
func (x *ContentIndexer) IndexDocument(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ownerID == "" {
		return errors.New(errors.ErrCodeInvalidOwner, "owner id must not be empty", nil)
	}
	if x.reinit.Load() {
		slog.Debug("skipping tab, reinitialization in progress", slog.String("owner", ownerID))
		return nil
	}

	engine, index := x.delegates()

	// Only a running engine is worth waiting for; an uninitialized or
	// failed one would pay a cold start per tab.
	if st := engine.State(); st != embed.StateReady && st != embed.StateInitializing {
		slog.Debug("skipping tab, embedding engine not started",
			slog.String("owner", ownerID),
			slog.String("engine_state", st.String()))
		return nil
	}

	extraction, err := x.extractor.Extract(ctx, ownerID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Debug("skipping tab, extraction failed",
			slog.String("owner", ownerID),
			slog.String("error", err.Error()))
		return nil
	}

	if !x.eligible(extraction.URL) {
		slog.Debug("skipping tab with ineligible location",
			slog.String("owner", ownerID),
			slog.String("url", extraction.URL))
		return nil
	}

	key := dedupKey(extraction.URL, extraction.Title)
	if x.cfg.SkipDuplicates && x.alreadyIndexed(key) {
		slog.Debug("skipping already indexed content",
			slog.String("owner", ownerID),
			slog.String("url", extraction.URL))
		return nil
	}

	chunks := x.chunker.Chunk(extraction.Text, extraction.Title)
	if len(chunks) == 0 {
		slog.Debug("tab produced no indexable chunks", slog.String("owner", ownerID))
		return nil
	}
	if len(chunks) > x.cfg.MaxChunksPerDoc {
		slog.Debug("capping tab chunks",
			slog.String("owner", ownerID),
			slog.Int("produced", len(chunks)),
			slog.Int("kept", x.cfg.MaxChunksPerDoc))
		chunks = chunks[:x.cfg.MaxChunksPerDoc]
	}

	// Join an in-flight model load rather than dropping the tab.
	if !engine.Ready() {
		if err := engine.Initialize(ctx); err != nil {
			return err
		}
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := engine.EmbeddingBatch(ctx, texts)
	if err != nil {
		return err
	}

	// Replace, not append: a tab re-settling after more content loaded
	// supersedes its earlier chunks.
	if err := index.RemoveOwner(ctx, ownerID); err != nil {
		return err
	}

	for i, ch := range chunks {
		payload := vector.Chunk{
			URL:    extraction.URL,
			Title:  extraction.Title,
			Text:   ch.Text,
			Source: chunkSource(ch.Source),
		}
		if _, err := index.Insert(ctx, ownerID, payload, vecs[i]); err != nil {
			return err
		}
	}

	x.recordIndexed(ownerID, key)
	slog.Info("indexed tab",
		slog.String("owner", ownerID),
		slog.String("url", extraction.URL),
		slog.Int("chunks", len(chunks)))
	return nil
}

// RemoveDocument drops all of one tab's chunks from the index and frees
// its dedup entry so the same content can be indexed again later.
// Unknown owners are a no-op.
func (x *ContentIndexer) RemoveDocument(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New(errors.ErrCodeInvalidOwner, "owner id must not be empty", nil)
	}

	x.forgetOwner(ownerID)

	_, index := x.delegates()
	return index.RemoveOwner(ctx, ownerID)
}

// RebuildOption configures a RebuildAll run.
type RebuildOption func(*rebuildRun)

type rebuildRun struct {
	onProgress func(done, total int)
}

// WithRebuildProgress registers a callback invoked after each owner
// finishes, skipped or not. Callbacks arrive from the rebuild workers
// and must be safe for concurrent use.
func WithRebuildProgress(fn func(done, total int)) RebuildOption {
	return func(r *rebuildRun) {
		r.onProgress = fn
	}
}

// RebuildAll discards the whole index and re-indexes every currently
// listed owner. Per-owner failures are logged and skipped; only
// cancellation aborts the rebuild.
func (x *ContentIndexer) RebuildAll(ctx context.Context, opts ...RebuildOption) error {
	var run rebuildRun
	for _, opt := range opts {
		opt(&run)
	}

	if x.owners == nil {
		return errors.New(errors.ErrCodeIndexFailed, "no owner source configured for rebuild", nil)
	}

	_, index := x.delegates()
	if err := index.Clear(ctx); err != nil {
		return err
	}
	x.clearDedup()

	owners := x.owners.Owners()
	slog.Info("rebuilding index from open tabs", slog.Int("owners", len(owners)))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildParallelism)
	for _, ownerID := range owners {
		g.Go(func() error {
			if err := x.IndexDocument(gctx, ownerID); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("rebuild skipped a tab",
					slog.String("owner", ownerID),
					slog.String("error", err.Error()))
			}
			if run.onProgress != nil {
				run.onProgress(int(done.Add(1)), len(owners))
			}
			return nil
		})
	}
	return g.Wait()
}

// Stats is the indexer-level status snapshot exposed by the stats entry
// points.
type Stats struct {
	TotalDocuments int   `json:"total_documents"`
	TotalOwners    int   `json:"total_owners"`
	IndexSizeBytes int64 `json:"index_size_bytes"`
	Ready          bool  `json:"ready"`
	Initializing   bool  `json:"initializing"`
}

// Stats reports index totals and the engine's lifecycle flags.
func (x *ContentIndexer) Stats() Stats {
	engine, index := x.delegates()
	is := index.Stats()
	st := engine.State()
	return Stats{
		TotalDocuments: is.TotalDocuments,
		TotalOwners:    is.TotalOwners,
		IndexSizeBytes: is.IndexSizeBytes,
		Ready:          st == embed.StateReady,
		Initializing:   st == embed.StateInitializing,
	}
}

// Reinitialize discards all indexed state and recreates the embedding
// delegate, for model or provider switches. The index is cleared, the
// dedup set emptied, and the engine reloaded; if the fresh engine
// reports a different output dimension the index is rebuilt at that
// dimension rather than migrated. Auto-indexing skips tabs while a
// reinitialization is in progress.
func (x *ContentIndexer) Reinitialize(ctx context.Context) error {
	if !x.reinit.CompareAndSwap(false, true) {
		return errors.New(errors.ErrCodeIndexFailed, "reinitialization already in progress", nil)
	}
	defer x.reinit.Store(false)

	slog.Info("reinitializing content indexer")

	engine, index := x.delegates()

	if err := index.Clear(ctx); err != nil {
		return err
	}
	x.clearDedup()

	fresh := engine
	if x.newEngine != nil {
		e, err := x.newEngine(ctx)
		if err != nil {
			return err
		}
		fresh = e
	}

	// Closing first makes Initialize a clean load even when the
	// delegate is reused.
	_ = engine.Close()
	if err := fresh.Initialize(ctx); err != nil {
		x.swapDelegates(fresh, index)
		return err
	}

	dims := fresh.Dimensions()
	if x.newIndex != nil && dims > 0 && dims != index.Dimension() {
		slog.Info("embedding dimension changed, rebuilding index",
			slog.Int("old", index.Dimension()),
			slog.Int("new", dims))
		_ = index.Close()
		rebuilt, err := x.newIndex(dims)
		if err != nil {
			x.swapDelegates(fresh, index)
			return err
		}
		index = rebuilt
	}
	x.swapDelegates(fresh, index)

	slog.Info("content indexer reinitialized",
		slog.String("model", fresh.ModelName()),
		slog.Int("dimensions", dims))
	return nil
}

// Engine returns the current embedding delegate. Reinitialize may
// replace it; callers should not cache the result.
func (x *ContentIndexer) Engine() embed.Engine {
	e, _ := x.delegates()
	return e
}

// Index returns the current vector index. Reinitialize may replace it;
// callers should not cache the result.
func (x *ContentIndexer) Index() *vector.Index {
	_, ix := x.delegates()
	return ix
}

func (x *ContentIndexer) delegates() (embed.Engine, *vector.Index) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.engine, x.index
}

func (x *ContentIndexer) swapDelegates(engine embed.Engine, index *vector.Index) {
	x.mu.Lock()
	x.engine = engine
	x.index = index
	x.mu.Unlock()
}

// eligible reports whether a tab location may be indexed. Privileged
// browser schemes and blank locations are excluded.
func (x *ContentIndexer) eligible(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	if u == "" {
		return false
	}
	for _, scheme := range x.denySchemes {
		if strings.HasPrefix(u, scheme) {
			return false
		}
	}
	return true
}

func dedupKey(url, title string) string {
	return url + "\x00" + title
}

func (x *ContentIndexer) alreadyIndexed(key string) bool {
	x.dedupMu.Lock()
	defer x.dedupMu.Unlock()
	_, ok := x.seen[key]
	return ok
}

func (x *ContentIndexer) recordIndexed(ownerID, key string) {
	x.dedupMu.Lock()
	defer x.dedupMu.Unlock()
	if old, ok := x.ownerKeys[ownerID]; ok && old != key {
		delete(x.seen, old)
	}
	x.seen[key] = struct{}{}
	x.ownerKeys[ownerID] = key
}

func (x *ContentIndexer) forgetOwner(ownerID string) {
	x.dedupMu.Lock()
	defer x.dedupMu.Unlock()
	if key, ok := x.ownerKeys[ownerID]; ok {
		delete(x.seen, key)
		delete(x.ownerKeys, ownerID)
	}
}

func (x *ContentIndexer) clearDedup() {
	x.dedupMu.Lock()
	x.seen = make(map[string]struct{})
	x.ownerKeys = make(map[string]string)
	x.dedupMu.Unlock()
}

// chunkSource folds the chunker's strategy tags down to the two source
// kinds carried on search results.
func chunkSource(s chunk.Source) string {
	if s == chunk.SourceTitle {
		return "title"
	}
	return "content"
}
