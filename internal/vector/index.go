package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/tabsense/tabsense/internal/errors"
)

// Index pairs an in-memory HNSW graph with a document mapping that is
// authoritative for the current process. The mapping is persisted on
// every mutation, the graph only every PersistEvery insertions; a stale
// graph snapshot is detected at load time and rebuilt from the mapping.
//
// Deletion is logical only: removing an owner drops its labels from the
// mapping while the graph keeps the orphaned vectors. coder/hnsw cannot
// safely delete nodes (removing the last node corrupts the graph), so
// orphans are masked out of search results and dropped at the next
// full rebuild.
type Index struct {
	mu  sync.RWMutex
	cfg Config
	kv  *Store

	graph  *hnsw.Graph[uint64]
	docs   map[uint64]VectorDocument
	owners map[string]map[uint64]struct{}

	// nextLabel is monotonic for the life of the persisted index, never
	// reused even across Clear, so no stale reference can alias a new
	// document.
	nextLabel uint64

	sincePersist int
	searchable   bool
	closed       bool

	now func() time.Time
}

// indexMeta is the gob-persisted mapping state. GraphLen records the
// in-memory graph size at save time; a persisted graph with a different
// node count is a stale snapshot and triggers a rebuild from Docs.
type indexMeta struct {
	Docs      map[uint64]VectorDocument
	NextLabel uint64
	Dimension int
	GraphLen  int
}

// NewIndex opens the named index inside kv, loading any persisted state.
// Load failures degrade to an empty index rather than failing startup;
// a persisted dimension different from cfg.Dimension clears the index
// (embeddings from different models do not mix).
func NewIndex(kv *Store, cfg Config) (*Index, error) {
	if kv == nil {
		return nil, errors.ConfigError("index store is required", nil)
	}
	if cfg.Dimension <= 0 {
		return nil, errors.ConfigError(
			fmt.Sprintf("index dimension must be positive, got %d", cfg.Dimension), nil)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultIndexName
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 8
	}

	ix := &Index{
		cfg:        cfg,
		kv:         kv,
		docs:       make(map[uint64]VectorDocument),
		owners:     make(map[string]map[uint64]struct{}),
		nextLabel:  1,
		searchable: true,
		now:        time.Now,
	}
	ix.graph = ix.newGraph()
	ix.load()

	if cfg.AutoCleanup && cfg.RetentionDays > 0 {
		if evicted := ix.evictExpiredLocked(); evicted > 0 {
			slog.Info("evicted expired documents at startup",
				slog.Int("evicted", evicted),
				slog.Int("remaining", len(ix.docs)))
			ix.persistMappingLocked()
		}
	}

	return ix, nil
}

// newGraph builds an empty graph with the configured parameters.
// coder/hnsw has no separate construction-time width; M and Ml govern
// build behavior, EfSearch governs queries.
func (ix *Index) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = ix.cfg.M
	g.EfSearch = ix.cfg.EfSearch
	g.Ml = 0.25
	return g
}

// load restores persisted state. Runs from the constructor, before the
// index is shared, so no locking.
func (ix *Index) load() {
	meta, metaOK := ix.decodeMeta()

	if metaOK && meta.Dimension != 0 && meta.Dimension != ix.cfg.Dimension {
		slog.Warn("index dimension changed, clearing persisted index",
			slog.Int("stored", meta.Dimension),
			slog.Int("configured", ix.cfg.Dimension))
		if meta.NextLabel > ix.nextLabel {
			ix.nextLabel = meta.NextLabel
		}
		ix.resetPersistedLocked()
		return
	}
	if metaOK && meta.NextLabel > ix.nextLabel {
		ix.nextLabel = meta.NextLabel
	}

	graphLen := 0
	if data, err := ix.kv.LoadGraph(ix.cfg.Name); err != nil {
		slog.Warn("failed to read persisted graph, starting empty", slog.Any("error", err))
	} else if len(data) > 0 {
		if err := ix.graph.Import(bufio.NewReader(bytes.NewReader(data))); err != nil {
			slog.Warn("failed to import persisted graph, starting empty", slog.Any("error", err))
			ix.graph = ix.newGraph()
		}
		graphLen = ix.graph.Len()
	}

	// An empty mapping that recorded the current graph size is truth,
	// not drift: every node is a known orphan awaiting rebuild.
	emptyButConsistent := metaOK && len(meta.Docs) == 0 && meta.GraphLen == graphLen

	if (!metaOK || len(meta.Docs) == 0) && graphLen > 0 && !emptyButConsistent {
		// Graph has entries but the mapping is empty. Give the store one
		// more read before declaring drift.
		retry, ok := ix.decodeMeta()
		if !ok || len(retry.Docs) == 0 {
			ix.searchable = false
			slog.Error("document mapping missing for non-empty graph; search disabled until rebuild",
				slog.Int("graph_nodes", graphLen),
				slog.String("index", ix.cfg.Name))
			return
		}
		meta, metaOK = retry, true
		if meta.NextLabel > ix.nextLabel {
			ix.nextLabel = meta.NextLabel
		}
	}

	if metaOK && len(meta.Docs) > 0 {
		ix.docs = meta.Docs
		ix.rebuildOwners()
		if graphLen != meta.GraphLen {
			// The mapping outlived the last graph snapshot (graph writes
			// are throttled). The mapping carries every embedding, so the
			// graph can be reconstructed without re-embedding anything.
			ix.rebuildGraphLocked()
			slog.Info("graph snapshot stale, rebuilt from document mapping",
				slog.Int("snapshot_nodes", graphLen),
				slog.Int("documents", len(ix.docs)))
			ix.persistGraphLocked()
		}
	}
}

// decodeMeta reads and decodes the persisted mapping. Absent or
// undecodable metadata reports ok=false.
func (ix *Index) decodeMeta() (indexMeta, bool) {
	var meta indexMeta
	data, err := ix.kv.LoadMeta(ix.cfg.Name)
	if err != nil {
		slog.Warn("failed to read index metadata", slog.Any("error", err))
		return meta, false
	}
	if len(data) == 0 {
		return meta, false
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		slog.Warn("failed to decode index metadata", slog.Any("error", err))
		return indexMeta{}, false
	}
	return meta, true
}

// rebuildOwners derives the owner index from the document mapping.
func (ix *Index) rebuildOwners() {
	ix.owners = make(map[string]map[uint64]struct{})
	for label, doc := range ix.docs {
		set := ix.owners[doc.OwnerID]
		if set == nil {
			set = make(map[uint64]struct{})
			ix.owners[doc.OwnerID] = set
		}
		set[label] = struct{}{}
	}
}

// rebuildGraphLocked reconstructs the graph from the document mapping.
// Orphaned vectors are dropped in the process.
func (ix *Index) rebuildGraphLocked() {
	g := ix.newGraph()
	for label, doc := range ix.docs {
		normalized := make([]float32, len(doc.Embedding))
		copy(normalized, doc.Embedding)
		normalizeVectorInPlace(normalized)
		g.Add(hnsw.MakeNode(label, normalized))
	}
	ix.graph = g
}

// Insert validates the embedding, allocates the next label, adds the
// vector to the graph and records the document. The mapping is
// persisted on every insert, the graph every PersistEvery inserts.
// Persistence failures are logged, not returned: the in-memory state
// stays authoritative for this process.
func (ix *Index) Insert(ctx context.Context, ownerID string, chunk Chunk, embedding []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ownerID == "" {
		return 0, errors.New(errors.ErrCodeInvalidOwner, "owner id is empty", nil)
	}
	if err := ix.validateVector(embedding); err != nil {
		return 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, errors.New(errors.ErrCodeStoreWrite, "index is closed", nil)
	}

	label := ix.nextLabel
	ix.nextLabel++

	normalized := make([]float32, len(embedding))
	copy(normalized, embedding)
	normalizeVectorInPlace(normalized)
	ix.graph.Add(hnsw.MakeNode(label, normalized))

	stored := make([]float32, len(embedding))
	copy(stored, embedding)
	doc := VectorDocument{
		ID:        label,
		OwnerID:   ownerID,
		URL:       chunk.URL,
		Title:     chunk.Title,
		Chunk:     chunk.Text,
		Source:    chunk.Source,
		Embedding: stored,
		Timestamp: ix.now(),
	}
	ix.docs[label] = doc

	set := ix.owners[ownerID]
	if set == nil {
		set = make(map[uint64]struct{})
		ix.owners[ownerID] = set
	}
	set[label] = struct{}{}

	ix.persistMappingLocked()
	ix.sincePersist++
	if ix.sincePersist >= ix.cfg.PersistEvery {
		ix.persistGraphLocked()
		ix.sincePersist = 0
	}

	if ix.cfg.AutoCleanup {
		ix.autoCleanupLocked()
	}

	return label, nil
}

// Search finds the topK documents nearest to query, masking
// soft-deleted graph nodes. Similarity is 1 minus the cosine distance,
// so an exact match scores 1.0 and an opposite vector -1.0.
func (ix *Index) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("topK must be positive, got %d", topK), nil)
	}
	if err := ix.validateVector(query); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, errors.New(errors.ErrCodeSearchFailed, "index is closed", nil)
	}
	if !ix.searchable {
		return nil, errors.DriftError("document mapping lost; rebuild the index before searching", nil)
	}
	if ix.graph.Len() == 0 {
		return nil, errors.New(errors.ErrCodeSearchFailed, "vector index is empty", nil)
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Over-fetch by the orphan count so masked nodes cannot starve the
	// result set.
	fetchK := topK + (ix.graph.Len() - len(ix.docs))
	if fetchK > ix.graph.Len() {
		fetchK = ix.graph.Len()
	}
	nodes := ix.graph.Search(normalized, fetchK)

	matches := make([]Match, 0, min(topK, len(nodes)))
	masked := 0
	for _, node := range nodes {
		doc, ok := ix.docs[node.Key]
		if !ok {
			if node.Key >= ix.nextLabel {
				slog.Warn("dropping graph node with unallocated label",
					slog.Uint64("label", node.Key))
			}
			masked++
			continue
		}
		distance := ix.graph.Distance(normalized, node.Value)
		matches = append(matches, Match{
			Document:   doc,
			Similarity: 1 - float64(distance),
		})
		if len(matches) == topK {
			break
		}
	}
	if masked > 0 {
		slog.Debug("masked soft-deleted graph nodes", slog.Int("masked", masked))
	}

	return matches, nil
}

// RemoveOwner drops every document belonging to ownerID from the
// mapping and the owner index in one step. The graph keeps the
// orphaned vectors; they are masked from results and dropped at the
// next rebuild. Removing an unknown owner is a no-op.
func (ix *Index) RemoveOwner(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ownerID == "" {
		return errors.New(errors.ErrCodeInvalidOwner, "owner id is empty", nil)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return errors.New(errors.ErrCodeStoreWrite, "index is closed", nil)
	}

	set, ok := ix.owners[ownerID]
	if !ok {
		return nil
	}
	for label := range set {
		delete(ix.docs, label)
	}
	delete(ix.owners, ownerID)
	ix.persistMappingLocked()

	slog.Debug("removed owner from index",
		slog.String("owner", ownerID),
		slog.Int("documents", len(set)))
	return nil
}

// Clear discards every document and the graph, resetting the index to
// empty. Label allocation continues from where it was.
func (ix *Index) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return errors.New(errors.ErrCodeStoreWrite, "index is closed", nil)
	}

	ix.graph = ix.newGraph()
	ix.docs = make(map[uint64]VectorDocument)
	ix.owners = make(map[string]map[uint64]struct{})
	ix.sincePersist = 0
	ix.searchable = true
	ix.resetPersistedLocked()

	slog.Info("cleared vector index", slog.String("index", ix.cfg.Name))
	return nil
}

// Compact rebuilds the graph from the document mapping, dropping
// orphaned vectors, and persists the result. Returns the number of
// orphans removed. Search and insert block for the duration; callers
// should schedule compaction for idle periods.
func (ix *Index) Compact(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return 0, errors.New(errors.ErrCodeStoreWrite, "index is closed", nil)
	}

	orphans := ix.graph.Len() - len(ix.docs)
	if orphans <= 0 {
		return 0, nil
	}

	ix.rebuildGraphLocked()
	ix.searchable = true
	ix.sincePersist = 0
	if ix.graph.Len() == 0 {
		ix.resetPersistedLocked()
	} else {
		ix.persistGraphLocked()
		ix.persistMappingLocked()
	}

	slog.Info("compacted vector index",
		slog.Int("orphans_removed", orphans),
		slog.Int("documents", len(ix.docs)))
	return orphans, nil
}

// Stats returns a snapshot of the index.
func (ix *Index) Stats() IndexStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	orphans := ix.graph.Len() - len(ix.docs)
	if orphans < 0 {
		orphans = 0
	}
	return IndexStats{
		TotalDocuments: len(ix.docs),
		TotalOwners:    len(ix.owners),
		GraphNodes:     ix.graph.Len(),
		Orphans:        orphans,
		IndexSizeBytes: ix.kv.SizeBytes(),
		Dimension:      ix.cfg.Dimension,
		Searchable:     ix.searchable,
	}
}

// Dimension returns the configured embedding dimension.
func (ix *Index) Dimension() int {
	return ix.cfg.Dimension
}

// Name returns the KV namespace of this index.
func (ix *Index) Name() string {
	return ix.cfg.Name
}

// Close persists a final snapshot and rejects further mutation. The
// backing store is shared and stays open; the owner closes it.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.persistGraphLocked()
	ix.persistMappingLocked()
	ix.closed = true
	return nil
}

// autoCleanupLocked runs the retention and capacity eviction triggers.
// The insert that got us here has already been persisted.
func (ix *Index) autoCleanupLocked() {
	evicted := 0
	if ix.cfg.RetentionDays > 0 {
		evicted += ix.evictExpiredLocked()
	}
	if ix.cfg.Capacity > 0 && len(ix.docs) >= ix.cfg.Capacity {
		evicted += ix.evictOldestLocked()
	}
	if evicted > 0 {
		slog.Info("auto-cleanup evicted documents",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(ix.docs)))
		ix.persistMappingLocked()
	}
}

// evictOldestLocked removes the oldest documents by insertion time
// until the index is back at ~80% of capacity. The most recent
// document always survives.
func (ix *Index) evictOldestLocked() int {
	target := ix.cfg.Capacity * 4 / 5
	if target < 1 {
		target = 1
	}
	if len(ix.docs) <= target {
		return 0
	}

	type aged struct {
		label uint64
		at    time.Time
	}
	byAge := make([]aged, 0, len(ix.docs))
	for label, doc := range ix.docs {
		byAge = append(byAge, aged{label: label, at: doc.Timestamp})
	}
	sort.Slice(byAge, func(i, j int) bool {
		if byAge[i].at.Equal(byAge[j].at) {
			return byAge[i].label < byAge[j].label
		}
		return byAge[i].at.Before(byAge[j].at)
	})

	evicted := 0
	for _, a := range byAge {
		if len(ix.docs) <= target {
			break
		}
		ix.removeDocLocked(a.label)
		evicted++
	}
	return evicted
}

// evictExpiredLocked removes documents older than the retention window.
func (ix *Index) evictExpiredLocked() int {
	cutoff := ix.now().AddDate(0, 0, -ix.cfg.RetentionDays)
	var expired []uint64
	for label, doc := range ix.docs {
		if doc.Timestamp.Before(cutoff) {
			expired = append(expired, label)
		}
	}
	for _, label := range expired {
		ix.removeDocLocked(label)
	}
	return len(expired)
}

// removeDocLocked drops one document from the mapping and owner index.
func (ix *Index) removeDocLocked(label uint64) {
	doc, ok := ix.docs[label]
	if !ok {
		return
	}
	delete(ix.docs, label)
	if set := ix.owners[doc.OwnerID]; set != nil {
		delete(set, label)
		if len(set) == 0 {
			delete(ix.owners, doc.OwnerID)
		}
	}
}

// persistMappingLocked writes the document mapping. Failures are
// logged and the operation continues; the in-memory mapping remains
// authoritative until the next successful write.
func (ix *Index) persistMappingLocked() {
	meta := indexMeta{
		Docs:      ix.docs,
		NextLabel: ix.nextLabel,
		Dimension: ix.cfg.Dimension,
		GraphLen:  ix.graph.Len(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		slog.Error("failed to encode index metadata", slog.Any("error", err))
		return
	}
	if err := ix.kv.SaveMeta(ix.cfg.Name, buf.Bytes()); err != nil {
		slog.Error("failed to persist index metadata", slog.Any("error", err))
	}
}

// persistGraphLocked writes a full graph snapshot. An empty graph is
// represented by an absent entry, written by resetPersistedLocked.
func (ix *Index) persistGraphLocked() {
	if ix.graph.Len() == 0 {
		return
	}
	var buf bytes.Buffer
	if err := ix.graph.Export(&buf); err != nil {
		slog.Error("failed to export graph", slog.Any("error", err))
		return
	}
	if err := ix.kv.SaveGraph(ix.cfg.Name, buf.Bytes()); err != nil {
		slog.Error("failed to persist graph", slog.Any("error", err))
	}
}

// resetPersistedLocked removes both persisted entries and rewrites the
// mapping so the next load sees a consistent empty index with label
// allocation preserved.
func (ix *Index) resetPersistedLocked() {
	if err := ix.kv.DeleteIndex(ix.cfg.Name); err != nil {
		slog.Error("failed to reset persisted index", slog.Any("error", err))
	}
	ix.persistMappingLocked()
}

// validateVector rejects embeddings whose dimension differs from the
// index configuration or that contain non-finite values. Runs before
// any label is allocated.
func (ix *Index) validateVector(vec []float32) error {
	if len(vec) == 0 {
		return errors.New(errors.ErrCodeInvalidVector, "embedding is empty", nil)
	}
	if len(vec) != ix.cfg.Dimension {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedding dimension %d does not match index dimension %d",
				len(vec), ix.cfg.Dimension), nil)
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New(errors.ErrCodeInvalidVector,
				"embedding contains NaN or Inf values", nil)
		}
	}
	return nil
}

// normalizeVectorInPlace scales vec to unit length for the cosine
// metric. Zero vectors are left untouched.
func normalizeVectorInPlace(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
