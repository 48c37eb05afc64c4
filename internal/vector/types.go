// Package vector provides the persisted ANN index over page embeddings.
// An HNSW graph holds the vectors while a parallel document mapping carries
// provenance; both are persisted through a bbolt-backed key-value store
// keyed by index name.
package vector

import (
	"time"
)

// DefaultIndexName is the KV namespace used when none is configured.
const DefaultIndexName = "tabs"

// VectorDocument is one indexed chunk with its provenance.
// Owned by the index once inserted; immutable except for deletion.
type VectorDocument struct {
	ID        uint64    // label assigned at insertion, never reused
	OwnerID   string    // owning tab
	URL       string    // page location at capture time
	Title     string    // page title at capture time
	Chunk     string    // chunk text
	Source    string    // "title" or "content"
	Embedding []float32 // stored pre-normalization
	Timestamp time.Time // insertion time, drives eviction
}

// Chunk is the indexable payload for one document insertion.
type Chunk struct {
	URL    string
	Title  string
	Text   string
	Source string // "title" or "content"
}

// Match is a single search result.
type Match struct {
	Document   VectorDocument
	Similarity float64 // 1 - cosine distance, higher is closer
}

// Config configures one index. Fixed for the lifetime of an Index
// instance; a dimension change forces a full rebuild, never migration.
type Config struct {
	// Name is the KV namespace for this index.
	Name string

	// Dimension is the embedding vector length. Required.
	Dimension int

	// Capacity is the document count that triggers oldest-first eviction.
	Capacity int

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfConstruction is HNSW build-time search width (default: 200)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int

	// RetentionDays evicts documents older than this many days.
	// Zero disables retention eviction.
	RetentionDays int

	// AutoCleanup runs capacity and retention eviction after each insert.
	AutoCleanup bool

	// PersistEvery throttles graph persistence to every N insertions.
	// The document mapping is persisted on every insert regardless.
	PersistEvery int
}

// DefaultConfig returns sensible defaults for the given dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Name:           DefaultIndexName,
		Dimension:      dimension,
		Capacity:       10000,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		RetentionDays:  30,
		AutoCleanup:    true,
		PersistEvery:   8,
	}
}

// IndexStats provides statistics about one index.
type IndexStats struct {
	TotalDocuments int   // resolvable documents in the mapping
	TotalOwners    int   // distinct owners with at least one document
	GraphNodes     int   // nodes in the ANN graph, orphans included
	Orphans        int   // soft-deleted graph nodes awaiting rebuild
	IndexSizeBytes int64 // on-disk size of the backing store
	Dimension      int
	Searchable     bool // false after unrecovered mapping drift
}
