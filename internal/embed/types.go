package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for requests when the model is loaded
	DefaultWarmTimeout = 60 * time.Second

	// DefaultColdTimeout is the timeout for the first request, when the
	// model may still need loading
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is the duration after which a model is considered "cold".
	// Ollama unloads models after ~5 minutes of inactivity.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// DefaultMaxTokens is the token window fed to the ONNX model.
	// Page chunks are capped at 120 words, so 256 wordpiece slots leave
	// headroom for subword expansion.
	DefaultMaxTokens = 256
)

// MiniLM constants (default model)
const (
	// DefaultDimensions is the embedding dimension for all-MiniLM-L6-v2
	DefaultDimensions = 384
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for the static embedder
	StaticDimensions = 384
)

// Default memo sizes, overridable through config.
const (
	// DefaultTokenCacheSize bounds the tokenization memo. Token slices
	// are cheap to recompute, so this stays small.
	DefaultTokenCacheSize = 256

	// DefaultEmbedCacheSize bounds the embedding memo.
	DefaultEmbedCacheSize = 1024
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// Engine is the embedding contract shared by the in-process
// LocalEngine and the daemon-backed RemoteEngine, so the indexer and
// the entry points run unchanged against either.
type Engine interface {
	// Initialize loads the model. Idempotent; concurrent calls share
	// one in-flight load.
	Initialize(ctx context.Context) error

	// Embedding returns the vector for text.
	Embedding(ctx context.Context, text string) ([]float32, error)

	// EmbeddingBatch returns vectors for texts, in input order.
	EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Similarity computes cosine similarity between two embeddings.
	Similarity(a, b []float32) (float64, error)

	// State reports the engine lifecycle state.
	State() State

	// Ready reports whether embedding requests can be served.
	Ready() bool

	// Dimensions returns the output dimension, 0 before initialization.
	Dimensions() int

	// ModelName returns the active model identifier.
	ModelName() string

	// Close releases the model.
	Close() error
}

// State is the lifecycle state of the embedding engine.
type State int32

const (
	// StateUninitialized means Initialize has never been called.
	StateUninitialized State = iota

	// StateInitializing means a model load is in flight. Concurrent
	// Initialize calls join the in-flight attempt.
	StateInitializing

	// StateReady means the engine accepts embedding requests.
	StateReady

	// StateError means the last load attempt failed. A later Initialize
	// retries from scratch.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
