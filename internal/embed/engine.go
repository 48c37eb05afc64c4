package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/tabsense/tabsense/internal/cache"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/errors"
)

// LocalEngine is the process-wide embedding engine. It owns one provider
// (loaded lazily by Initialize) and memoizes embeddings so repeated
// text never hits the model twice. Other processes reach this instance
// through RemoteEngine instead of loading their own model.
//
// State moves uninitialized -> initializing -> ready, with error
// reachable from initializing. A failed load leaves the engine in the
// error state and a later Initialize retries from scratch.
type LocalEngine struct {
	cfg config.EmbeddingsConfig

	state atomic.Int32

	mu       sync.RWMutex
	embedder Embedder
	dims     int
	initErr  error

	memo *cache.Cache[string, []float32]

	initGroup singleflight.Group

	// factory builds the provider; tests substitute it to control
	// load behavior.
	factory func(context.Context, config.EmbeddingsConfig) (Embedder, error)
}

var _ Engine = (*LocalEngine)(nil)

// EngineStatus is a point-in-time snapshot for status RPCs and doctor
// output.
type EngineStatus struct {
	State      string `json:"state"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	MemoLen    int    `json:"memo_len"`
	MemoCap    int    `json:"memo_cap"`
	Error      string `json:"error,omitempty"`
}

// NewLocalEngine creates an engine in the uninitialized state. No
// model is loaded until Initialize.
func NewLocalEngine(cfg config.EmbeddingsConfig) (*LocalEngine, error) {
	size := cfg.EmbeddingCacheSize
	if size <= 0 {
		size = DefaultEmbedCacheSize
	}
	memo, err := cache.New[string, []float32](size)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid embedding cache size %d", size), err)
	}

	e := &LocalEngine{
		cfg:     cfg,
		memo:    memo,
		factory: NewEmbedder,
	}
	e.state.Store(int32(StateUninitialized))
	return e, nil
}

// Initialize loads the provider. Concurrent calls share one in-flight
// load; a call arriving after a failure starts a fresh attempt.
func (e *LocalEngine) Initialize(ctx context.Context) error {
	if e.State() == StateReady {
		return nil
	}

	_, err, _ := e.initGroup.Do("init", func() (any, error) {
		// A flight that queued behind the winning one sees ready here.
		if e.State() == StateReady {
			return nil, nil
		}
		return nil, e.load(ctx)
	})
	return err
}

func (e *LocalEngine) load(ctx context.Context) error {
	e.state.Store(int32(StateInitializing))
	slog.Info("initializing embedding engine",
		slog.String("provider", e.cfg.Provider),
		slog.String("model", e.cfg.Model))

	embedder, err := e.factory(ctx, e.cfg)
	if err != nil {
		e.mu.Lock()
		e.initErr = err
		e.mu.Unlock()
		e.state.Store(int32(StateError))
		return errors.New(errors.ErrCodeModelLoad, "embedding engine initialization failed", err)
	}

	dims := e.cfg.Dimensions
	if dims <= 0 {
		dims = embedder.Dimensions()
	}

	e.mu.Lock()
	if e.embedder != nil {
		_ = e.embedder.Close()
	}
	e.embedder = embedder
	e.dims = dims
	e.initErr = nil
	e.mu.Unlock()

	e.state.Store(int32(StateReady))
	slog.Info("embedding engine ready",
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", dims))
	return nil
}

// State returns the current lifecycle state.
func (e *LocalEngine) State() State {
	return State(e.state.Load())
}

// Ready reports whether the engine can serve embedding requests.
func (e *LocalEngine) Ready() bool {
	return e.State() == StateReady
}

// Embedding returns the vector for text, serving repeats from the memo.
func (e *LocalEngine) Embedding(ctx context.Context, text string) ([]float32, error) {
	embedder, err := e.currentEmbedder()
	if err != nil {
		return nil, err
	}

	key := e.memoKey(embedder.ModelName(), text)
	if vec, ok := e.memo.Get(key); ok {
		return vec, nil
	}

	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.checkDimension(vec); err != nil {
		return nil, err
	}

	e.memo.Set(key, vec)
	return vec, nil
}

// EmbeddingBatch embeds texts, consulting the memo first and sending
// only the misses to the model. Results come back in input order.
func (e *LocalEngine) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embedder, err := e.currentEmbedder()
	if err != nil {
		return nil, err
	}

	model := embedder.ModelName()
	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := e.memo.Get(e.memoKey(model, text)); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := embedder.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("provider returned %d embeddings for %d texts", len(computed), len(missTexts)), nil)
	}

	for j, idx := range missIndices {
		if err := e.checkDimension(computed[j]); err != nil {
			return nil, err
		}
		results[idx] = computed[j]
		e.memo.Set(e.memoKey(model, texts[idx]), computed[j])
	}

	return results, nil
}

// Similarity computes cosine similarity between two embeddings.
func (e *LocalEngine) Similarity(a, b []float32) (float64, error) {
	return Similarity(a, b)
}

// Dimensions returns the configured or detected output dimension, or 0
// before the first successful Initialize.
func (e *LocalEngine) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the active provider's model identifier, or the
// configured model before initialization.
func (e *LocalEngine) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.embedder != nil {
		return e.embedder.ModelName()
	}
	return e.cfg.Model
}

// Status reports the engine snapshot used by status RPCs.
func (e *LocalEngine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := EngineStatus{
		State:      e.State().String(),
		Provider:   e.cfg.Provider,
		Model:      e.cfg.Model,
		Dimensions: e.dims,
		MemoLen:    e.memo.Len(),
		MemoCap:    e.memo.Cap(),
	}
	if e.embedder != nil {
		st.Model = e.embedder.ModelName()
	}
	if e.initErr != nil {
		st.Error = e.initErr.Error()
	}
	return st
}

// Close releases the provider and returns the engine to uninitialized.
// A later Initialize loads a fresh provider.
func (e *LocalEngine) Close() error {
	e.mu.Lock()
	embedder := e.embedder
	e.embedder = nil
	e.dims = 0
	e.initErr = nil
	e.mu.Unlock()

	e.state.Store(int32(StateUninitialized))
	e.memo.Purge()

	if embedder != nil {
		return embedder.Close()
	}
	return nil
}

func (e *LocalEngine) currentEmbedder() (Embedder, error) {
	if e.State() != StateReady {
		return nil, errors.NotReadyError("embedding engine not initialized", nil)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.embedder == nil {
		return nil, errors.NotReadyError("embedding engine not initialized", nil)
	}
	return e.embedder, nil
}

func (e *LocalEngine) checkDimension(vec []float32) error {
	e.mu.RLock()
	dims := e.dims
	e.mu.RUnlock()
	if dims > 0 && len(vec) != dims {
		return errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("model produced %d dimensions, engine configured for %d", len(vec), dims), nil)
	}
	return nil
}

// memoKey hashes model+text so keys have a fixed length regardless of
// chunk size.
func (e *LocalEngine) memoKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// MemoLen reports how many embeddings are currently memoized.
func (e *LocalEngine) MemoLen() int {
	return e.memo.Len()
}
