package embed

import (
	"context"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/errors"
)

// RPCCaller is the transport RemoteEngine forwards through. The daemon
// client implements it; tests substitute an in-memory fake.
type RPCCaller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// Engine RPC method names, shared by RemoteEngine and the daemon
// handlers.
const (
	MethodEngineInit       = "engine.init"
	MethodEngineEmbed      = "engine.embed"
	MethodEngineEmbedBatch = "engine.embedBatch"
	MethodEngineStatus     = "engine.status"
)

// Wire types for the engine RPCs.
type (
	// EmbedParams carries a single embedding request.
	EmbedParams struct {
		Text string `json:"text"`
	}

	// EmbedResult carries a single embedding response.
	EmbedResult struct {
		Embedding  []float32 `json:"embedding"`
		Model      string    `json:"model"`
		Dimensions int       `json:"dimensions"`
	}

	// EmbedBatchParams carries a batch embedding request.
	EmbedBatchParams struct {
		Texts []string `json:"texts"`
	}

	// EmbedBatchResult carries a batch embedding response.
	EmbedBatchResult struct {
		Embeddings [][]float32 `json:"embeddings"`
		Model      string      `json:"model"`
		Dimensions int         `json:"dimensions"`
	}
)

// DelegationRetryConfig bounds the forwarding retry loop.
type DelegationRetryConfig struct {
	// MaxAttempts counts total tries of the original request.
	MaxAttempts int

	// Backoff grows linearly: attempt n waits n*Backoff.
	Backoff time.Duration
}

// DefaultDelegationRetry returns the default retry policy.
func DefaultDelegationRetry() DelegationRetryConfig {
	return DelegationRetryConfig{
		MaxAttempts: 3,
		Backoff:     250 * time.Millisecond,
	}
}

// RemoteEngine is a thin proxy satisfying the Engine contract by
// forwarding to the daemon-hosted LocalEngine. A not-ready response
// means the daemon's engine was torn down (restart, reinitialize); the
// proxy forces an engine.init handshake and retries the original
// request, so callers never see a cold start they can recover from.
type RemoteEngine struct {
	caller RPCCaller
	retry  DelegationRetryConfig

	mu    sync.RWMutex
	state State
	dims  int
	model string
}

var _ Engine = (*RemoteEngine)(nil)

// NewRemoteEngine creates a proxy over caller with the default retry
// policy.
func NewRemoteEngine(caller RPCCaller) *RemoteEngine {
	return NewRemoteEngineWithRetry(caller, DefaultDelegationRetry())
}

// NewRemoteEngineWithRetry creates a proxy with an explicit retry
// policy.
func NewRemoteEngineWithRetry(caller RPCCaller, retry DelegationRetryConfig) *RemoteEngine {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultDelegationRetry().MaxAttempts
	}
	if retry.Backoff <= 0 {
		retry.Backoff = DefaultDelegationRetry().Backoff
	}
	return &RemoteEngine{
		caller: caller,
		retry:  retry,
		state:  StateUninitialized,
	}
}

// Initialize asks the daemon to load its engine.
func (r *RemoteEngine) Initialize(ctx context.Context) error {
	var status EngineStatus
	if err := r.caller.Call(ctx, MethodEngineInit, nil, &status); err != nil {
		r.setState(StateError)
		return err
	}
	r.applyStatus(status)
	return nil
}

// Embedding forwards a single embedding request.
func (r *RemoteEngine) Embedding(ctx context.Context, text string) ([]float32, error) {
	var result EmbedResult
	err := r.delegate(ctx, MethodEngineEmbed, EmbedParams{Text: text}, &result)
	if err != nil {
		return nil, err
	}
	r.noteSuccess(result.Model, result.Dimensions)
	return result.Embedding, nil
}

// EmbeddingBatch forwards a batch embedding request.
func (r *RemoteEngine) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var result EmbedBatchResult
	err := r.delegate(ctx, MethodEngineEmbedBatch, EmbedBatchParams{Texts: texts}, &result)
	if err != nil {
		return nil, err
	}
	r.noteSuccess(result.Model, result.Dimensions)
	return result.Embeddings, nil
}

// Similarity computes cosine similarity locally; vectors never cross
// the socket twice.
func (r *RemoteEngine) Similarity(a, b []float32) (float64, error) {
	return Similarity(a, b)
}

// Status fetches the daemon engine's snapshot.
func (r *RemoteEngine) Status(ctx context.Context) (EngineStatus, error) {
	var status EngineStatus
	if err := r.caller.Call(ctx, MethodEngineStatus, nil, &status); err != nil {
		return EngineStatus{}, err
	}
	r.applyStatus(status)
	return status, nil
}

// State returns the last state observed over RPC. It reflects the
// daemon as of the most recent call, not a live probe.
func (r *RemoteEngine) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Ready reports whether the last observed state was ready.
func (r *RemoteEngine) Ready() bool {
	return r.State() == StateReady
}

// Dimensions returns the last observed output dimension.
func (r *RemoteEngine) Dimensions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dims
}

// ModelName returns the last observed model identifier.
func (r *RemoteEngine) ModelName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

// Close is a no-op; the daemon owns the model's lifetime.
func (r *RemoteEngine) Close() error {
	r.setState(StateUninitialized)
	return nil
}

// delegate runs one request with bounded retries and linear backoff.
// A not-ready response triggers the re-initialization handshake before
// the next attempt; validation errors surface immediately.
func (r *RemoteEngine) delegate(ctx context.Context, method string, params, result any) error {
	var lastErr error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * r.retry.Backoff):
			}
		}

		err := r.caller.Call(ctx, method, params, result)
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case errors.IsNotReady(err):
			r.setState(StateUninitialized)
			if initErr := r.Initialize(ctx); initErr != nil {
				lastErr = initErr
			}
		case errors.IsRetryable(err):
			// transient transport failure, plain retry
		default:
			return err
		}
	}
	return lastErr
}

func (r *RemoteEngine) noteSuccess(model string, dims int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateReady
	if model != "" {
		r.model = model
	}
	if dims > 0 {
		r.dims = dims
	}
}

func (r *RemoteEngine) applyStatus(status EngineStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = parseState(status.State)
	if status.Model != "" {
		r.model = status.Model
	}
	if status.Dimensions > 0 {
		r.dims = status.Dimensions
	}
}

func (r *RemoteEngine) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func parseState(s string) State {
	switch s {
	case "initializing":
		return StateInitializing
	case "ready":
		return StateReady
	case "error":
		return StateError
	default:
		return StateUninitialized
	}
}
