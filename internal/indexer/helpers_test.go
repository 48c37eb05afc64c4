package indexer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tabsense/tabsense/internal/chunk"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/tabs"
	"github.com/tabsense/tabsense/internal/vector"
)

// stubEngine is a deterministic embed.Engine for indexer tests. Texts
// map to axis-aligned vectors by keyword, so similarity rankings are
// exact and assertable.
type stubEngine struct {
	mu         sync.Mutex
	state      embed.State
	dims       int
	axes       []axis
	fallback   []float32
	initCalls  int
	batchCalls int
	closeCalls int
	failEmbed  error
}

type axis struct {
	keyword string
	vec     []float32
}

// newKeywordEngine returns a ready 4-dimensional engine. Keyword order
// matters: the first matching keyword wins, so "feline" shadows "cat"
// for texts containing both.
func newKeywordEngine() *stubEngine {
	return &stubEngine{
		state: embed.StateReady,
		dims:  4,
		axes: []axis{
			{"feline", []float32{1, 0, 0, 0}},
			{"cat", []float32{1, 0, 0, 0}},
			{"dog", []float32{0, 1, 0, 0}},
			{"fish", []float32{0, 0, 1, 0}},
			{"automobile", []float32{0, 0, 0, 1}},
		},
		fallback: []float32{0.1, 0.1, 0.1, 0.1},
	}
}

func (s *stubEngine) vec(text string) []float32 {
	base := s.fallback
	lower := strings.ToLower(text)
	for _, a := range s.axes {
		if strings.Contains(lower, a.keyword) {
			base = a.vec
			break
		}
	}
	v := make([]float32, s.dims)
	copy(v, base)
	return v
}

func (s *stubEngine) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls++
	s.state = embed.StateReady
	return nil
}

func (s *stubEngine) Embedding(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEmbed != nil {
		return nil, s.failEmbed
	}
	if s.state != embed.StateReady {
		return nil, errors.NotReadyError("embedding engine not initialized", nil)
	}
	return s.vec(text), nil
}

func (s *stubEngine) EmbeddingBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.failEmbed != nil {
		return nil, s.failEmbed
	}
	if s.state != embed.StateReady {
		return nil, errors.NotReadyError("embedding engine not initialized", nil)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = s.vec(text)
	}
	return out, nil
}

func (s *stubEngine) Similarity(a, b []float32) (float64, error) {
	return embed.Similarity(a, b)
}

func (s *stubEngine) State() embed.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubEngine) Ready() bool { return s.State() == embed.StateReady }

func (s *stubEngine) Dimensions() int { return s.dims }

func (s *stubEngine) ModelName() string { return "keyword-stub" }

func (s *stubEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.state = embed.StateUninitialized
	return nil
}

func (s *stubEngine) setState(st embed.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *stubEngine) batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchCalls
}

// fixture bundles a ContentIndexer with its collaborators.
type fixture struct {
	indexer  *ContentIndexer
	engine   *stubEngine
	registry *tabs.Registry
	index    *vector.Index
	store    *vector.Store
}

// newFixture builds an indexer over a real on-disk vector index and a
// keyword engine. The chunker's word bound is kept small so each short
// test sentence becomes its own chunk.
func newFixture(t *testing.T, mutate ...func(*config.IndexerConfig)) *fixture {
	t.Helper()

	st, err := vector.OpenStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vcfg := vector.DefaultConfig(4)
	ix, err := vector.NewIndex(st, vcfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	engine := newKeywordEngine()
	registry := tabs.NewRegistry()

	cfg := config.IndexerConfig{
		AutoIndex:       true,
		MaxChunksPerDoc: 32,
		SettleDelay:     "30ms",
		DedupOverfetch:  3,
		SkipDuplicates:  true,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	chunker := chunk.NewTextChunkerWithOptions(chunk.Options{
		MaxWordsPerChunk: 6,
		MinChunkChars:    10,
	})

	x, err := New(Deps{
		Engine:    engine,
		Index:     ix,
		Extractor: tabs.NewRegistryExtractor(registry),
		Owners:    registry,
		Chunker:   chunker,
	}, cfg)
	require.NoError(t, err)

	return &fixture{indexer: x, engine: engine, registry: registry, index: ix, store: st}
}

// openTab records a snapshot for owner, as the browser collaborator
// would after the tab's content settled.
func (f *fixture) openTab(owner, url, title, text string) {
	f.registry.Put(tabs.Snapshot{
		OwnerID:    owner,
		URL:        url,
		Title:      title,
		Text:       text,
		CapturedAt: time.Now(),
	})
}

// petTab stores the canonical three-topic snapshot for owner: one title
// chunk plus one chunk each about cats, dogs and fish.
func (f *fixture) petTab(owner string) {
	f.openTab(owner,
		"https://example.com/pets",
		"Pet guide",
		"Cats are wonderful pets. Dogs need daily walks. Fish swim in large tanks.")
}
