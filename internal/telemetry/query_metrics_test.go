package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory QueryMetricsStore that accumulates deltas
// the same way the SQLite upserts do.
type memStore struct {
	mu          sync.Mutex
	shapes      map[QueryShape]int64
	terms       map[string]int64
	latencies   map[LatencyBucket]int64
	zeroResults []string
	closed      bool
}

func newMemStore() *memStore {
	return &memStore{
		shapes:    make(map[QueryShape]int64),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

func (s *memStore) SaveShapeCounts(_ string, counts map[QueryShape]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range counts {
		s.shapes[k] += v
	}
	return nil
}

func (s *memStore) GetShapeCounts(_, _ string) (map[QueryShape]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[QueryShape]int64, len(s.shapes))
	for k, v := range s.shapes {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) UpsertTermCounts(terms map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range terms {
		s.terms[k] += v
	}
	return nil
}

func (s *memStore) GetTopTerms(_ int) ([]TermCount, error) { return nil, nil }

func (s *memStore) AddZeroResultQuery(query string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zeroResults = append(s.zeroResults, query)
	return nil
}

func (s *memStore) GetZeroResultQueries(_ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.zeroResults...), nil
}

func (s *memStore) SaveLatencyCounts(_ string, counts map[LatencyBucket]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range counts {
		s.latencies[k] += v
	}
	return nil
}

func (s *memStore) GetLatencyCounts(_, _ string) (map[LatencyBucket]int64, error) {
	return nil, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) shapeCount(shape QueryShape) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shapes[shape]
}

// =============================================================================
// Query Shape Classification
// =============================================================================

func TestClassifyQuery(t *testing.T) {
	tests := []struct {
		query    string
		expected QueryShape
	}{
		{"rust", ShapeKeyword},
		{"rust lifetimes", ShapeKeyword},
		{"rust lifetime elision rules", ShapePhrase},
		{"that article about ocean currents", ShapePhrase},
		{"how do lifetimes work", ShapeQuestion},
		{"what was that pricing page", ShapeQuestion},
		{"is go faster than python", ShapeQuestion},
		{"rust lifetimes?", ShapeQuestion},
		{"  Rust  ", ShapeKeyword},
		{"", ShapeKeyword},
		// A bare interrogative with nothing after it reads as a keyword.
		{"how", ShapeKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyQuery(tt.query))
		})
	}
}

// =============================================================================
// Latency Buckets
// =============================================================================

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency  time.Duration
		expected LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{99 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{5 * time.Second, BucketP1000},
	}

	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LatencyToBucket(tt.latency))
		})
	}
}

// =============================================================================
// Term Extraction
// =============================================================================

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query    string
		expected []string
	}{
		{"ocean currents", []string{"ocean", "currents"}},
		{"FindMyTab", []string{"findmytab"}},
		{"  spaces  around  ", []string{"spaces", "around"}},
		{"pricing?", []string{"pricing"}},
		{`"quoted phrase"`, []string{"quoted", "phrase"}},
		{"", nil},
		{"a", nil},
		{"ab", nil},
		{"abc", []string{"abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractTerms(tt.query))
		})
	}
}

// =============================================================================
// Query Event
// =============================================================================

func TestQueryEvent_IsZeroResult(t *testing.T) {
	assert.True(t, QueryEvent{Query: "missing", ResultCount: 0}.IsZeroResult())
	assert.False(t, QueryEvent{Query: "found", ResultCount: 5}.IsZeroResult())
}

// =============================================================================
// Query Metrics
// =============================================================================

func TestQueryMetrics_Record_IncrementsCounts(t *testing.T) {
	m := NewQueryMetrics(nil) // nil store = in-memory only
	defer m.Close()

	m.Record(QueryEvent{Query: "rust lifetimes", ResultCount: 5, Latency: 25 * time.Millisecond, Timestamp: time.Now()})
	m.Record(QueryEvent{Query: "how do lifetimes work", ResultCount: 3, Latency: 15 * time.Millisecond, Timestamp: time.Now()})
	m.Record(QueryEvent{Query: "that rust borrow checker article", ResultCount: 8, Latency: 50 * time.Millisecond, Timestamp: time.Now()})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.ShapeCounts[ShapeKeyword])
	assert.Equal(t, int64(1), snapshot.ShapeCounts[ShapeQuestion])
	assert.Equal(t, int64(1), snapshot.ShapeCounts[ShapePhrase])
	assert.Equal(t, int64(3), snapshot.TotalQueries)
}

func TestQueryMetrics_Record_UsesProvidedShape(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	// An explicit shape wins over classification.
	m.Record(QueryEvent{Query: "rust", Shape: ShapeQuestion, ResultCount: 1, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.ShapeCounts[ShapeQuestion])
	assert.Equal(t, int64(0), snapshot.ShapeCounts[ShapeKeyword])
}

func TestQueryMetrics_Record_TracksTopTerms(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "docker compose", ResultCount: 5, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "docker networking", ResultCount: 3, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "docker volumes", ResultCount: 2, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "compose volumes", ResultCount: 1, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()

	// "docker" appears three times and should rank first.
	require.NotEmpty(t, snapshot.TopTerms)
	assert.Equal(t, "docker", snapshot.TopTerms[0].Term)
	assert.Equal(t, int64(3), snapshot.TopTerms[0].Count)
}

func TestQueryMetrics_Record_CapturesZeroResults(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "nonexistent topic", ResultCount: 0, Latency: 30 * time.Millisecond})
	m.Record(QueryEvent{Query: "found something", ResultCount: 5, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "another miss", ResultCount: 0, Latency: 15 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.Equal(t, 2, len(snapshot.ZeroResultQueries))
	assert.Contains(t, snapshot.ZeroResultQueries, "nonexistent topic")
	assert.Contains(t, snapshot.ZeroResultQueries, "another miss")
	assert.InDelta(t, 66.67, snapshot.ZeroResultPercentage(), 0.01)
}

func TestQueryMetrics_Record_BucketsLatency(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "fast", ResultCount: 1, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "medium1", ResultCount: 1, Latency: 25 * time.Millisecond})
	m.Record(QueryEvent{Query: "medium2", ResultCount: 1, Latency: 35 * time.Millisecond})
	m.Record(QueryEvent{Query: "slow", ResultCount: 1, Latency: 200 * time.Millisecond})
	m.Record(QueryEvent{Query: "very slow", ResultCount: 1, Latency: 1 * time.Second})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(2), snapshot.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snapshot.LatencyDistribution[BucketP500])
	assert.Equal(t, int64(1), snapshot.LatencyDistribution[BucketP1000])
}

func TestQueryMetrics_Snapshot_LatencyPercentiles(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	// 10ms..100ms in 10ms steps.
	for i := 1; i <= 10; i++ {
		m.Record(QueryEvent{Query: "timed", ResultCount: 1, Latency: time.Duration(i) * 10 * time.Millisecond})
	}

	snapshot := m.Snapshot()
	assert.Equal(t, 60*time.Millisecond, snapshot.LatencyP50)
	assert.Equal(t, 100*time.Millisecond, snapshot.LatencyP95)
}

func TestQueryMetrics_Snapshot_EmptyPercentiles(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	snapshot := m.Snapshot()
	assert.Equal(t, time.Duration(0), snapshot.LatencyP50)
	assert.Equal(t, time.Duration(0), snapshot.LatencyP95)
}

func TestQueryMetrics_Concurrent_ThreadSafe(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	var wg sync.WaitGroup
	numGoroutines := 100
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				m.Record(QueryEvent{
					Query:       "test query",
					ResultCount: 5,
					Latency:     20 * time.Millisecond,
					Timestamp:   time.Now(),
				})
			}
		}()
	}

	wg.Wait()

	snapshot := m.Snapshot()
	assert.Equal(t, int64(numGoroutines*eventsPerGoroutine), snapshot.TotalQueries)
}

func TestQueryMetrics_ZeroResultBuffer_MaintainsCapacity(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{
		ZeroResultsCapacity: 5,
	})
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Record(QueryEvent{
			Query:       "miss" + string(rune('A'+i)),
			ResultCount: 0,
			Latency:     10 * time.Millisecond,
		})
	}

	snapshot := m.Snapshot()
	assert.Equal(t, 5, len(snapshot.ZeroResultQueries))
	assert.Contains(t, snapshot.ZeroResultQueries, "missJ")
	assert.NotContains(t, snapshot.ZeroResultQueries, "missA")
	// The lifetime count still covers everything recorded.
	assert.Equal(t, int64(10), snapshot.ZeroResultCount)
}

func TestQueryMetrics_TopTerms_LRUEviction(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{
		TopTermsCapacity: 5,
	})
	defer m.Close()

	m.Record(QueryEvent{Query: "alpha beta", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "gamma delta", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "epsilon zeta", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "eta theta", ResultCount: 1, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.LessOrEqual(t, len(snapshot.TopTerms), 5)
}

// =============================================================================
// Repetition Tracking
// =============================================================================

func TestQueryMetrics_ExactRepetition_DetectsRepeats(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "kubernetes docs", ResultCount: 5, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "another query", ResultCount: 3, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "kubernetes docs", ResultCount: 5, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "kubernetes docs", ResultCount: 5, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(4), snapshot.TotalQueries)
	assert.Equal(t, int64(2), snapshot.ExactRepeatCount)
	assert.InDelta(t, 0.5, snapshot.ExactRepeatRate, 0.01)
}

func TestQueryMetrics_ExactRepetition_NormalizesCaseAndSpace(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "Kubernetes Docs", ResultCount: 5, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "kubernetes docs", ResultCount: 5, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "  KUBERNETES DOCS  ", ResultCount: 5, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(2), snapshot.ExactRepeatCount)
	assert.Equal(t, int64(1), snapshot.UniqueQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_DetectsSimilar(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	similar1 := []float32{1.0, 0.0, 0.0, 0.0}
	similar2 := []float32{0.99, 0.1, 0.0, 0.0}
	different := []float32{0.0, 1.0, 0.0, 0.0}

	m.RecordQueryEmbedding(similar1)
	m.RecordQueryEmbedding(similar2)
	m.RecordQueryEmbedding(different)

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.SimilarQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_EmptyEmbeddingIgnored(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.RecordQueryEmbedding(nil)
	m.RecordQueryEmbedding([]float32{})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(0), snapshot.SimilarQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_MismatchedDimensionsSkipped(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.RecordQueryEmbedding([]float32{1.0, 0.0})
	m.RecordQueryEmbedding([]float32{1.0, 0.0, 0.0})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(0), snapshot.SimilarQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_BufferEviction(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{
		RecentEmbeddingsCapacity: 2,
	})
	defer m.Close()

	m.RecordQueryEmbedding([]float32{1.0, 0.0})
	m.RecordQueryEmbedding([]float32{0.0, 1.0})
	m.RecordQueryEmbedding([]float32{-1.0, 0.0}) // evicts the first

	// Similar to the evicted vector only; nothing should match.
	m.RecordQueryEmbedding([]float32{0.99, 0.01})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(0), snapshot.SimilarQueryCount)
}

func TestRepetitionSummary_NoQueries(t *testing.T) {
	snapshot := &QueryMetricsSnapshot{TotalQueries: 0}
	assert.Equal(t, "No queries recorded", snapshot.RepetitionSummary())
}

func TestRepetitionSummary_WithData(t *testing.T) {
	snapshot := &QueryMetricsSnapshot{
		TotalQueries:     100,
		ExactRepeatRate:  0.15,
		SimilarQueryRate: 0.08,
		UniqueQueryCount: 85,
	}
	summary := snapshot.RepetitionSummary()
	assert.Contains(t, summary, "exact=15.0%")
	assert.Contains(t, summary, "similar=8.0%")
	assert.Contains(t, summary, "unique=85")
}

// =============================================================================
// Store Flushing
// =============================================================================

func TestQueryMetrics_Flush_DrainsDeltas(t *testing.T) {
	st := newMemStore()
	m := NewQueryMetricsWithConfig(st, QueryMetricsConfig{FlushInterval: 0})
	defer m.Close()

	m.Record(QueryEvent{Query: "rust", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "docker", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "how do lifetimes work", ResultCount: 0, Latency: 10 * time.Millisecond})

	require.NoError(t, m.Flush())

	assert.Equal(t, int64(2), st.shapeCount(ShapeKeyword))
	assert.Equal(t, int64(1), st.shapeCount(ShapeQuestion))

	misses, err := st.GetZeroResultQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"how do lifetimes work"}, misses)
}

func TestQueryMetrics_Flush_DoesNotDoubleCount(t *testing.T) {
	st := newMemStore()
	m := NewQueryMetricsWithConfig(st, QueryMetricsConfig{FlushInterval: 0})
	defer m.Close()

	m.Record(QueryEvent{Query: "rust", ResultCount: 1, Latency: 10 * time.Millisecond})
	m.Record(QueryEvent{Query: "docker", ResultCount: 1, Latency: 10 * time.Millisecond})

	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush()) // nothing pending

	assert.Equal(t, int64(2), st.shapeCount(ShapeKeyword))

	m.Record(QueryEvent{Query: "kafka", ResultCount: 1, Latency: 10 * time.Millisecond})
	require.NoError(t, m.Flush())

	assert.Equal(t, int64(3), st.shapeCount(ShapeKeyword))
}

func TestQueryMetrics_Flush_NoStore(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "rust", ResultCount: 1, Latency: 10 * time.Millisecond})
	assert.NoError(t, m.Flush())
}

func TestQueryMetrics_AutoFlush(t *testing.T) {
	st := newMemStore()
	m := NewQueryMetricsWithConfig(st, QueryMetricsConfig{FlushInterval: 20 * time.Millisecond})
	defer m.Close()

	m.Record(QueryEvent{Query: "rust", ResultCount: 1, Latency: 10 * time.Millisecond})

	assert.Eventually(t, func() bool {
		return st.shapeCount(ShapeKeyword) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueryMetrics_Close_FinalFlush(t *testing.T) {
	st := newMemStore()
	m := NewQueryMetricsWithConfig(st, QueryMetricsConfig{FlushInterval: 0})

	m.Record(QueryEvent{Query: "rust", ResultCount: 1, Latency: 10 * time.Millisecond})

	require.NoError(t, m.Close())
	assert.Equal(t, int64(1), st.shapeCount(ShapeKeyword))

	// Close is idempotent and Record after Close is a no-op.
	require.NoError(t, m.Close())
	m.Record(QueryEvent{Query: "after close", ResultCount: 1, Latency: 10 * time.Millisecond})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalQueries)
}
