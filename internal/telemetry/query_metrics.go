// Package telemetry collects local query pattern metrics for search
// tuning. Everything stays on this machine; nothing is ever reported
// externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tabsense/tabsense/internal/embed"
)

// dateLayout is the day key used for persisted aggregates.
const dateLayout = "2006-01-02"

// QueryShape classifies how a search query is phrased. Tab searches
// are all served by the same vector index, but knowing whether people
// type bare keywords, longer phrases, or full questions tells us which
// query styles the embedding model has to handle well.
type QueryShape string

const (
	ShapeKeyword  QueryShape = "keyword"  // one or two terms
	ShapePhrase   QueryShape = "phrase"   // three or more terms
	ShapeQuestion QueryShape = "question" // interrogative or ends with "?"
)

// interrogatives are leading words that mark a query as a question.
var interrogatives = map[string]struct{}{
	"how": {}, "what": {}, "why": {}, "where": {}, "when": {},
	"who": {}, "which": {}, "can": {}, "does": {}, "is": {}, "are": {},
}

// ClassifyQuery buckets a query into its shape. Empty queries count as
// keyword; they are rejected upstream anyway.
func ClassifyQuery(query string) QueryShape {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ShapeKeyword
	}
	if strings.HasSuffix(q, "?") {
		return ShapeQuestion
	}
	fields := strings.Fields(q)
	if _, ok := interrogatives[fields[0]]; ok && len(fields) > 1 {
		return ShapeQuestion
	}
	if len(fields) <= 2 {
		return ShapeKeyword
	}
	return ShapePhrase
}

// LatencyBucket is one bin of the search latency histogram.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one recorded search.
type QueryEvent struct {
	Query       string
	Shape       QueryShape
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the search came back empty.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// minTermLength drops terms too short to be meaningful.
const minTermLength = 3

// ExtractTerms splits a query into lowercase terms for frequency
// tracking. Surrounding punctuation is trimmed so "pricing?" and
// "pricing" count as the same term.
func ExtractTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))

	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, `?!.,:;"'()[]`)
		if len(f) < minTermLength {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

// TermCount is a term and how often it appeared across queries.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is an immutable view of the collected metrics.
type QueryMetricsSnapshot struct {
	ShapeCounts         map[QueryShape]int64    `json:"shape_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	LatencyP50          time.Duration           `json:"latency_p50"`
	LatencyP95          time.Duration           `json:"latency_p95"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`

	// Repetition metrics. A high repeat rate means people re-search
	// for tabs they already found, which is a ranking problem.
	ExactRepeatCount  int64   `json:"exact_repeat_count"`
	ExactRepeatRate   float64 `json:"exact_repeat_rate"`
	SimilarQueryCount int64   `json:"similar_query_count"`
	SimilarQueryRate  float64 `json:"similar_query_rate"`
	UniqueQueryCount  int64   `json:"unique_query_count"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// RepetitionSummary renders the repetition metrics as a one-liner for
// status output.
func (s *QueryMetricsSnapshot) RepetitionSummary() string {
	if s.TotalQueries == 0 {
		return "No queries recorded"
	}
	return fmt.Sprintf("exact=%.1f%%, similar=%.1f%%, unique=%d",
		s.ExactRepeatRate*100, s.SimilarQueryRate*100, s.UniqueQueryCount)
}

// QueryMetricsStore persists aggregates across daemon restarts. Dates
// are day keys in the form "2006-01-02".
type QueryMetricsStore interface {
	SaveShapeCounts(date string, counts map[QueryShape]int64) error
	GetShapeCounts(from, to string) (map[QueryShape]int64, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

// QueryMetricsConfig configures the collector.
type QueryMetricsConfig struct {
	TopTermsCapacity    int           // max terms to track (default 100)
	ZeroResultsCapacity int           // max zero-result queries to keep (default 100)
	FlushInterval       time.Duration // store flush cadence (default 60s, 0 disables)

	// Repetition tracking.
	RecentQueriesCapacity    int     // query hashes kept for repeat detection (default 500)
	RecentLatenciesCapacity  int     // latency samples kept for percentiles (default 512)
	RecentEmbeddingsCapacity int     // embeddings sampled for similarity (default 10)
	SimilarityThreshold      float64 // cosine threshold for "similar" (default 0.95)
}

// DefaultQueryMetricsConfig returns the collector defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		FlushInterval:            60 * time.Second,
		RecentQueriesCapacity:    500,
		RecentLatenciesCapacity:  512,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	}
}

// QueryMetrics collects search telemetry in memory and periodically
// flushes deltas to a store. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.RWMutex

	// Lifetime aggregates, reported by Snapshot.
	shapes          map[QueryShape]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	recentLatencies *CircularBuffer[time.Duration]
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	// Repetition tracking.
	recentQueries     *lru.Cache[string, struct{}]
	exactRepeatCount  int64
	recentEmbeddings  *CircularBuffer[[]float32]
	similarQueryCount int64

	// Deltas accumulated since the last flush. The store upserts
	// incrementally, so flushing the lifetime aggregates would
	// double-count; only these drain to storage.
	pendingShapes    map[QueryShape]int64
	pendingTerms     map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingMisses    []zeroResultEntry

	store       QueryMetricsStore
	config      QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

type zeroResultEntry struct {
	query string
	at    time.Time
}

// NewQueryMetrics creates a collector with default configuration. A
// nil store keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with explicit
// configuration. Non-positive capacities fall back to defaults.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if cfg.RecentLatenciesCapacity <= 0 {
		cfg.RecentLatenciesCapacity = 512
	}
	if cfg.RecentEmbeddingsCapacity <= 0 {
		cfg.RecentEmbeddingsCapacity = 10
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.95
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		shapes:           make(map[QueryShape]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		recentLatencies:  NewCircularBuffer[time.Duration](cfg.RecentLatenciesCapacity),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		recentEmbeddings: NewCircularBuffer[[]float32](cfg.RecentEmbeddingsCapacity),
		pendingShapes:    make(map[QueryShape]int64),
		pendingTerms:     make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		config:           cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one search. Calls after Close are dropped.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	shape := event.Shape
	if shape == "" {
		shape = ClassifyQuery(event.Query)
	}
	m.shapes[shape]++
	m.totalQueries++

	terms := ExtractTerms(event.Query)
	for _, term := range terms {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.recentLatencies.Add(event.Latency)

	// Exact repetition: hash membership in the recent-query LRU.
	hash := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(hash); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(hash, struct{}{})

	// Deltas only accumulate when there is a store to drain them.
	if m.store == nil {
		return
	}
	m.pendingShapes[shape]++
	for _, term := range terms {
		m.pendingTerms[term]++
	}
	m.pendingLatencies[bucket]++
	if event.IsZeroResult() {
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.pendingMisses = append(m.pendingMisses, zeroResultEntry{query: event.Query, at: at})
	}
}

// hashQuery normalizes and hashes a query for repeat detection, so the
// raw text never sits in the LRU.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// RecordQueryEmbedding samples a query vector for near-duplicate
// detection. Optional; when never called only exact repeats are
// tracked. The engine memoizes query vectors, so callers can pass the
// one the search already computed.
func (m *QueryMetrics) RecordQueryEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, prev := range m.recentEmbeddings.Items() {
		sim, err := embed.Similarity(embedding, prev)
		if err != nil {
			continue
		}
		if sim > m.config.SimilarityThreshold {
			m.similarQueryCount++
			break
		}
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	m.recentEmbeddings.Add(vec)
}

// Snapshot returns the current metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shapeCounts := make(map[QueryShape]int64, len(m.shapes))
	for k, v := range m.shapes {
		shapeCounts[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool { return topTerms[i].Count > topTerms[j].Count })

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	sample := m.recentLatencies.Items()

	var exactRepeatRate, similarQueryRate float64
	uniqueQueryCount := int64(m.recentQueries.Len())
	if m.totalQueries > 0 {
		exactRepeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
		similarQueryRate = float64(m.similarQueryCount) / float64(m.totalQueries)
	}

	return &QueryMetricsSnapshot{
		ShapeCounts:         shapeCounts,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		LatencyP50:          percentileOf(sample, 50),
		LatencyP95:          percentileOf(sample, 95),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     exactRepeatRate,
		SimilarQueryCount:   m.similarQueryCount,
		SimilarQueryRate:    similarQueryRate,
		UniqueQueryCount:    uniqueQueryCount,
	}
}

// percentileOf returns the p-th percentile of the sample by nearest
// rank. Zero when the sample is empty.
func percentileOf(sample []time.Duration, p float64) time.Duration {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(sample))
	copy(sorted, sample)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p / 100 * float64(len(sorted)))
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Flush drains accumulated deltas to the store. Safe without a store.
// A failed flush drops that interval's deltas rather than retrying.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	shapes := m.pendingShapes
	terms := m.pendingTerms
	latencies := m.pendingLatencies
	misses := m.pendingMisses
	m.pendingShapes = make(map[QueryShape]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingMisses = nil
	m.mu.Unlock()

	today := time.Now().Format(dateLayout)

	if len(shapes) > 0 {
		if err := m.store.SaveShapeCounts(today, shapes); err != nil {
			return err
		}
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	if len(latencies) > 0 {
		if err := m.store.SaveLatencyCounts(today, latencies); err != nil {
			return err
		}
	}
	for _, miss := range misses {
		if err := m.store.AddZeroResultQuery(miss.query, miss.at); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the flush loop and performs a final flush. The store is
// not closed; its owner does that.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	return m.Flush()
}
