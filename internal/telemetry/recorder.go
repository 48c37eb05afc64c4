package telemetry

import (
	"path/filepath"
	"time"

	"github.com/tabsense/tabsense/internal/config"
)

// metricsFileName is the telemetry database inside the profile
// directory. It is separate from the vector index so wiping one never
// touches the other.
const metricsFileName = "telemetry.db"

// Recorder is the daemon-facing telemetry facade. It classifies each
// observed search, feeds the in-memory collector, and owns the SQLite
// store the collector flushes into.
type Recorder struct {
	metrics *QueryMetrics
	store   *SQLiteMetricsStore
}

// NewRecorder opens the metrics store under profileDir and starts a
// collector flushing into it. The caller checks cfg.Enabled; this
// constructor assumes telemetry is wanted.
func NewRecorder(cfg config.TelemetryConfig, profileDir string) (*Recorder, error) {
	store, err := OpenMetricsStore(filepath.Join(profileDir, metricsFileName))
	if err != nil {
		return nil, err
	}

	mc := DefaultQueryMetricsConfig()
	if cfg.SampleSize > 0 {
		mc.RecentQueriesCapacity = cfg.SampleSize
		mc.RecentLatenciesCapacity = cfg.SampleSize
	}

	return &Recorder{
		metrics: NewQueryMetricsWithConfig(store, mc),
		store:   store,
	}, nil
}

// Observe records one completed search.
func (r *Recorder) Observe(query string, latency time.Duration, results int) {
	r.metrics.Record(QueryEvent{
		Query:       query,
		Shape:       ClassifyQuery(query),
		ResultCount: results,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// ObserveEmbedding samples the query vector of a completed search for
// near-duplicate detection.
func (r *Recorder) ObserveEmbedding(embedding []float32) {
	r.metrics.RecordQueryEmbedding(embedding)
}

// Snapshot returns the current in-memory metrics.
func (r *Recorder) Snapshot() *QueryMetricsSnapshot {
	return r.metrics.Snapshot()
}

// Flush drains pending deltas to the store immediately.
func (r *Recorder) Flush() error {
	return r.metrics.Flush()
}

// Close flushes outstanding deltas and closes the store.
func (r *Recorder) Close() error {
	flushErr := r.metrics.Close()
	closeErr := r.store.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
