package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/vector"
)

// CompactionManager schedules background compaction of the vector
// index. Removals are logical, so closed tabs leave orphaned graph
// nodes behind; compaction rebuilds the graph from the live mapping.
//
// Compaction runs automatically when:
// 1. The index is idle (no searches for IdleTimeout)
// 2. Orphan ratio exceeds threshold (orphans/graph nodes > OrphanThreshold)
// 3. Minimum orphan count is met (avoids small index churn)
// 4. Cooldown period has elapsed since last compaction
//
// Interruption is best-effort: a search cancels a pending compaction
// before it starts. Once the rebuild holds the index lock it runs to
// completion and searches queue behind it; the rebuild works from
// stored vectors, so it never re-embeds and finishes quickly.
type CompactionManager struct {
	config config.CompactionConfig

	// index resolves the current index on every use; reinitialization
	// swaps the instance underneath us.
	index func() *vector.Index

	mu          sync.Mutex
	lastSearch  time.Time
	lastCompact time.Time
	idleTimer   *time.Timer
	compacting  bool
	cancelFunc  context.CancelFunc

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCompactionManager creates a new compaction manager.
func NewCompactionManager(cfg config.CompactionConfig, index func() *vector.Index) *CompactionManager {
	return &CompactionManager{
		config: cfg,
		index:  index,
	}
}

// Start initializes the compaction manager.
func (m *CompactionManager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	slog.Debug("compaction manager started",
		slog.Bool("enabled", m.config.Enabled),
		slog.Float64("orphan_threshold", m.config.OrphanThreshold),
		slog.Int("min_orphan_count", m.config.MinOrphanCount))
}

// Stop gracefully shuts down the compaction manager.
// Waits for any in-progress compaction to complete or cancel.
func (m *CompactionManager) Stop() {
	m.stopOnce.Do(func() {
		slog.Debug("compaction manager stopping")

		if m.cancel != nil {
			m.cancel()
		}

		m.mu.Lock()
		if m.idleTimer != nil {
			m.idleTimer.Stop()
		}
		if m.cancelFunc != nil {
			m.cancelFunc()
		}
		m.mu.Unlock()

		m.wg.Wait()
		slog.Debug("compaction manager stopped")
	})
}

// OnSearchComplete is called after each search to reset the idle
// timer. Compaction triggers only once searches stop arriving.
func (m *CompactionManager) OnSearchComplete() {
	if !m.config.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSearch = time.Now()

	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.config.IdleTimeoutDuration(), m.onIdle)
}

// InterruptCompaction cancels a compaction that hasn't entered the
// rebuild yet. Called when a search request arrives.
func (m *CompactionManager) InterruptCompaction() {
	if !m.config.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.compacting {
		return
	}
	if m.cancelFunc != nil {
		slog.Debug("interrupting compaction for search")
		m.cancelFunc()
	}
}

// onIdle fires when the idle timeout elapses without a search.
func (m *CompactionManager) onIdle() {
	if !m.shouldCompact() {
		return
	}

	m.startCompaction()
}

// shouldCompact determines if compaction should run now.
func (m *CompactionManager) shouldCompact() bool {
	if !m.config.Enabled {
		return false
	}
	if m.ctx == nil {
		return false
	}

	select {
	case <-m.ctx.Done():
		return false
	default:
	}

	m.mu.Lock()
	if m.compacting {
		m.mu.Unlock()
		return false
	}

	cooldown := m.config.CooldownDuration()
	if time.Since(m.lastCompact) < cooldown {
		m.mu.Unlock()
		slog.Debug("compaction skipped: cooldown active",
			slog.Duration("remaining", cooldown-time.Since(m.lastCompact)))
		return false
	}
	m.mu.Unlock()

	ix := m.index()
	if ix == nil {
		return false
	}

	stats := ix.Stats()
	orphanCount := stats.Orphans
	totalCount := stats.GraphNodes

	if orphanCount < m.config.MinOrphanCount {
		slog.Debug("compaction skipped: below minimum orphan count",
			slog.Int("orphans", orphanCount),
			slog.Int("min_required", m.config.MinOrphanCount))
		return false
	}

	ratio := 0.0
	if totalCount > 0 {
		ratio = float64(orphanCount) / float64(totalCount)
	}
	if ratio < m.config.OrphanThreshold {
		slog.Debug("compaction skipped: below threshold",
			slog.Float64("ratio", ratio),
			slog.Float64("threshold", m.config.OrphanThreshold))
		return false
	}

	slog.Info("compaction eligible",
		slog.Int("orphans", orphanCount),
		slog.Int("graph_nodes", totalCount),
		slog.Float64("ratio", ratio))

	return true
}

// startCompaction begins background compaction.
func (m *CompactionManager) startCompaction() {
	m.mu.Lock()
	if m.compacting {
		m.mu.Unlock()
		return
	}
	m.compacting = true
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelFunc = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.compacting = false
			m.cancelFunc = nil
			m.mu.Unlock()
		}()

		m.runCompaction(ctx)
	}()
}

// runCompaction performs the actual compaction work.
func (m *CompactionManager) runCompaction(ctx context.Context) {
	start := time.Now()

	slog.Info("background compaction starting")

	ix := m.index()
	if ix == nil {
		slog.Warn("compaction failed: no index")
		return
	}

	removed, err := ix.Compact(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("compaction interrupted before rebuild")
		} else {
			slog.Warn("compaction failed", slog.String("error", err.Error()))
		}
		return
	}

	m.mu.Lock()
	m.lastCompact = time.Now()
	m.mu.Unlock()

	slog.Info("background compaction complete",
		slog.Int("orphans_removed", removed),
		slog.Duration("duration", time.Since(start)))
}
