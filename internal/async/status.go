// Package async provides background rebuild infrastructure for the
// tabsense daemon: a rebuild runner holding a profile-wide lock and a
// status file other processes poll for progress.
package async

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StatusFileName is the JSON progress file under the profile
// directory. The rebuild holder rewrites it while running; `tabsense
// status` and `tabsense rebuild` read it from outside the daemon
// process.
const StatusFileName = "rebuild-status.json"

// RebuildStatus represents the overall rebuild state.
type RebuildStatus string

const (
	// StatusRebuilding indicates a rebuild is in progress.
	StatusRebuilding RebuildStatus = "rebuilding"
	// StatusReady indicates the rebuild completed and search covers the
	// full tab set again.
	StatusReady RebuildStatus = "ready"
	// StatusError indicates the rebuild failed with an error.
	StatusError RebuildStatus = "error"
)

// RebuildStage represents the current stage of the rebuild pipeline.
type RebuildStage string

const (
	// StageLoading indicates tab snapshots are being read.
	StageLoading RebuildStage = "loading"
	// StageChunking indicates extracted text is being split.
	StageChunking RebuildStage = "chunking"
	// StageEmbedding indicates vectors are being computed.
	StageEmbedding RebuildStage = "embedding"
	// StageIndexing indicates chunks are being inserted into the index.
	StageIndexing RebuildStage = "indexing"
)

// Snapshot is an immutable snapshot of rebuild progress.
type Snapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	TabsTotal      int     `json:"tabs_total"`
	TabsProcessed  int     `json:"tabs_processed"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksIndexed  int     `json:"chunks_indexed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of rebuild progress.
type Progress struct {
	mu sync.RWMutex

	status        RebuildStatus
	stage         RebuildStage
	tabsTotal     int
	tabsProcessed int
	chunksTotal   int
	chunksIndexed int
	startTime     time.Time
	errorMessage  string
}

// NewProgress creates a progress tracker initialized for a rebuild.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusRebuilding,
		stage:     StageLoading,
		startTime: time.Now(),
	}
}

// SetStage updates the current stage and the number of tabs it covers.
func (p *Progress) SetStage(stage RebuildStage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.tabsTotal = total
}

// UpdateTabs updates the number of processed tabs.
func (p *Progress) UpdateTabs(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tabsProcessed = processed
}

// SetChunksTotal sets the total number of chunks to process.
func (p *Progress) SetChunksTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksTotal = total
}

// UpdateChunks updates the number of indexed chunks.
func (p *Progress) UpdateChunks(indexed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksIndexed = indexed
}

// SetError marks the rebuild as failed with an error message.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the rebuild as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
}

// IsRebuilding returns true if the rebuild is still in progress.
func (p *Progress) IsRebuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusRebuilding
}

// Snapshot returns an immutable copy of the current progress state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	if p.tabsTotal > 0 {
		progressPct = float64(p.tabsProcessed) / float64(p.tabsTotal) * 100.0
	}

	return Snapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		TabsTotal:      p.tabsTotal,
		TabsProcessed:  p.tabsProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		ProgressPct:    progressPct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}

// StatusPath returns the rebuild status file path for a profile.
func StatusPath(profileDir string) string {
	return filepath.Join(profileDir, StatusFileName)
}

// WriteStatus atomically replaces the profile's status file with the
// snapshot. Only the rebuild lock holder should write it.
func WriteStatus(profileDir string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	path := StatusPath(profileDir)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadStatus reads the last written snapshot for a profile. The
// boolean reports whether a status file existed and parsed.
func ReadStatus(profileDir string) (Snapshot, bool) {
	data, err := os.ReadFile(StatusPath(profileDir))
	if err != nil {
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
