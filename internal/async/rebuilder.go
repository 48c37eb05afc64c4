package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is the rebuild lock under the profile directory. The
// flock on it serializes rebuilds across processes. The file itself
// doubles as a crash marker: a finished rebuild removes it, so a file
// nobody holds means the last rebuild died mid-run.
const LockFileName = "rebuild.lock"

// ErrRebuildRunning is returned when another rebuild holds the
// profile lock.
var ErrRebuildRunning = errors.New("a rebuild is already running for this profile")

// RebuildFunc is the function signature for the actual rebuild work.
type RebuildFunc func(ctx context.Context, progress *Progress) error

// Config configures the Rebuilder.
type Config struct {
	// ProfileDir is where the lock and status files live.
	ProfileDir string

	// StatusInterval is how often the status file is rewritten while
	// the rebuild runs. Zero means 500ms.
	StatusInterval time.Duration
}

// Rebuilder runs a full rebuild in a background goroutine with
// progress tracking. While it runs it holds the profile rebuild lock
// and keeps the status file current for outside observers.
type Rebuilder struct {
	config   Config
	progress *Progress

	// RebuildFunc is the actual rebuild function to run.
	// This can be injected for testing.
	RebuildFunc RebuildFunc

	lock *flock.Flock

	// Lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewRebuilder creates a new background rebuilder.
func NewRebuilder(cfg Config) *Rebuilder {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 500 * time.Millisecond
	}
	return &Rebuilder{
		config:   cfg,
		progress: NewProgress(),
		lock:     flock.New(filepath.Join(cfg.ProfileDir, LockFileName)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this rebuilder.
func (b *Rebuilder) Progress() *Progress {
	return b.progress
}

// IsRunning returns true if the rebuild is currently running.
func (b *Rebuilder) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the rebuild in a background goroutine.
// This is non-blocking and returns immediately.
// Use Wait() to block until completion.
func (b *Rebuilder) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

// run executes the rebuild in the background.
func (b *Rebuilder) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	// Create merged context that respects both parent and stop channel
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := os.MkdirAll(b.config.ProfileDir, 0o755); err != nil {
		b.fail(err)
		return
	}

	acquired, err := b.lock.TryLock()
	if err != nil {
		b.fail(err)
		return
	}
	if !acquired {
		b.fail(ErrRebuildRunning)
		return
	}

	// Remove before unlocking so no window exists where another
	// process locks the file we are about to delete.
	defer func() {
		_ = os.Remove(b.lock.Path())
		_ = b.lock.Unlock()
	}()

	// Publish immediately so pollers see the rebuild before the first
	// tick, then keep the file current in the background.
	_ = WriteStatus(b.config.ProfileDir, b.progress.Snapshot())

	stopPersist := make(chan struct{})
	var persistWg sync.WaitGroup
	persistWg.Add(1)
	go func() {
		defer persistWg.Done()
		ticker := time.NewTicker(b.config.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPersist:
				return
			case <-ticker.C:
				_ = WriteStatus(b.config.ProfileDir, b.progress.Snapshot())
			}
		}
	}()

	var runErr error
	if b.RebuildFunc != nil {
		runErr = b.RebuildFunc(ctx, b.progress)
	}

	close(stopPersist)
	persistWg.Wait()

	if runErr != nil {
		b.progress.SetError(runErr.Error())
		b.mu.Lock()
		b.err = runErr
		b.mu.Unlock()
	} else {
		b.progress.SetReady()
	}
	_ = WriteStatus(b.config.ProfileDir, b.progress.Snapshot())
}

// fail records an error without touching the status file. Early
// failures happen before the lock is held, and the file belongs to
// whoever holds it.
func (b *Rebuilder) fail(err error) {
	b.progress.SetError(err.Error())
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop signals the rebuild to stop and waits for it to finish.
func (b *Rebuilder) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the rebuild completes and returns any error.
func (b *Rebuilder) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// WasInterrupted reports whether a previous rebuild died without
// finishing: the lock file survived and nobody holds the flock.
func WasInterrupted(profileDir string) bool {
	path := filepath.Join(profileDir, LockFileName)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	lk := flock.New(path)
	acquired, err := lk.TryLock()
	if err != nil || !acquired {
		return false
	}
	_ = lk.Unlock()
	return true
}
