package tabs

import (
	"sync"
	"time"
)

// DefaultSettleDelay is how long a tab must stay quiet after its last
// content-stable event before indexing starts.
const DefaultSettleDelay = 2 * time.Second

// Debouncer delays per-owner work until the owner stops producing
// events. Every Note resets that owner's timer; when the settle window
// elapses without another Note, the fire callback runs with the owner
// ID. Owners are independent: a busy tab never delays a quiet one.
type Debouncer struct {
	settle time.Duration
	fire   func(ownerID string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that calls fire after an owner has
// been quiet for the settle window. A non-positive settle falls back
// to DefaultSettleDelay. The callback runs on a timer goroutine.
func NewDebouncer(settle time.Duration, fire func(ownerID string)) *Debouncer {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Debouncer{
		settle: settle,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Note records activity for ownerID, starting or resetting its settle
// timer.
func (d *Debouncer) Note(ownerID string) {
	if ownerID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if prev, ok := d.timers[ownerID]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		// A newer Note or a Cancel may have raced the expiry; only the
		// timer still registered for this owner is allowed to fire.
		if d.stopped || d.timers[ownerID] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, ownerID)
		d.mu.Unlock()
		d.fire(ownerID)
	})
	d.timers[ownerID] = t
}

// Cancel drops any pending timer for ownerID. Used when the owner
// closes or navigates away before settling.
func (d *Debouncer) Cancel(ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[ownerID]; ok {
		t.Stop()
		delete(d.timers, ownerID)
	}
}

// Pending returns the number of owners waiting to settle.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels all pending timers. Safe to call multiple times; the
// debouncer accepts no further Notes afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for owner, t := range d.timers {
		t.Stop()
		delete(d.timers, owner)
	}
}
