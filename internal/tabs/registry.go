package tabs

import (
	"sort"
	"sync"
)

// Registry holds the most recent snapshot per owner. The browser
// collaborator replaces an owner's entry on every content-stable
// event; close and navigate-away drop it.
type Registry struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{snapshots: make(map[string]Snapshot)}
}

// Put stores snap as the latest snapshot for its owner, replacing any
// previous one. Snapshots without an owner are dropped.
func (r *Registry) Put(snap Snapshot) {
	if snap.OwnerID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[snap.OwnerID] = snap
}

// Get returns the latest snapshot for ownerID.
func (r *Registry) Get(ownerID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[ownerID]
	return snap, ok
}

// Remove drops the snapshot for ownerID. Unknown owners are a no-op.
func (r *Registry) Remove(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, ownerID)
}

// Owners returns the owner IDs with a stored snapshot, sorted for
// deterministic iteration.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owners := make([]string, 0, len(r.snapshots))
	for owner := range r.snapshots {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Len returns the number of stored snapshots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshots)
}

// Clear drops every snapshot.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = make(map[string]Snapshot)
}
