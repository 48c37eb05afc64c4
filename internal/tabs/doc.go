// Package tabs carries the document-lifecycle side of the daemon: the
// event bus the browser collaborator posts into, the settle-delay
// debouncer that keeps navigation bursts from thrashing the index, and
// the snapshot registry holding the latest extracted text per tab.
//
// The browser collaborator delivers events over the daemon's tabs.event
// RPC; the daemon publishes them here. The indexer subscribes and
// reacts:
//   - content-stable: schedule indexing once the tab settles
//   - closed, navigated-away: drop the tab's index entries
//   - opened: bookkeeping only
//
// The bus delivers everything it is given; subscribers treat unknown
// owners and out-of-order events as no-ops.
//
// Usage:
//
//	bus := tabs.NewBus()
//	reg := tabs.NewRegistry()
//	bus.Subscribe(func(evt tabs.Event) {
//	    switch evt.Kind {
//	    case tabs.EventContentStable:
//	        reg.Put(*evt.Snapshot)
//	    case tabs.EventClosed:
//	        reg.Remove(evt.OwnerID)
//	    }
//	})
package tabs
