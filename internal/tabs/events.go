package tabs

import (
	"fmt"
	"time"
)

// EventKind identifies a tab lifecycle transition.
type EventKind string

const (
	// EventOpened fires when a tab appears. No content yet.
	EventOpened EventKind = "opened"

	// EventContentStable fires when a tab's content has finished
	// loading. Carries the extraction snapshot.
	EventContentStable EventKind = "content-stable"

	// EventClosed fires when a tab is closed.
	EventClosed EventKind = "closed"

	// EventNavigatedAway fires when a tab leaves its current page.
	EventNavigatedAway EventKind = "navigated-away"
)

// ParseEventKind maps a wire string to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case EventOpened, EventContentStable, EventClosed, EventNavigatedAway:
		return EventKind(s), nil
	default:
		return "", fmt.Errorf("unknown tab event kind %q", s)
	}
}

// Event is one lifecycle notification from the browser collaborator.
type Event struct {
	Kind    EventKind
	OwnerID string

	// Snapshot is set for content-stable events only.
	Snapshot *Snapshot
}

// Snapshot is the latest extracted content for one owner, captured by
// the browser collaborator when the page settled.
type Snapshot struct {
	OwnerID    string
	URL        string
	Title      string
	Text       string
	CapturedAt time.Time
}
