package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/tabsense/tabsense/internal/tabs"
)

// opTimeout bounds one auto-indexing or removal operation fired from a
// lifecycle event, which runs detached from any caller context.
const opTimeout = 60 * time.Second

// Watcher drives a ContentIndexer from tab lifecycle events. A tab is
// indexed once its content has stayed stable for the settle delay;
// closing or navigating away removes it immediately. Events for unknown
// owners and events arriving out of order fall through as no-ops.
type Watcher struct {
	indexer  *ContentIndexer
	registry *tabs.Registry
	debounce *tabs.Debouncer
	auto     bool
}

// NewWatcher wires a watcher around the indexer's settle delay and
// auto-index setting.
func NewWatcher(x *ContentIndexer, registry *tabs.Registry) *Watcher {
	w := &Watcher{
		indexer:  x,
		registry: registry,
		auto:     x.cfg.AutoIndex,
	}
	w.debounce = tabs.NewDebouncer(x.cfg.SettleDelayDuration(), w.index)
	return w
}

// Bind subscribes the watcher to a tab event bus.
func (w *Watcher) Bind(bus *tabs.Bus) {
	bus.Subscribe(w.Handle)
}

// Handle processes one lifecycle event.
func (w *Watcher) Handle(ev tabs.Event) {
	if ev.OwnerID == "" {
		return
	}

	switch ev.Kind {
	case tabs.EventOpened:
		slog.Debug("tab opened", slog.String("owner", ev.OwnerID))

	case tabs.EventContentStable:
		if ev.Snapshot != nil {
			w.registry.Put(*ev.Snapshot)
		}
		if w.auto {
			w.debounce.Note(ev.OwnerID)
		}

	case tabs.EventClosed, tabs.EventNavigatedAway:
		w.debounce.Cancel(ev.OwnerID)
		w.registry.Remove(ev.OwnerID)
		w.remove(ev.OwnerID)
	}
}

// Pending reports how many tabs are waiting out their settle delay.
func (w *Watcher) Pending() int {
	return w.debounce.Pending()
}

// Stop drops pending settle timers. Close and navigate events handled
// after Stop still remove tabs; nothing new is scheduled.
func (w *Watcher) Stop() {
	w.debounce.Stop()
}

// index runs the debounced indexing pass for one settled tab.
func (w *Watcher) index(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := w.indexer.IndexDocument(ctx, ownerID); err != nil {
		slog.Warn("auto-indexing failed",
			slog.String("owner", ownerID),
			slog.String("error", err.Error()))
	}
}

func (w *Watcher) remove(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := w.indexer.RemoveDocument(ctx, ownerID); err != nil {
		slog.Warn("tab removal failed",
			slog.String("owner", ownerID),
			slog.String("error", err.Error()))
	}
}
