// Package watch projects the remote ordered collections into a single
// consistent in-memory structure tree. A Watcher wraps one collection
// subscription; the Synchronizer composes one watcher per known node and
// keeps the watcher population in lockstep with the tree as places and
// categories appear and disappear.
package watch

import (
	"context"
	"sync"

	"github.com/stakahashi/tenken/internal/event"
	"github.com/stakahashi/tenken/internal/eventbus"
	"github.com/stakahashi/tenken/internal/store"
)

// Lister is the read side of the ordered-collection capability.
type Lister interface {
	ListCollection(ctx context.Context, path string) ([]store.Record, error)
}

// Snapshot is one ordered read of a collection. Err is set when the re-read
// after a change notification failed; Records then holds nothing and the
// consumer keeps its last good value.
type Snapshot struct {
	Records []store.Record
	Err     error
}

// Watcher subscribes to a single collection path and emits a Snapshot after
// every committed change. Every emission reflects the order-sorted current
// store state; emissions are per-path monotonic because change events are
// dispatched from a single bus goroutine. Stale snapshots are coalesced:
// only the most recent unread snapshot is retained.
type Watcher struct {
	path   string
	st     Lister
	sub    *eventbus.Subscription
	out    chan Snapshot
	closed chan struct{}
	once   sync.Once
}

// NewWatcher lists the collection once, emits the initial snapshot, and
// registers for change events on the path. Close releases the subscription;
// multiple closes are no-ops.
func NewWatcher(ctx context.Context, st Lister, bus *eventbus.Bus, path string) (*Watcher, error) {
	recs, err := st.ListCollection(ctx, path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:   path,
		st:     st,
		out:    make(chan Snapshot, 1),
		closed: make(chan struct{}),
	}
	w.push(Snapshot{Records: recs})

	w.sub = bus.Subscribe("watch:"+path, eventbus.HandlerFunc(func(ctx context.Context, evt event.DomainEvent) error {
		if evt.EventType != event.TypeStructureChanged || evt.Path != w.path {
			return nil
		}
		recs, err := w.st.ListCollection(ctx, w.path)
		if err != nil {
			w.push(Snapshot{Err: err})
			return err
		}
		w.push(Snapshot{Records: recs})
		return nil
	}))
	return w, nil
}

// C returns the snapshot channel. The channel is never closed; consumers
// must also select on their own shutdown signal.
func (w *Watcher) C() <-chan Snapshot { return w.out }

// Path returns the collection path this watcher observes.
func (w *Watcher) Path() string { return w.path }

// Close cancels the subscription. Idempotent.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.sub.Cancel()
		close(w.closed)
	})
}

// push delivers a snapshot, replacing an unread older one. A snapshot
// emitted after Close is discarded.
func (w *Watcher) push(snap Snapshot) {
	for {
		select {
		case <-w.closed:
			return
		case w.out <- snap:
			return
		default:
		}
		select {
		case <-w.out: // drop the stale unread snapshot
		default:
		}
	}
}
