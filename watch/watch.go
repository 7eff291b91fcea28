// Package watch implements typedkv's change-notification subsystem: per-
// model filters, commit-time dispatch in staging order, and bounded,
// non-blocking delivery to subscribers (spec.md §4.8). Grounded on the
// teacher's SequenceManager (pkg/resource/badger/transaction.go) for
// watcher-id allocation, generalized from Badger's own conflict-detection
// callbacks (which the teacher does not use for this purpose — the teacher
// has no watch subsystem at all, so this package's shape is otherwise
// original to the spec, built in the teacher's idiom).
package watch

import (
	"context"
	"math"
	"sync"

	"github.com/kasuganosora/typedkv/dberr"
	"github.com/kasuganosora/typedkv/key"
	"github.com/kasuganosora/typedkv/storage"
)

// Kind is the flavor of change that produced an Event.
type Kind int

const (
	Insert Kind = iota
	Update
	Remove
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event describes one committed change to a primary table row. OldValue/
// NewValue carry the raw framed record bytes (codec.FrameEncode output);
// callers decode with codec.DecodeRecord into the model type they expect.
// OldValue is nil for Insert, NewValue is nil for Remove.
type Event struct {
	ModelID, ModelVersion uint32
	PrimaryKey            key.Key
	Kind                  Kind
	OldValue, NewValue    []byte
}

// queueCapacity bounds each watcher's channel. A committer never blocks on
// a slow subscriber: a full queue causes the event to be dropped and
// WatchEventError reported back to the commit caller instead.
const queueCapacity = 256

// Watcher receives Events for one (model_id, model_version) filter, further
// narrowed to the primary keys Match reports true for. It supports two
// consumption styles over a single underlying channel: Recv blocks
// (optionally cancellable via ctx), C returns the raw channel for
// select-based cooperative consumption. Both drain the same queue, so a
// caller picks one style per Watcher and sticks with it.
type Watcher struct {
	ID                    uint64
	ModelID, ModelVersion uint32
	Match                 func(key.Key) bool
	ch                    chan Event
	hub                   *Hub
	closeOnce             sync.Once
}

// Recv blocks until an Event arrives or ctx is done.
func (w *Watcher) Recv(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-w.ch:
		if !ok {
			return Event{}, &dberr.WatchEventError{WatcherID: w.ID}
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// C returns the underlying channel for cooperative (select-based)
// consumption. The channel is closed when the Watcher is closed.
func (w *Watcher) C() <-chan Event {
	return w.ch
}

// Close unsubscribes the watcher. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.hub.remove(w)
		close(w.ch)
	})
}

// Hub fans out committed Events to every matching Watcher. One Hub is
// shared by a Database; Dispatch is called once per committed RWTxn, in
// the order events were staged.
type Hub struct {
	mu       sync.Mutex
	watchers map[uint64]*Watcher
	ids      storage.Sequence
}

// NewHub builds a Hub whose watcher ids are allocated from seq (typically
// backed by storage.Backend.Sequence, per the teacher's SequenceManager
// pattern).
func NewHub(seq storage.Sequence) *Hub {
	return &Hub{watchers: make(map[uint64]*Watcher), ids: seq}
}

// Subscribe registers a new Watcher filtered to one (model_id, version) and,
// within that, to the primary keys match reports true for — spec.md §2's
// "subscribe by key predicate" (get.primary<T>(k) and
// scan.primary<T>().all()/range/start_with(prefix) each build a Watcher
// through exactly one shared predicate mechanism; see key.MatchExact/
// MatchRange/MatchPrefix/MatchAll). match is only ever applied to an
// event's primary key: subscribing by a secondary key is not supported.
// A nil match subscribes to every row of the model, unfiltered. Fails
// with MaxWatcherReached once the id counter reaches its largest value.
func (h *Hub) Subscribe(modelID, modelVersion uint32, match func(key.Key) bool) (*Watcher, error) {
	id, err := h.ids.Next()
	if err != nil {
		return nil, err
	}
	if id == math.MaxUint64 {
		return nil, &dberr.MaxWatcherReached{}
	}
	if match == nil {
		match = func(key.Key) bool { return true }
	}

	w := &Watcher{
		ID:           id,
		ModelID:      modelID,
		ModelVersion: modelVersion,
		Match:        match,
		ch:           make(chan Event, queueCapacity),
		hub:          h,
	}

	h.mu.Lock()
	h.watchers[id] = w
	h.mu.Unlock()
	return w, nil
}

func (h *Hub) remove(w *Watcher) {
	h.mu.Lock()
	delete(h.watchers, w.ID)
	h.mu.Unlock()
}

// Dispatch delivers events, in order, to every watcher whose filter
// matches. Delivery never blocks: a watcher with a full queue has its
// event dropped and its id collected into the returned slice, which the
// caller surfaces to the committer as WatchEventErrors (the commit itself
// still succeeds; dropped notifications are not fatal, per spec.md §4.8).
func (h *Hub) Dispatch(events []Event) []error {
	if len(events) == 0 {
		return nil
	}

	// The lock is held for the whole delivery so a concurrent Close cannot
	// close a watcher's channel while an event is being sent to it.
	h.mu.Lock()
	defer h.mu.Unlock()
	targets := make([]*Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		targets = append(targets, w)
	}

	var errs []error
	for _, ev := range events {
		for _, w := range targets {
			if w.ModelID != ev.ModelID || w.ModelVersion != ev.ModelVersion {
				continue
			}
			if !w.Match(ev.PrimaryKey) {
				continue
			}
			select {
			case w.ch <- ev:
			default:
				errs = append(errs, &dberr.WatchEventError{WatcherID: w.ID})
			}
		}
	}
	return errs
}

// Close closes every outstanding watcher and releases the id sequence.
func (h *Hub) Close() error {
	h.mu.Lock()
	watchers := make([]*Watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
	return h.ids.Release()
}
