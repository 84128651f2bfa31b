// Package pipeline runs the scan, transcribe, and convert stages over the
// recording folders, coupled through in-memory queues mirrored into the
// state store.
package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/store"
)

// Queue is an in-memory FIFO mirrored into a durable store queue. The
// store rows are the source of truth across restarts; memory carries the
// dispatch order. Enqueue writes the store first, so a crash between the
// two steps re-offers the item on the next start.
type Queue struct {
	st   *store.Store
	kind store.QueueKind
	log  zerolog.Logger

	mu      sync.Mutex
	items   []store.WorkItem
	pending map[int64]struct{}
	notify  chan struct{}
}

func NewQueue(st *store.Store, kind store.QueueKind, log zerolog.Logger) *Queue {
	return &Queue{
		st:      st,
		kind:    kind,
		log:     log.With().Str("queue", string(kind)).Logger(),
		pending: make(map[int64]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Rehydrate loads pending durable rows into memory. Skip-blocked rows stay
// behind until an operator clears the skip.
func (q *Queue) Rehydrate(ctx context.Context) (int, error) {
	items, err := q.st.QueueItems(ctx, q.kind)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if q.Offer(it) {
			n++
		}
	}
	return n, nil
}

// Enqueue admits an item durably, then in memory. Returns false when the
// file is already queued or skip-blocked.
func (q *Queue) Enqueue(ctx context.Context, item store.WorkItem) (bool, error) {
	added, err := q.st.QueueAdd(ctx, q.kind, item.KnownFileID)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}
	q.Offer(item)
	return true, nil
}

// Offer appends to the in-memory FIFO only. Rehydration and deferred
// re-queues use it when the durable row already exists.
func (q *Queue) Offer(item store.WorkItem) bool {
	q.mu.Lock()
	if _, dup := q.pending[item.KnownFileID]; dup {
		q.mu.Unlock()
		return false
	}
	q.pending[item.KnownFileID] = struct{}{}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wake()
	return true
}

// Pop blocks until an item is available or ctx ends.
func (q *Queue) Pop(ctx context.Context) (store.WorkItem, bool) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}
		select {
		case <-ctx.Done():
			return store.WorkItem{}, false
		case <-q.notify:
		}
	}
}

// TryPop removes the head without blocking.
func (q *Queue) TryPop() (store.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return store.WorkItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	delete(q.pending, item.KnownFileID)
	return item, true
}

// Ack finishes a popped item, deleting its durable row.
func (q *Queue) Ack(ctx context.Context, item store.WorkItem) {
	if err := q.st.QueueRemove(ctx, q.kind, item.KnownFileID); err != nil {
		q.log.Error().Err(err).
			Int64("known_file_id", item.KnownFileID).
			Str("file", item.FileName).
			Msg("Failed to ack queue item")
	}
}

// Nack records a skip for a popped item. The durable row stays put;
// rehydration filters skip-blocked rows, so the item returns only after an
// operator clears the skip.
func (q *Queue) Nack(ctx context.Context, item store.WorkItem, reason string) {
	if err := q.st.RecordSkip(ctx, item.KnownFileID, reason); err != nil {
		q.log.Error().Err(err).
			Int64("known_file_id", item.KnownFileID).
			Str("file", item.FileName).
			Str("reason", reason).
			Msg("Failed to record skip")
	}
}

// Depth reports in-memory items awaiting dispatch.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
