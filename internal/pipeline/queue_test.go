package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{
		Path: filepath.Join(t.TempDir(), "state.db"),
		Log:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// registerFile creates a folder and known file, returning the work item the
// queues carry for it.
func registerFile(t *testing.T, s *store.Store, dir, name string) store.WorkItem {
	t.Helper()
	ctx := context.Background()
	folderID, err := s.UpsertFolder(ctx, dir, false, false)
	if err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}
	id, err := s.UpsertKnownFile(ctx, folderID, name, filepath.Ext(name), "2024-05-06_10-30-00")
	if err != nil {
		t.Fatalf("UpsertKnownFile: %v", err)
	}
	return store.WorkItem{KnownFileID: id, FolderPath: dir, FileName: name}
}

func TestQueueEnqueueDedup(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	ctx := context.Background()
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	added, err := q.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !added {
		t.Fatal("first Enqueue not added")
	}
	added, err = q.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if added {
		t.Error("second Enqueue added a duplicate")
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}
}

func TestQueueEnqueueSkipBlocked(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	ctx := context.Background()
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	if err := s.RecordSkip(ctx, item.KnownFileID, store.ReasonTranscriptionFailed); err != nil {
		t.Fatalf("RecordSkip: %v", err)
	}
	added, err := q.Enqueue(ctx, item)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if added {
		t.Error("skip-blocked file was enqueued")
	}
	if q.Depth() != 0 {
		t.Errorf("Depth = %d, want 0", q.Depth())
	}
}

func TestQueueFIFO(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	ctx := context.Background()
	a := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")
	b := registerFile(t, s, "/rec", "2024-05-06_11-30-00.wav")

	for _, it := range []store.WorkItem{a, b} {
		if _, err := q.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	got, ok := q.TryPop()
	if !ok || got.FileName != a.FileName {
		t.Fatalf("first pop = %+v ok=%v, want %s", got, ok, a.FileName)
	}
	got, ok = q.TryPop()
	if !ok || got.FileName != b.FileName {
		t.Fatalf("second pop = %+v ok=%v, want %s", got, ok, b.FileName)
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop on empty queue returned an item")
	}
}

func TestQueuePopBlocksUntilOffer(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	got := make(chan store.WorkItem, 1)
	go func() {
		it, ok := q.Pop(context.Background())
		if ok {
			got <- it
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Offer(item)

	select {
	case it := <-got:
		if it.KnownFileID != item.KnownFileID {
			t.Errorf("popped %+v, want %+v", it, item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake on Offer")
	}
}

func TestQueuePopCancelled(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned ok after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return on cancellation")
	}
}

func TestQueueAckRemovesDurableRow(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	ctx := context.Background()
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	if _, err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it, ok := q.TryPop()
	if !ok {
		t.Fatal("TryPop: empty")
	}
	q.Ack(ctx, it)

	n, err := s.QueueDepth(ctx, store.QueueTranscribe)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if n != 0 {
		t.Errorf("durable depth after ack = %d, want 0", n)
	}
}

// A nacked item keeps its durable row but is invisible to rehydration until
// the skip record is cleared. Clearing the skip resurfaces it.
func TestQueueNackRecovery(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	ctx := context.Background()
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	if _, err := q.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	it, ok := q.TryPop()
	if !ok {
		t.Fatal("TryPop: empty")
	}
	q.Nack(ctx, it, store.ReasonTranscriptionFailed)

	n, err := s.QueueDepth(ctx, store.QueueTranscribe)
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if n != 1 {
		t.Fatalf("durable depth after nack = %d, want 1", n)
	}

	fresh := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	if got, err := fresh.Rehydrate(ctx); err != nil || got != 0 {
		t.Fatalf("Rehydrate with skip = %d, %v, want 0 items", got, err)
	}

	skips, err := s.Skips(ctx)
	if err != nil || len(skips) != 1 {
		t.Fatalf("Skips = %v, %v, want one record", skips, err)
	}
	if skips[0].Reason != store.ReasonTranscriptionFailed {
		t.Errorf("skip reason = %q, want %q", skips[0].Reason, store.ReasonTranscriptionFailed)
	}
	if _, err := s.ClearSkip(ctx, skips[0].ID); err != nil {
		t.Fatalf("ClearSkip: %v", err)
	}

	cleared := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	if got, err := cleared.Rehydrate(ctx); err != nil || got != 1 {
		t.Fatalf("Rehydrate after clear = %d, %v, want 1 item", got, err)
	}
	back, ok := cleared.TryPop()
	if !ok || back.KnownFileID != item.KnownFileID {
		t.Errorf("resurfaced item = %+v ok=%v, want %+v", back, ok, item)
	}
}

func TestQueueOfferDedup(t *testing.T) {
	s := newTestStore(t)
	q := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	item := registerFile(t, s, "/rec", "2024-05-06_10-30-00.wav")

	if !q.Offer(item) {
		t.Fatal("first Offer refused")
	}
	if q.Offer(item) {
		t.Error("second Offer accepted a duplicate")
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}
}
