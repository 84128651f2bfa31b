package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/convert"
	"github.com/tircorder/tircorder/internal/store"
)

// fakeRunner stands in for ffmpeg and writes the output file itself.
type fakeRunner struct {
	err    error
	stderr string

	mu    sync.Mutex
	calls [][]string
}

func (r *fakeRunner) Run(ctx context.Context, args []string) (string, string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	if r.err != nil {
		return "", r.stderr, r.err
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("fLaC"), 0o644); err != nil {
		return "", "", err
	}
	return "", "", nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func converterForTest(t *testing.T, s *store.Store, runner *fakeRunner) (*Converter, *Queue, *Queue, *Gate) {
	t.Helper()
	qt := NewQueue(s, store.QueueTranscribe, zerolog.Nop())
	qc := NewQueue(s, store.QueueConvert, zerolog.Nop())
	gate := NewGate()
	c := NewConverter(ConverterOptions{
		Store:      s,
		Convert:    qc,
		Transcribe: qt,
		Gate:       gate,
		Encoder:    convert.New(runner, zerolog.Nop()),
		RetryPause: time.Millisecond,
		Log:        zerolog.Nop(),
	})
	return c, qt, qc, gate
}

// queuedConversion puts a WAV on disk and its work item on the convert
// queue, popped and ready for processItem.
func queuedConversion(t *testing.T, s *store.Store, qc *Queue, dir, name string) store.WorkItem {
	t.Helper()
	ctx := context.Background()
	writeRecording(t, dir, name)
	item := registerFile(t, s, dir, name)
	if _, err := qc.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	popped, ok := qc.TryPop()
	if !ok {
		t.Fatal("TryPop: empty")
	}
	return popped
}

func TestConvertSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	runner := &fakeRunner{}
	c, _, qc, _ := converterForTest(t, s, runner)
	item := queuedConversion(t, s, qc, dir, "2024-05-06_10-30-00.wav")

	c.processItem(ctx, item)

	if _, err := os.Stat(filepath.Join(dir, "2024-05-06_10-30-00.flac")); err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if depth, _ := s.QueueDepth(ctx, store.QueueConvert); depth != 0 {
		t.Errorf("durable depth = %d, want 0 after ack", depth)
	}
	if c.Converted() != 1 {
		t.Errorf("Converted = %d, want 1", c.Converted())
	}

	// The FLAC is indexed as its own known file.
	n, err := s.KnownFileCount(ctx)
	if err != nil || n != 2 {
		t.Errorf("KnownFileCount = %d, %v, want 2", n, err)
	}
}

func TestConvertFlacExistsAcks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	runner := &fakeRunner{}
	c, _, qc, _ := converterForTest(t, s, runner)
	item := queuedConversion(t, s, qc, dir, "2024-05-06_10-30-00.wav")
	writeRecording(t, dir, "2024-05-06_10-30-00.flac")

	c.processItem(ctx, item)

	if got := runner.callCount(); got != 0 {
		t.Errorf("ffmpeg invoked %d times with FLAC already present", got)
	}
	if depth, _ := s.QueueDepth(ctx, store.QueueConvert); depth != 0 {
		t.Errorf("durable depth = %d, want 0 after ack", depth)
	}
	if count, _ := s.SkipCount(ctx); count != 0 {
		t.Errorf("skip count = %d, want 0", count)
	}
}

func TestConvertFailureRecordsSkip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	runner := &fakeRunner{err: errors.New("exit status 1"), stderr: "Invalid data found"}
	c, _, qc, _ := converterForTest(t, s, runner)
	item := queuedConversion(t, s, qc, dir, "2024-05-06_10-30-00.wav")

	c.processItem(ctx, item)

	skips, _ := s.Skips(ctx)
	if len(skips) != 1 || skips[0].Reason != store.ReasonConversionFailed {
		t.Errorf("skips = %+v, want one %s", skips, store.ReasonConversionFailed)
	}
	if depth, _ := s.QueueDepth(ctx, store.QueueConvert); depth != 1 {
		t.Errorf("durable depth = %d, want 1 after nack", depth)
	}
	if c.Failed() != 1 {
		t.Errorf("Failed = %d, want 1", c.Failed())
	}
}

func TestConvertUnresolvableAcksWithoutSkip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runner := &fakeRunner{}
	c, _, qc, _ := converterForTest(t, s, runner)

	// Registered but never written to disk: resolution fails.
	item := registerFile(t, s, "/nonexistent", "2024-05-06_10-30-00.wav")
	if _, err := qc.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	popped, _ := qc.TryPop()

	c.processItem(ctx, popped)

	if depth, _ := s.QueueDepth(ctx, store.QueueConvert); depth != 0 {
		t.Errorf("durable depth = %d, want 0 after ack", depth)
	}
	if count, _ := s.SkipCount(ctx); count != 0 {
		t.Errorf("skip count = %d, want 0", count)
	}
	if got := runner.callCount(); got != 0 {
		t.Errorf("ffmpeg invoked %d times for unresolved item", got)
	}
}

func TestConverterYieldsWhileTranscribing(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{}
	c, _, _, gate := converterForTest(t, s, runner)

	gate.SetTranscribing(true)
	if c.awaitTranscriberIdle(context.Background()) {
		t.Error("converter proceeded while transcriber active")
	}

	gate.SignalComplete()
	if !c.awaitTranscriberIdle(context.Background()) {
		t.Error("converter refused idle lane")
	}
}

// Full worker loop: once the transcriber signals a completed round, the
// converter drains its queue and re-arms the gate.
func TestConverterRunDrains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	runner := &fakeRunner{}
	c, _, qc, gate := converterForTest(t, s, runner)

	writeRecording(t, dir, "2024-05-06_10-30-00.wav")
	item := registerFile(t, s, dir, "2024-05-06_10-30-00.wav")
	if _, err := qc.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	gate.SignalComplete()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.run(runCtx, context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.Converted() != 1 {
		select {
		case <-deadline:
			t.Fatal("conversion never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if gate.Complete() {
		t.Error("completion signal not cleared after queue drained")
	}
	if _, err := os.Stat(filepath.Join(dir, "2024-05-06_10-30-00.flac")); err != nil {
		t.Errorf("output not written: %v", err)
	}
}
