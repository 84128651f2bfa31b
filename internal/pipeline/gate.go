package pipeline

import (
	"context"
	"sync"
	"time"
)

// Gate coordinates the transcriber and converter stages. Conversion may
// proceed only after a completed transcription cycle, or when the
// transcriber is idle with nothing queued; transcription always has
// priority on CPU-bound backends.
type Gate struct {
	mu       sync.Mutex
	active   bool
	complete bool
	notify   chan struct{}
}

func NewGate() *Gate {
	return &Gate{notify: make(chan struct{}, 1)}
}

// SetTranscribing marks transcription work in flight (or idle).
func (g *Gate) SetTranscribing(on bool) {
	g.mu.Lock()
	g.active = on
	g.mu.Unlock()
	g.wake()
}

// SignalComplete marks a transcription cycle finished, releasing the
// converter.
func (g *Gate) SignalComplete() {
	g.mu.Lock()
	g.active = false
	g.complete = true
	g.mu.Unlock()
	g.wake()
}

// ClearComplete consumes the completion signal once the convert queue
// drains, closing the cycle.
func (g *Gate) ClearComplete() {
	g.mu.Lock()
	g.complete = false
	g.mu.Unlock()
}

// TranscribingActive reports whether transcription work is in flight.
func (g *Gate) TranscribingActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Complete reports whether a finished cycle is waiting to be consumed.
func (g *Gate) Complete() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.complete
}

// WaitReady blocks until conversion may proceed: a completed cycle, or an
// idle transcriber with transcribeIdle reporting an empty queue. The idle
// probe runs outside the gate lock.
func (g *Gate) WaitReady(ctx context.Context, transcribeIdle func() bool) error {
	for {
		g.mu.Lock()
		complete, active := g.complete, g.active
		g.mu.Unlock()
		if complete || (!active && transcribeIdle()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.notify:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (g *Gate) wake() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}
