package governor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// QueryQueueOptions configures a QueryQueue.
type QueryQueueOptions struct {
	Limiter *FixedLimiter // nil means no pacing
	CPU     *CPUMonitor   // nil means no CPU gate
	Size    int           // task buffer; 0 means 64
	Log     zerolog.Logger
}

type queryTask struct {
	name string
	fn   func(context.Context) error
}

// QueryQueue serialises background work through a single worker, gating
// each task on the CPU monitor and the fixed-rate limiter. Tasks are
// fire-and-forget; failures are logged, not returned.
type QueryQueue struct {
	limiter *FixedLimiter
	cpu     *CPUMonitor
	log     zerolog.Logger

	tasks chan queryTask
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	executed atomic.Int64
}

// NewQueryQueue builds a queue from opts.
func NewQueryQueue(opts QueryQueueOptions) *QueryQueue {
	size := opts.Size
	if size <= 0 {
		size = 64
	}
	return &QueryQueue{
		limiter: opts.Limiter,
		cpu:     opts.CPU,
		log:     opts.Log,
		tasks:   make(chan queryTask, size),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Tasks submitted after ctx is
// cancelled are drained without executing.
func (q *QueryQueue) Start(ctx context.Context) {
	go q.worker(ctx)
}

func (q *QueryQueue) worker(ctx context.Context) {
	defer close(q.done)
	for t := range q.tasks {
		if err := q.gate(ctx); err != nil {
			q.log.Debug().Str("task", t.name).Msg("query dropped during shutdown")
			continue
		}
		if err := t.fn(ctx); err != nil {
			q.log.Error().Err(err).Str("task", t.name).Msg("query failed")
		}
		q.executed.Add(1)
	}
}

func (q *QueryQueue) gate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.cpu != nil {
		if err := q.cpu.WaitForSafeUsage(ctx); err != nil {
			return err
		}
	}
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue schedules fn for execution. Returns false when the queue is
// stopped or full.
func (q *QueryQueue) Enqueue(name string, fn func(context.Context) error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- queryTask{name: name, fn: fn}:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for the worker to drain.
func (q *QueryQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}

// Pending reports tasks waiting for the worker.
func (q *QueryQueue) Pending() int { return len(q.tasks) }

// Executed reports how many tasks have run.
func (q *QueryQueue) Executed() int64 { return q.executed.Load() }
