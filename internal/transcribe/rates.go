package transcribe

import (
	"sync"
	"time"
)

// Rates tracks transcription completions over rolling one-minute and
// one-hour windows for throughput logging.
type Rates struct {
	mu    sync.Mutex
	times []time.Time
	now   func() time.Time
}

func NewRates() *Rates {
	return &Rates{now: time.Now}
}

// Record notes one completed transcription.
func (r *Rates) Record() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.times = append(r.times, now)
	r.prune(now)
}

// PerHour returns the number of completions in the trailing hour.
func (r *Rates) PerHour() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.times)
}

// PerMinute returns the number of completions in the trailing minute.
func (r *Rates) PerMinute() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)
	cutoff := now.Add(-time.Minute)
	n := 0
	for i := len(r.times) - 1; i >= 0; i-- {
		if !r.times[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// prune drops completions older than one hour. Callers hold mu.
func (r *Rates) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(r.times) && !r.times[i].After(cutoff) {
		i++
	}
	r.times = r.times[i:]
}
