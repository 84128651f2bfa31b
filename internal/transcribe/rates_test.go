package transcribe

import (
	"testing"
	"time"
)

func TestRates_Windows(t *testing.T) {
	base := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	cur := base
	r := NewRates()
	r.now = func() time.Time { return cur }

	r.Record()
	cur = base.Add(30 * time.Minute)
	r.Record()
	cur = base.Add(61 * time.Minute)
	r.Record()

	// First completion is now older than an hour.
	if got := r.PerHour(); got != 2 {
		t.Errorf("PerHour = %d, want 2", got)
	}
	if got := r.PerMinute(); got != 1 {
		t.Errorf("PerMinute = %d, want 1", got)
	}
}

func TestRates_ExactBoundaryExpires(t *testing.T) {
	base := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	cur := base
	r := NewRates()
	r.now = func() time.Time { return cur }

	r.Record()
	cur = base.Add(time.Hour)
	if got := r.PerHour(); got != 0 {
		t.Errorf("PerHour = %d, want 0 at the window edge", got)
	}
}

func TestRates_Empty(t *testing.T) {
	r := NewRates()
	if r.PerHour() != 0 || r.PerMinute() != 0 {
		t.Error("fresh Rates should report zero")
	}
}
