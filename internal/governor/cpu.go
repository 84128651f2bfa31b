package governor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// SampleFunc returns current system-wide CPU usage in percent.
type SampleFunc func(ctx context.Context) (float64, error)

// CPUMonitorOptions configures a CPUMonitor.
type CPUMonitorOptions struct {
	MaxPercent    float64       // throttle threshold; 0 means 85
	CheckInterval time.Duration // recheck cadence while throttling; 0 means 500ms
	Sample        SampleFunc    // nil means system-wide sampling via gopsutil
	Log           zerolog.Logger
}

// CPUMonitor watches system CPU usage and blocks task dispatch while usage
// sits above the threshold. On platforms where sampling fails it degrades
// to always-safe instead of blocking the pipeline.
type CPUMonitor struct {
	max      float64
	interval time.Duration
	sample   SampleFunc
	log      zerolog.Logger
}

// NewCPUMonitor builds a monitor from opts.
func NewCPUMonitor(opts CPUMonitorOptions) *CPUMonitor {
	if opts.MaxPercent <= 0 {
		opts.MaxPercent = 85
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 500 * time.Millisecond
	}
	if opts.Sample == nil {
		opts.Sample = systemCPUPercent
	}
	return &CPUMonitor{
		max:      opts.MaxPercent,
		interval: opts.CheckInterval,
		sample:   opts.Sample,
		log:      opts.Log,
	}
}

// WaitForSafeUsage blocks until CPU usage drops below the threshold,
// emitting a visible notice per throttle cycle.
func (m *CPUMonitor) WaitForSafeUsage(ctx context.Context) error {
	for {
		usage, err := m.sample(ctx)
		if err != nil {
			m.log.Debug().Err(err).Msg("cpu sampling unavailable, treating as safe")
			return nil
		}
		if usage < m.max {
			return nil
		}
		m.log.Info().
			Float64("usage_percent", usage).
			Float64("limit_percent", m.max).
			Msg("cpu usage exceeds limit, throttling")

		t := time.NewTimer(m.interval)
		select {
		case <-t.C:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Usage returns the current sampled CPU percentage, or 0 when sampling is
// unavailable. Used by status surfaces only.
func (m *CPUMonitor) Usage(ctx context.Context) float64 {
	usage, err := m.sample(ctx)
	if err != nil {
		return 0
	}
	return usage
}

func systemCPUPercent(ctx context.Context) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return vals[0], nil
}
