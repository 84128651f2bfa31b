package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tircorder/tircorder/internal/governor"
	"github.com/tircorder/tircorder/internal/pipeline"
	"github.com/tircorder/tircorder/internal/store"
)

// StatsSource provides the collector access to live pipeline counters.
type StatsSource interface {
	Stats() pipeline.Stats
}

// Collector implements prometheus.Collector, reading live pipeline and
// store state at scrape time instead of keeping parallel counters.
type Collector struct {
	st    *store.Store
	stats StatsSource
	cpu   *governor.CPUMonitor

	transcribeQueue  *prometheus.Desc
	convertQueue     *prometheus.Desc
	transcribing     *prometheus.Desc
	scans            *prometheus.Desc
	admitted         *prometheus.Desc
	transcriptions   *prometheus.Desc
	transcribeFails  *prometheus.Desc
	conversions      *prometheus.Desc
	convertFails     *prometheus.Desc
	perHour          *prometheus.Desc
	perMinute        *prometheus.Desc
	skipRecords      *prometheus.Desc
	knownFiles       *prometheus.Desc
	storeBusyRetries *prometheus.Desc
	storeBacklog     *prometheus.Desc
	cpuUsage         *prometheus.Desc
}

// NewCollector creates a collector over the live pipeline state. st, stats,
// and cpu may each be nil; the corresponding metrics then report 0.
func NewCollector(st *store.Store, stats StatsSource, cpu *governor.CPUMonitor) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		st:               st,
		stats:            stats,
		cpu:              cpu,
		transcribeQueue:  desc("transcribe_queue_depth", "Work items waiting for transcription."),
		convertQueue:     desc("convert_queue_depth", "Work items waiting for conversion."),
		transcribing:     desc("transcribing_active", "1 while a transcription round is in progress."),
		scans:            desc("scan_passes_total", "Completed scanner passes."),
		admitted:         desc("files_admitted_total", "Files admitted by the scanner."),
		transcriptions:   desc("transcriptions_total", "Successful transcriptions."),
		transcribeFails:  desc("transcription_failures_total", "Transcriptions that ended in a skip record."),
		conversions:      desc("conversions_total", "Successful FLAC conversions."),
		convertFails:     desc("conversion_failures_total", "Conversions that ended in a skip record."),
		perHour:          desc("transcriptions_per_hour", "Transcriptions completed in the last hour."),
		perMinute:        desc("transcriptions_per_minute", "Transcriptions completed in the last minute."),
		skipRecords:      desc("skip_records", "Durable skip records awaiting operator action."),
		knownFiles:       desc("known_files", "Files registered in the state store."),
		storeBusyRetries: desc("store_busy_retries_total", "Locked-database retries in the state store."),
		storeBacklog:     desc("store_writer_backlog", "Write requests waiting for the store writer."),
		cpuUsage:         desc("cpu_usage_percent", "Sampled system CPU usage."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transcribeQueue
	ch <- c.convertQueue
	ch <- c.transcribing
	ch <- c.scans
	ch <- c.admitted
	ch <- c.transcriptions
	ch <- c.transcribeFails
	ch <- c.conversions
	ch <- c.convertFails
	ch <- c.perHour
	ch <- c.perMinute
	ch <- c.skipRecords
	ch <- c.knownFiles
	ch <- c.storeBusyRetries
	ch <- c.storeBacklog
	ch <- c.cpuUsage
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var st pipeline.Stats
	if c.stats != nil {
		st = c.stats.Stats()
	}
	active := 0.0
	if st.TranscribingActive {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(c.transcribeQueue, prometheus.GaugeValue, float64(st.TranscribeQueue))
	ch <- prometheus.MustNewConstMetric(c.convertQueue, prometheus.GaugeValue, float64(st.ConvertQueue))
	ch <- prometheus.MustNewConstMetric(c.transcribing, prometheus.GaugeValue, active)
	ch <- prometheus.MustNewConstMetric(c.scans, prometheus.CounterValue, float64(st.Scans))
	ch <- prometheus.MustNewConstMetric(c.admitted, prometheus.CounterValue, float64(st.Admitted))
	ch <- prometheus.MustNewConstMetric(c.transcriptions, prometheus.CounterValue, float64(st.Transcribed))
	ch <- prometheus.MustNewConstMetric(c.transcribeFails, prometheus.CounterValue, float64(st.TranscribeFailed))
	ch <- prometheus.MustNewConstMetric(c.conversions, prometheus.CounterValue, float64(st.Converted))
	ch <- prometheus.MustNewConstMetric(c.convertFails, prometheus.CounterValue, float64(st.ConvertFailed))
	ch <- prometheus.MustNewConstMetric(c.perHour, prometheus.GaugeValue, float64(st.TranscribesPerHour))
	ch <- prometheus.MustNewConstMetric(c.perMinute, prometheus.GaugeValue, float64(st.TranscribesPerMinute))
	ch <- prometheus.MustNewConstMetric(c.storeBusyRetries, prometheus.CounterValue, float64(st.StoreBusyRetries))
	ch <- prometheus.MustNewConstMetric(c.storeBacklog, prometheus.GaugeValue, float64(st.StoreWriterBacklog))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	skips, known := 0, 0
	if c.st != nil {
		if n, err := c.st.SkipCount(ctx); err == nil {
			skips = n
		}
		if n, err := c.st.KnownFileCount(ctx); err == nil {
			known = n
		}
	}
	ch <- prometheus.MustNewConstMetric(c.skipRecords, prometheus.GaugeValue, float64(skips))
	ch <- prometheus.MustNewConstMetric(c.knownFiles, prometheus.GaugeValue, float64(known))

	usage := 0.0
	if c.cpu != nil {
		usage = c.cpu.Usage(ctx)
	}
	ch <- prometheus.MustNewConstMetric(c.cpuUsage, prometheus.GaugeValue, usage)
}
