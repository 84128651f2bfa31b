package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/convert"
	"github.com/tircorder/tircorder/internal/governor"
	"github.com/tircorder/tircorder/internal/store"
	"github.com/tircorder/tircorder/internal/transcribe"
)

const (
	defaultDrainGrace = 10 * time.Second
	statsInterval     = 60 * time.Second
	snapshotTimeout   = 30 * time.Second
)

// Options configures a Pipeline.
type Options struct {
	Store   *store.Store
	Backend transcribe.Backend
	Encoder *convert.Converter
	CPU     *governor.CPUMonitor

	// SnapshotPath receives the queue/skip snapshot on shutdown and after
	// idle stretches. Empty disables snapshot export.
	SnapshotPath string

	ScanInterval time.Duration
	ScanBatch    int
	DrainGrace   time.Duration

	// QueryPace spaces background store queries (snapshot exports and the
	// like). Zero means unpaced.
	QueryPace time.Duration

	// EmitEnvelope writes execution envelopes beside WebUI transcripts.
	EmitEnvelope  bool
	EnvelopeModel string

	// Watch registers the recording folders with fsnotify so new files
	// wake the scanner ahead of the next periodic pass.
	Watch bool

	ConvertRetryPause time.Duration
	ConvertChecks     int

	Log zerolog.Logger
}

// Pipeline owns the scan, transcribe, and convert workers and the shared
// queues between them. One worker per stage; ordering between stages is
// enforced by the gate, not by pool sizing.
type Pipeline struct {
	st      *store.Store
	qt      *Queue
	qc      *Queue
	gate    *Gate
	scanner *Scanner
	trans   *Transcriber
	conv    *Converter
	watcher *Watcher
	queries *governor.QueryQueue
	log     zerolog.Logger

	snapshotPath string
	drainGrace   time.Duration

	runCancel   context.CancelFunc
	drainCancel context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// New wires the pipeline stages together. Start must be called before any
// work happens.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("pipeline: transcription backend is required")
	}
	if opts.Encoder == nil {
		return nil, errors.New("pipeline: encoder is required")
	}

	log := opts.Log.With().Str("component", "pipeline").Logger()

	cpu := opts.CPU
	if cpu == nil {
		cpu = governor.NewCPUMonitor(governor.CPUMonitorOptions{Log: opts.Log})
	}

	grace := opts.DrainGrace
	if grace <= 0 {
		grace = defaultDrainGrace
	}

	qt := NewQueue(opts.Store, store.QueueTranscribe, opts.Log)
	qc := NewQueue(opts.Store, store.QueueConvert, opts.Log)
	gate := NewGate()

	queries := governor.NewQueryQueue(governor.QueryQueueOptions{
		Limiter: governor.NewFixedLimiter(opts.QueryPace),
		CPU:     cpu,
		Log:     opts.Log.With().Str("component", "queryqueue").Logger(),
	})

	scanner := NewScanner(ScannerOptions{
		Store:        opts.Store,
		Transcribe:   qt,
		Convert:      qc,
		Queries:      queries,
		SnapshotPath: opts.SnapshotPath,
		Interval:     opts.ScanInterval,
		BatchSize:    opts.ScanBatch,
		Log:          opts.Log,
	})

	trans := NewTranscriber(TranscriberOptions{
		Store:         opts.Store,
		Transcribe:    qt,
		Convert:       qc,
		Gate:          gate,
		Backend:       opts.Backend,
		CPU:           cpu,
		EmitEnvelope:  opts.EmitEnvelope,
		EnvelopeModel: opts.EnvelopeModel,
		Log:           opts.Log,
	})

	conv := NewConverter(ConverterOptions{
		Store:      opts.Store,
		Convert:    qc,
		Transcribe: qt,
		Gate:       gate,
		Encoder:    opts.Encoder,
		RetryPause: opts.ConvertRetryPause,
		MaxChecks:  opts.ConvertChecks,
		Log:        opts.Log,
	})

	p := &Pipeline{
		st:           opts.Store,
		qt:           qt,
		qc:           qc,
		gate:         gate,
		scanner:      scanner,
		trans:        trans,
		conv:         conv,
		queries:      queries,
		log:          log,
		snapshotPath: opts.SnapshotPath,
		drainGrace:   grace,
	}
	if opts.Watch {
		p.watcher = NewWatcher(scanner, opts.Log)
	}
	return p, nil
}

// Start rehydrates the queues from the store and launches the workers.
// ctx covers startup only; shutdown is driven by Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	nt, err := p.qt.Rehydrate(ctx)
	if err != nil {
		return err
	}
	nc, err := p.qc.Rehydrate(ctx)
	if err != nil {
		return err
	}
	if err := p.scanner.Seed(ctx); err != nil {
		return err
	}
	p.log.Info().Int("transcribe_queue", nt).Int("convert_queue", nc).Msg("Queues rehydrated from store")

	runCtx, runCancel := context.WithCancel(context.Background())
	drainCtx, drainCancel := context.WithCancel(context.Background())
	p.runCancel = runCancel
	p.drainCancel = drainCancel

	p.queries.Start(drainCtx)

	if p.watcher != nil {
		folders, err := p.st.Folders(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("Cannot list folders for watching")
		} else {
			paths := make([]string, 0, len(folders))
			for _, f := range folders {
				paths = append(paths, f.Path)
			}
			if err := p.watcher.Start(runCtx, paths); err != nil {
				p.log.Warn().Err(err).Msg("File watching disabled")
				p.watcher = nil
			}
		}
	}

	p.wg.Add(4)
	go func() {
		defer p.wg.Done()
		p.scanner.run(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.trans.run(runCtx, drainCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.conv.run(runCtx, drainCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.statsLoop(runCtx)
	}()

	p.started = true
	p.log.Info().Bool("watch", p.watcher != nil).Msg("Pipeline started")
	return nil
}

// Stop shuts the pipeline down in two phases: stop admitting and popping
// work, give in-flight items the drain grace, then cut them off, export
// the state snapshot, and stop the query worker.
func (p *Pipeline) Stop() {
	if !p.started {
		return
	}
	p.started = false
	p.log.Info().Msg("Pipeline shutting down")

	p.runCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.drainGrace):
		p.log.Warn().Dur("grace", p.drainGrace).Msg("Drain grace expired, cancelling in-flight work")
		p.drainCancel()
		<-done
	}
	p.drainCancel()

	if p.watcher != nil {
		p.watcher.Stop()
	}

	if p.snapshotPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		snap, err := p.st.ExportSnapshot(ctx, p.snapshotPath)
		cancel()
		if err != nil {
			p.log.Error().Err(err).Msg("Cannot export shutdown snapshot")
		} else {
			p.log.Info().
				Int("transcribe_queue", len(snap.TranscribeQueue)).
				Int("convert_queue", len(snap.ConvertQueue)).
				Int("skips", len(snap.Skips)).
				Msg("Shutdown snapshot exported")
		}
	}

	p.queries.Stop()

	p.log.Info().
		Int64("transcribed", p.trans.Processed()).
		Int64("converted", p.conv.Converted()).
		Msg("Pipeline stopped")
}

func (p *Pipeline) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int("transcribe_queue", p.qt.Depth()).
				Int("convert_queue", p.qc.Depth()).
				Int64("scans", p.scanner.Scans()).
				Int64("admitted", p.scanner.Admitted()).
				Int64("transcribed", p.trans.Processed()).
				Int64("transcribe_failed", p.trans.Failed()).
				Int64("converted", p.conv.Converted()).
				Int64("convert_failed", p.conv.Failed()).
				Bool("transcribing_active", p.gate.TranscribingActive()).
				Int64("store_busy_retries", p.st.BusyRetries()).
				Int("store_writer_backlog", p.st.WriterBacklog()).
				Msg("Pipeline stats")
		}
	}
}

// Stats is a point-in-time view of the pipeline counters, consumed by the
// HTTP API and the metrics collector.
type Stats struct {
	TranscribeQueue      int   `json:"transcribe_queue"`
	ConvertQueue         int   `json:"convert_queue"`
	Scans                int64 `json:"scans"`
	Admitted             int64 `json:"admitted"`
	Transcribed          int64 `json:"transcribed"`
	TranscribeFailed     int64 `json:"transcribe_failed"`
	Converted            int64 `json:"converted"`
	ConvertFailed        int64 `json:"convert_failed"`
	TranscribingActive   bool  `json:"transcribing_active"`
	TranscribesPerHour   int   `json:"transcribes_per_hour"`
	TranscribesPerMinute int   `json:"transcribes_per_minute"`
	StoreBusyRetries     int64 `json:"store_busy_retries"`
	StoreWriterBacklog   int   `json:"store_writer_backlog"`
}

// Stats implements the status source consumed by the api package.
func (p *Pipeline) Stats() Stats {
	return Stats{
		TranscribeQueue:      p.qt.Depth(),
		ConvertQueue:         p.qc.Depth(),
		Scans:                p.scanner.Scans(),
		Admitted:             p.scanner.Admitted(),
		Transcribed:          p.trans.Processed(),
		TranscribeFailed:     p.trans.Failed(),
		Converted:            p.conv.Converted(),
		ConvertFailed:        p.conv.Failed(),
		TranscribingActive:   p.gate.TranscribingActive(),
		TranscribesPerHour:   p.trans.Rates().PerHour(),
		TranscribesPerMinute: p.trans.Rates().PerMinute(),
		StoreBusyRetries:     p.st.BusyRetries(),
		StoreWriterBacklog:   p.st.WriterBacklog(),
	}
}

// Kick wakes the scanner out of its inter-pass sleep, used by the API's
// rescan trigger.
func (p *Pipeline) Kick() { p.scanner.Kick() }
