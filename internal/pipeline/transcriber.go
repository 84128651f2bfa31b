package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/audio"
	"github.com/tircorder/tircorder/internal/governor"
	"github.com/tircorder/tircorder/internal/store"
	"github.com/tircorder/tircorder/internal/transcribe"
)

// Transcriber drains the transcribe queue through the configured backend,
// writes transcript artifacts, and hands finished WAVs to the converter.
type Transcriber struct {
	st      *store.Store
	qt      *Queue
	qc      *Queue
	gate    *Gate
	backend transcribe.Backend
	cpu     *governor.CPUMonitor
	rates   *transcribe.Rates
	log     zerolog.Logger

	emitEnvelope  bool
	envelopeModel string

	processed atomic.Int64
	failed    atomic.Int64
}

type TranscriberOptions struct {
	Store      *store.Store
	Transcribe *Queue
	Convert    *Queue
	Gate       *Gate
	Backend    transcribe.Backend
	CPU        *governor.CPUMonitor

	// EmitEnvelope writes the execution-envelope artifact beside WebUI
	// transcripts. EnvelopeModel labels the toolchain in the envelope.
	EmitEnvelope  bool
	EnvelopeModel string

	Log zerolog.Logger
}

func NewTranscriber(opts TranscriberOptions) *Transcriber {
	cpu := opts.CPU
	if cpu == nil {
		cpu = governor.NewCPUMonitor(governor.CPUMonitorOptions{})
	}
	return &Transcriber{
		st:            opts.Store,
		qt:            opts.Transcribe,
		qc:            opts.Convert,
		gate:          opts.Gate,
		backend:       opts.Backend,
		cpu:           cpu,
		rates:         transcribe.NewRates(),
		log:           opts.Log.With().Str("component", "transcriber").Logger(),
		emitEnvelope:  opts.EmitEnvelope,
		envelopeModel: opts.EnvelopeModel,
	}
}

// Processed reports successful transcriptions since start.
func (t *Transcriber) Processed() int64 { return t.processed.Load() }

// Failed reports skip-recorded transcriptions since start.
func (t *Transcriber) Failed() int64 { return t.failed.Load() }

// Rates exposes the rolling completion counters.
func (t *Transcriber) Rates() *transcribe.Rates { return t.rates }

// run consumes the queue until runCtx ends. drainCtx covers the in-flight
// item during shutdown: backend calls keep running under it through the
// grace period, so a popped item can finish after runCtx is cancelled.
func (t *Transcriber) run(runCtx, drainCtx context.Context) {
	for {
		item, ok := t.qt.Pop(runCtx)
		if !ok {
			t.gate.SetTranscribing(false)
			return
		}
		t.gate.SetTranscribing(true)
		t.processItem(drainCtx, item)
		if t.qt.Depth() == 0 {
			t.gate.SignalComplete()
			t.log.Info().Int64("processed", t.processed.Load()).Msg("Transcribe queue drained")
		}
	}
}

func (t *Transcriber) processItem(ctx context.Context, item store.WorkItem) {
	path, err := audio.ResolveItem(ctx, t.st, item)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.log.Error().Err(err).Str("file", item.FileName).Msg("Cannot resolve queued file")
		t.qt.Nack(ctx, item, store.ReasonTranscriptionFailed)
		t.failed.Add(1)
		return
	}

	if !audio.IsAudio(audio.Ext(item.FileName)) {
		t.log.Info().Str("file", path).Msg("Skipping non-audio queue item")
		t.qt.Ack(ctx, item)
		return
	}

	if err := t.cpu.WaitForSafeUsage(ctx); err != nil {
		return
	}

	start := time.Now()
	t.log.Info().Str("file", path).Str("backend", t.backend.Name()).Msg("Transcribing")

	res, err := t.backend.Transcribe(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown grace expired mid-call; the durable row stays
			// queued and the snapshot carries it to the next run.
			t.log.Warn().Str("file", path).Msg("Transcription interrupted by shutdown")
			return
		}
		reason := store.ReasonTranscriptionFailed
		var skip *transcribe.SkipError
		if errors.As(err, &skip) {
			reason = skip.Reason
		}
		t.log.Error().Err(err).Str("file", path).Str("reason", reason).Msg("Transcription failed")
		t.qt.Nack(ctx, item, reason)
		t.failed.Add(1)
		return
	}

	txtPath := transcriptPath(path)
	if err := os.WriteFile(txtPath, []byte(res.Text), 0o644); err != nil {
		t.log.Error().Err(err).Str("file", txtPath).Msg("Cannot write transcript")
		t.qt.Nack(ctx, item, store.ReasonTranscriptionOutput)
		t.failed.Add(1)
		return
	}

	if t.emitEnvelope && t.backend.Name() == "webui" {
		t.writeEnvelope(path, res)
	}

	if info, err := t.st.ResolveFile(ctx, item.KnownFileID); err == nil {
		t.recordArtifacts(ctx, info, txtPath)
		t.handoff(ctx, item, info.FolderID, path)
	} else {
		t.log.Warn().Err(err).Int64("known_file_id", item.KnownFileID).Msg("Cannot load known file for pairing")
	}

	t.qt.Ack(ctx, item)
	t.processed.Add(1)
	t.rates.Record()

	elapsed := time.Since(start)
	evt := t.log.Info().
		Str("file", item.FileName).
		Dur("elapsed", elapsed).
		Int("converts_waiting", t.qc.Depth()).
		Int("transcribes_left", t.qt.Depth()).
		Int("per_hour", t.rates.PerHour()).
		Int("per_minute", t.rates.PerMinute())
	if res.Duration > 0 {
		evt = evt.Float64("audio_seconds", res.Duration).
			Float64("real_time_factor", elapsed.Seconds()/res.Duration)
	}
	evt.Msg("Transcription completed")
}

// recordArtifacts registers the transcript artifact under its own known
// file and pairs it with the source audio.
func (t *Transcriber) recordArtifacts(ctx context.Context, info store.FileInfo, txtPath string) {
	var mtime int64
	if fi, err := os.Stat(txtPath); err == nil {
		mtime = fi.ModTime().Unix()
	}

	txtName := filepath.Base(txtPath)
	txtID, err := t.st.UpsertKnownFile(ctx, info.FolderID, txtName, ".txt", info.Datetimes)
	if err != nil {
		t.log.Warn().Err(err).Str("file", txtName).Msg("Cannot register transcript")
		return
	}
	if err := t.st.NoteTranscript(ctx, txtID, mtime); err != nil {
		t.log.Warn().Err(err).Str("file", txtName).Msg("Cannot note transcript artifact")
		return
	}

	audioID, err := t.st.AudioFileID(ctx, info.KnownFileID)
	if err != nil {
		// No audio artifact row yet; revalidation pairs them later.
		return
	}
	transcriptID, err := t.st.TranscriptFileID(ctx, txtID)
	if err != nil {
		return
	}
	if err := t.st.RecordPair(ctx, audioID, transcriptID); err != nil {
		t.log.Warn().Err(err).Msg("Cannot record matched pair")
	}
}

// handoff puts a finished WAV on the convert queue. The durable queue
// dedups against the admission-time enqueue, so a double offer is a no-op.
func (t *Transcriber) handoff(ctx context.Context, item store.WorkItem, folderID int64, path string) {
	if audio.Ext(item.FileName) != ".wav" || audio.HasFlacSibling(path) {
		return
	}
	folder, err := t.st.Folder(ctx, folderID)
	if err != nil || folder.IgnoreConverting {
		return
	}
	if added, err := t.qc.Enqueue(ctx, item); err != nil {
		t.log.Warn().Err(err).Str("file", item.FileName).Msg("Cannot enqueue conversion")
	} else if added {
		t.log.Info().Str("file", item.FileName).Msg("File added to conversion queue")
	}
}

func (t *Transcriber) writeEnvelope(audioPath string, res *transcribe.Result) {
	doc, err := transcribe.BuildEnvelope(res, audioPath, t.envelopeModel, time.Now())
	if err != nil {
		t.log.Warn().Err(err).Str("file", audioPath).Msg("Envelope build failed")
		return
	}
	path := transcribe.EnvelopePath(audioPath)
	if err := transcribe.WriteEnvelope(path, doc); err != nil {
		t.log.Warn().Err(err).Str("file", path).Msg("Envelope write failed")
		return
	}
	t.log.Debug().Str("file", path).Msg("Execution envelope written")
}

func transcriptPath(audioPath string) string {
	ext := filepath.Ext(audioPath)
	return audioPath[:len(audioPath)-len(ext)] + ".txt"
}
