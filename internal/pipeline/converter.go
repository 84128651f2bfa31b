package pipeline

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/audio"
	"github.com/tircorder/tircorder/internal/convert"
	"github.com/tircorder/tircorder/internal/store"
)

const (
	// A popped conversion waits for the transcriber this many times, this
	// long apart, before going back on the queue.
	maxActiveChecks   = 5
	defaultRetryPause = 10 * time.Second
)

// Converter drains the convert queue once the transcriber yields, encoding
// WAVs to FLAC and registering the results.
type Converter struct {
	st   *store.Store
	qc   *Queue
	qt   *Queue
	gate *Gate
	enc  *convert.Converter
	log  zerolog.Logger

	// mu serialises encoder invocations even if a maintenance command
	// shares the encoder with the running pipeline.
	mu         sync.Mutex
	retryPause time.Duration
	maxChecks  int

	converted atomic.Int64
	failed    atomic.Int64
}

type ConverterOptions struct {
	Store      *store.Store
	Convert    *Queue
	Transcribe *Queue
	Gate       *Gate
	Encoder    *convert.Converter
	RetryPause time.Duration
	MaxChecks  int
	Log        zerolog.Logger
}

func NewConverter(opts ConverterOptions) *Converter {
	pause := opts.RetryPause
	if pause <= 0 {
		pause = defaultRetryPause
	}
	checks := opts.MaxChecks
	if checks <= 0 {
		checks = maxActiveChecks
	}
	return &Converter{
		st:         opts.Store,
		qc:         opts.Convert,
		qt:         opts.Transcribe,
		gate:       opts.Gate,
		enc:        opts.Encoder,
		log:        opts.Log.With().Str("component", "converter").Logger(),
		retryPause: pause,
		maxChecks:  checks,
	}
}

// Converted reports successful conversions since start.
func (c *Converter) Converted() int64 { return c.converted.Load() }

// Failed reports skip-recorded conversions since start.
func (c *Converter) Failed() int64 { return c.failed.Load() }

// run consumes the queue until runCtx ends. Each pass waits at the gate
// first: conversions only proceed when a transcription round completed or
// the transcriber is idle with nothing queued.
func (c *Converter) run(runCtx, drainCtx context.Context) {
	transcribeIdle := func() bool { return c.qt.Depth() == 0 }
	for {
		if err := c.gate.WaitReady(runCtx, transcribeIdle); err != nil {
			return
		}
		item, ok := c.qc.Pop(runCtx)
		if !ok {
			return
		}
		if !c.awaitTranscriberIdle(runCtx) {
			// Shutting down, or the transcriber reclaimed the lane;
			// either way the item goes back for a later pass.
			c.qc.Offer(item)
			if runCtx.Err() != nil {
				return
			}
			continue
		}
		c.processItem(drainCtx, item)
		if c.qc.Depth() == 0 {
			c.gate.ClearComplete()
			c.log.Info().Int64("converted", c.converted.Load()).
				Msg("All conversion tasks completed, entering housekeeping mode")
		}
	}
}

// awaitTranscriberIdle holds a popped item while the transcriber is busy.
// Reports false when the converter should give the item back instead of
// processing it.
func (c *Converter) awaitTranscriberIdle(ctx context.Context) bool {
	for attempt := 1; c.gate.TranscribingActive(); attempt++ {
		if attempt > c.maxChecks {
			c.log.Warn().Msg("Transcription still active, returning conversion to queue")
			return false
		}
		c.log.Warn().Int("attempt", attempt).Msg("Transcription in progress, delaying conversion")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryPause):
		}
	}
	return true
}

func (c *Converter) processItem(ctx context.Context, item store.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := audio.ResolveItem(ctx, c.st, item)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error().Err(err).Str("file", item.FileName).Msg("File paths not found in the database, skipping conversion")
		c.qc.Ack(ctx, item)
		return
	}

	if audio.HasFlacSibling(path) {
		c.log.Info().Str("file", path).Msg("FLAC already exists, skipping conversion")
		c.qc.Ack(ctx, item)
		return
	}

	out, err := c.enc.Convert(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown grace expired mid-encode; the durable row stays
			// queued for the next run.
			c.log.Warn().Str("file", path).Msg("Conversion interrupted by shutdown")
			return
		}
		c.log.Error().Err(err).Str("file", path).Msg("Conversion failed")
		c.qc.Nack(ctx, item, store.ReasonConversionFailed)
		c.failed.Add(1)
		return
	}

	c.recordArtifact(ctx, item, out)
	c.qc.Ack(ctx, item)
	c.converted.Add(1)
	c.log.Info().Str("file", path).Str("output", out).Int("converts_left", c.qc.Depth()).
		Msg("Conversion completed")
}

// recordArtifact registers the FLAC under its own known file so the index
// covers converted outputs as well as captures.
func (c *Converter) recordArtifact(ctx context.Context, item store.WorkItem, out string) {
	info, err := c.st.ResolveFile(ctx, item.KnownFileID)
	if err != nil {
		c.log.Warn().Err(err).Int64("known_file_id", item.KnownFileID).Msg("Cannot load known file for output registration")
		return
	}
	var mtime int64
	if fi, err := os.Stat(out); err == nil {
		mtime = fi.ModTime().Unix()
	}
	flacName := audio.Stem(item.FileName) + ".flac"
	id, err := c.st.UpsertKnownFile(ctx, info.FolderID, flacName, ".flac", info.Datetimes)
	if err != nil {
		c.log.Warn().Err(err).Str("file", flacName).Msg("Cannot register conversion output")
		return
	}
	if err := c.st.NoteAudio(ctx, id, mtime); err != nil {
		c.log.Warn().Err(err).Str("file", flacName).Msg("Cannot note conversion output")
	}
}
