//go:build cgo

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/wav"
	"github.com/tircorder/tircorder/internal/config"
	"github.com/tircorder/tircorder/internal/store"
)

// LocalClient runs Whisper-family models in process through the whisper.cpp
// bindings. The model is loaded once and reused for every file; inference
// contexts are created per call because they are not goroutine-safe.
type LocalClient struct {
	model    whisperlib.Model
	language string
	name     string
}

// NewLocalClient loads the model weights named in the settings document.
// name is the configured method label, kept for logs and provenance.
func NewLocalClient(name string, cfg config.Local) (*LocalClient, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("local backend: transcription.local.model_path is not configured")
	}
	model, err := whisperlib.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", cfg.ModelPath, err)
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &LocalClient{model: model, language: language, name: name}, nil
}

func (c *LocalClient) Name() string { return c.name }

// Close releases the model.
func (c *LocalClient) Close() error { return c.model.Close() }

// Transcribe decodes the file into 16 kHz mono samples and runs inference,
// collecting timestamped segments. Inference is not cancellable mid-call;
// ctx is only checked before work starts.
func (c *LocalClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := readWavSamples(audioPath)
	if err != nil {
		return nil, err
	}

	wctx, err := c.model.NewContext()
	if err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}
	if err := wctx.SetLanguage(c.language); err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}

	var segs []Segment
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
		}
		segs = append(segs, Segment{
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start.Seconds(),
			End:   s.End.Seconds(),
		})
	}

	var duration float64
	if len(segs) > 0 {
		duration = segs[len(segs)-1].End
	}
	return &Result{
		Text:     FormatSegments(segs),
		Language: c.language,
		Duration: duration,
		Segments: segs,
	}, nil
}

// readWavSamples decodes a RIFF/WAV file into the float32 samples
// whisper.cpp expects. Input must already be 16 kHz mono.
func readWavSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &SkipError{Reason: store.ReasonIncorrectAudioShape, Err: err}
	}
	if dec.NumChans != 1 || dec.SampleRate != whisperlib.SampleRate {
		return nil, &SkipError{
			Reason: store.ReasonIncorrectAudioShape,
			Err:    fmt.Errorf("want %d Hz mono, got %d Hz %d ch", whisperlib.SampleRate, dec.SampleRate, dec.NumChans),
		}
	}
	return buf.AsFloat32Buffer().Data, nil
}
