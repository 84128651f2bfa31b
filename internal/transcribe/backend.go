package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/tircorder/tircorder/internal/store"
)

// Backend is the interface for speech-to-text engines.
type Backend interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	Name() string // "ctranslate2", "webui"
}

// Result is the common transcription result from any backend.
type Result struct {
	Text     string  // canonical transcript, ready to write to disk
	Language string
	Duration float64   // audio duration in seconds, 0 when unknown
	Segments []Segment // nil when the backend reports plain text only
}

// Segment is a timestamped span of transcript text.
type Segment struct {
	Text       string
	Start      float64 // seconds
	End        float64 // seconds
	Speaker    string
	Confidence float64
}

// SkipError is a transcription failure that should be recorded durably
// under a specific reason code rather than retried.
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SkipError) Unwrap() error { return e.Err }

// WebUIError builds the composed webui reason code from a failure detail.
func WebUIError(detail string, err error) *SkipError {
	return &SkipError{Reason: store.ReasonWebUIError + detail, Err: err}
}

// FormatSegments renders the canonical transcript string for timestamped
// segments: one "[<start>s -> <end>s] <text>" line per segment, bare text
// when a segment carries no timing.
func FormatSegments(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if s.Start > 0 || s.End > 0 {
			fmt.Fprintf(&b, "[%.2fs -> %.2fs] %s", s.Start, s.End, text)
		} else {
			b.WriteString(text)
		}
	}
	return b.String()
}
