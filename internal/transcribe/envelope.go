package transcribe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	envelopeFormat = "sb_execution_envelope_v1"
	envelopeSource = "whisperx_webui"
	adapterLabel   = "tircorder_whisperx_webui_v1"
)

// EnvelopeDoc is the on-disk execution envelope artifact emitted beside a
// WebUI transcript. It is strictly non-semantic: content hashes, counts,
// and provenance, never interpretive labels (no summary, sentiment,
// intent, emotion, diagnosis).
type EnvelopeDoc struct {
	ExecutionEnvelope Envelope       `json:"execution_envelope"`
	SegmentEvents     []SegmentEvent `json:"segment_events"`
}

// Envelope identifies one transcription execution.
type Envelope struct {
	Type         string     `json:"type"`
	ID           string     `json:"id"`
	Format       string     `json:"format"`
	Source       string     `json:"source"`
	Toolchain    Toolchain  `json:"toolchain"`
	AudioHash    string     `json:"audio_hash"`
	SegmentCount int        `json:"segment_count"`
	Provenance   Provenance `json:"provenance"`
	CreatedAt    string     `json:"created_at"`
}

// Toolchain records what produced the transcript.
type Toolchain struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

// Provenance ties the envelope back to its transcript content.
type Provenance struct {
	TranscriptHash string `json:"transcript_hash"`
	Adapter        string `json:"adapter"`
}

// SegmentEvent carries one transcript segment with provenance attached.
type SegmentEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// BuildEnvelope assembles the execution envelope for one transcription.
// The envelope id is derived from the source label and the content hashes,
// so identical inputs produce identical envelopes up to created_at.
func BuildEnvelope(res *Result, audioPath, model string, now time.Time) (*EnvelopeDoc, error) {
	audioHash, err := sha256File(audioPath)
	if err != nil {
		return nil, fmt.Errorf("hash audio: %w", err)
	}

	segMaps := make([]map[string]any, 0, len(res.Segments))
	for _, s := range res.Segments {
		segMaps = append(segMaps, segmentData(s))
	}

	transcriptHash, err := sha256JSON(map[string]any{
		"text":     res.Text,
		"language": res.Language,
		"model":    model,
		"segments": segMaps,
	})
	if err != nil {
		return nil, fmt.Errorf("hash transcript: %w", err)
	}

	idSource := envelopeSource + ":" + transcriptHash + ":" + audioHash
	sum := sha256.Sum256([]byte(idSource))
	envelopeID := hex.EncodeToString(sum[:])

	events := make([]SegmentEvent, 0, len(res.Segments))
	for _, s := range res.Segments {
		data := segmentData(s)
		data["provenance"] = map[string]any{
			"source":      envelopeSource,
			"envelope_id": envelopeID,
		}
		data["audio_hash"] = audioHash
		events = append(events, SegmentEvent{Type: "audio_segment", Data: data})
	}

	return &EnvelopeDoc{
		ExecutionEnvelope: Envelope{
			Type:         "execution_envelope",
			ID:           envelopeID,
			Format:       envelopeFormat,
			Source:       envelopeSource,
			Toolchain:    Toolchain{Model: model, Language: res.Language},
			AudioHash:    audioHash,
			SegmentCount: len(res.Segments),
			Provenance:   Provenance{TranscriptHash: transcriptHash, Adapter: adapterLabel},
			CreatedAt:    now.UTC().Format(time.RFC3339Nano),
		},
		SegmentEvents: events,
	}, nil
}

// segmentData renders one segment as event data: text and timing always,
// speaker and confidence only when present.
func segmentData(s Segment) map[string]any {
	data := map[string]any{
		"text":  s.Text,
		"start": s.Start,
		"end":   s.End,
	}
	if s.Speaker != "" {
		data["speaker"] = s.Speaker
	}
	if s.Confidence != 0 {
		data["confidence"] = s.Confidence
	}
	return data
}

// EnvelopePath returns the artifact location for an audio file's envelope.
func EnvelopePath(audioPath string) string {
	ext := filepath.Ext(audioPath)
	return audioPath[:len(audioPath)-len(ext)] + ".execution_envelope.json"
}

// WriteEnvelope persists the envelope document with stable formatting.
func WriteEnvelope(path string, doc *EnvelopeDoc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sha256JSON hashes the canonical JSON rendering of payload. Map keys
// marshal in sorted order, which is what makes the hash reproducible.
func sha256JSON(payload map[string]any) (string, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
