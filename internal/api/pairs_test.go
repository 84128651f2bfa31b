package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/tircorder/tircorder/internal/store"
)

func seedKnownFile(t *testing.T, s *store.Store, folder, name, datetimes string) int64 {
	t.Helper()
	ctx := context.Background()
	folderID, err := s.UpsertFolder(ctx, folder, false, false)
	if err != nil {
		t.Fatalf("UpsertFolder: %v", err)
	}
	id, err := s.UpsertKnownFile(ctx, folderID, name, filepath.Ext(name), datetimes)
	if err != nil {
		t.Fatalf("UpsertKnownFile: %v", err)
	}
	return id
}

func seedAudio(t *testing.T, s *store.Store, folder, name, datetimes string) int64 {
	t.Helper()
	ctx := context.Background()
	kf := seedKnownFile(t, s, folder, name, datetimes)
	if err := s.NoteAudio(ctx, kf, time.Now().Unix()); err != nil {
		t.Fatalf("NoteAudio: %v", err)
	}
	id, err := s.AudioFileID(ctx, kf)
	if err != nil {
		t.Fatalf("AudioFileID: %v", err)
	}
	return id
}

func seedTranscript(t *testing.T, s *store.Store, folder, name, datetimes string) int64 {
	t.Helper()
	ctx := context.Background()
	kf := seedKnownFile(t, s, folder, name, datetimes)
	if err := s.NoteTranscript(ctx, kf, time.Now().Unix()); err != nil {
		t.Fatalf("NoteTranscript: %v", err)
	}
	id, err := s.TranscriptFileID(ctx, kf)
	if err != nil {
		t.Fatalf("TranscriptFileID: %v", err)
	}
	return id
}

func seedPair(t *testing.T, s *store.Store, folder, stamp string) {
	t.Helper()
	audioID := seedAudio(t, s, folder, stamp+".wav", stamp)
	transcriptID := seedTranscript(t, s, folder, stamp+".txt", stamp)
	if err := s.RecordPair(context.Background(), audioID, transcriptID); err != nil {
		t.Fatalf("RecordPair: %v", err)
	}
}

func TestListPairs(t *testing.T) {
	type pairsResponse struct {
		Pairs  []store.Pair `json:"pairs"`
		Total  int          `json:"total"`
		Limit  int          `json:"limit"`
		Offset int          `json:"offset"`
	}

	t.Run("empty", func(t *testing.T) {
		h := NewPairsHandler(newTestStore(t))
		rec := httptest.NewRecorder()
		h.ListPairs(rec, httptest.NewRequest("GET", "/pairs", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp pairsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("total = %d, want 0", resp.Total)
		}
	})

	t.Run("lists_matched_pair", func(t *testing.T) {
		s := newTestStore(t)
		seedPair(t, s, "/rec", "2024-05-06_10-30-00")

		h := NewPairsHandler(s)
		rec := httptest.NewRecorder()
		h.ListPairs(rec, httptest.NewRequest("GET", "/pairs", nil))

		var resp pairsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if resp.Total != 1 || len(resp.Pairs) != 1 {
			t.Fatalf("total = %d, pairs = %d, want 1/1", resp.Total, len(resp.Pairs))
		}
		p := resp.Pairs[0]
		if p.AudioName != "2024-05-06_10-30-00.wav" {
			t.Errorf("AudioName = %q", p.AudioName)
		}
		if p.TranscriptName != "2024-05-06_10-30-00.txt" {
			t.Errorf("TranscriptName = %q", p.TranscriptName)
		}
		if p.FolderPath != "/rec" {
			t.Errorf("FolderPath = %q, want /rec", p.FolderPath)
		}
	})

	t.Run("paginates", func(t *testing.T) {
		s := newTestStore(t)
		seedPair(t, s, "/rec", "2024-05-06_10-30-00")
		seedPair(t, s, "/rec", "2024-05-06_10-31-00")
		seedPair(t, s, "/rec", "2024-05-06_10-32-00")

		h := NewPairsHandler(s)
		rec := httptest.NewRecorder()
		h.ListPairs(rec, httptest.NewRequest("GET", "/pairs?limit=2", nil))

		var resp pairsResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Total != 3 || len(resp.Pairs) != 2 {
			t.Fatalf("total = %d, pairs = %d, want 3/2", resp.Total, len(resp.Pairs))
		}

		rec = httptest.NewRecorder()
		h.ListPairs(rec, httptest.NewRequest("GET", "/pairs?limit=2&offset=2", nil))
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Pairs) != 1 {
			t.Fatalf("pairs = %d, want 1", len(resp.Pairs))
		}
		if resp.Offset != 2 {
			t.Errorf("offset = %d, want 2", resp.Offset)
		}
	})

	t.Run("invalid_limit_returns_400", func(t *testing.T) {
		h := NewPairsHandler(newTestStore(t))
		rec := httptest.NewRecorder()
		h.ListPairs(rec, httptest.NewRequest("GET", "/pairs?limit=abc", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestListDangling(t *testing.T) {
	s := newTestStore(t)
	seedAudio(t, s, "/rec", "2024-05-06_10-30-00.wav", "2024-05-06_10-30-00")
	seedTranscript(t, s, "/rec", "2024-05-06_11-00-00.txt", "2024-05-06_11-00-00")

	h := NewPairsHandler(s)
	rec := httptest.NewRecorder()
	h.ListDangling(rec, httptest.NewRequest("GET", "/dangling", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Audio       []store.DanglingFile `json:"audio"`
		Transcripts []store.DanglingFile `json:"transcripts"`
		Total       int                  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	if len(resp.Audio) != 1 || resp.Audio[0].FileName != "2024-05-06_10-30-00.wav" {
		t.Errorf("audio = %+v, want one wav entry", resp.Audio)
	}
	if len(resp.Transcripts) != 1 || resp.Transcripts[0].FileName != "2024-05-06_11-00-00.txt" {
		t.Errorf("transcripts = %+v, want one txt entry", resp.Transcripts)
	}
}
