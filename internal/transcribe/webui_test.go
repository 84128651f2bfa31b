package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tircorder/tircorder/internal/config"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-05-06_10-30-00.wav")
	if err := os.WriteFile(path, []byte("RIFF-fake-audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func webUIConfig(baseURL string) config.WebUI {
	return config.WebUI{
		BaseURL:        baseURL,
		TranscribePath: "/transcribe",
		VerifySSL:      true,
	}
}

func skipReason(t *testing.T, err error) string {
	t.Helper()
	var skip *SkipError
	if !errors.As(err, &skip) {
		t.Fatalf("error %v is not a *SkipError", err)
	}
	return skip.Reason
}

func TestWebUI_MissingBaseURL(t *testing.T) {
	c := NewWebUIClient(webUIConfig(""), nil)
	_, err := c.Transcribe(context.Background(), writeTestAudio(t))
	if err == nil {
		t.Fatal("expected error for missing base_url")
	}
	want := "webui_error:WebUI base_url is not configured"
	if got := skipReason(t, err); got != want {
		t.Errorf("reason = %q, want %q", got, want)
	}
}

func TestWebUI_RequestShape(t *testing.T) {
	var (
		gotPath     string
		gotFile     string
		gotFileData string
		gotFields   map[string]string
		gotAuth     string
		gotHeader   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Extra")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotFields = make(map[string]string)
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, hdr, err := r.FormFile("files")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer f.Close()
			gotFile = hdr.Filename
			buf := make([]byte, 64)
			n, _ := f.Read(buf)
			gotFileData = string(buf[:n])
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	cfg := webUIConfig(srv.URL + "/") // trailing slash must not double up
	cfg.APIKey = "sekrit"
	cfg.Headers = map[string]string{"X-Extra": "yes"}
	cfg.Options = map[string]any{
		"language":   "en",
		"vad_filter": true,
		"beam_size":  float64(5),
		"chunk":      30,
		"asr":        map[string]any{"temperature": 0.2},
		"dropped":    nil,
	}

	audio := writeTestAudio(t)
	c := NewWebUIClient(cfg, nil)
	res, err := c.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "ok" {
		t.Errorf("text = %q, want %q", res.Text, "ok")
	}

	if gotPath != "/transcribe" {
		t.Errorf("path = %q, want /transcribe", gotPath)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sekrit")
	}
	if gotHeader != "yes" {
		t.Errorf("X-Extra = %q, want %q", gotHeader, "yes")
	}
	if gotFile != filepath.Base(audio) {
		t.Errorf("upload filename = %q, want %q", gotFile, filepath.Base(audio))
	}
	if gotFileData != "RIFF-fake-audio" {
		t.Errorf("upload data = %q", gotFileData)
	}

	wantFields := map[string]string{
		"language":   "en",
		"vad_filter": "true",
		"beam_size":  "5",
		"chunk":      "30",
		"asr":        `{"temperature":0.2}`,
	}
	for k, want := range wantFields {
		if gotFields[k] != want {
			t.Errorf("field %s = %q, want %q", k, gotFields[k], want)
		}
	}
	if _, present := gotFields["dropped"]; present {
		t.Error("nil option should not be sent")
	}
}

func TestWebUI_BasicAuthWinsOverAPIKey(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	cfg := webUIConfig(srv.URL)
	cfg.Username = "alice"
	cfg.Password = "hunter2"
	cfg.APIKey = "should-be-ignored"

	c := NewWebUIClient(cfg, nil)
	if _, err := c.Transcribe(context.Background(), writeTestAudio(t)); err != nil {
		t.Fatal(err)
	}
	if !ok || user != "alice" || pass != "hunter2" {
		t.Errorf("basic auth = %q/%q (ok=%v), want alice/hunter2", user, pass, ok)
	}
}

func TestWebUI_ResultShapes(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantText     string
		wantDuration float64
	}{
		{
			"object with text and duration",
			`{"text":"hello world","duration":12.5,"language":"en"}`,
			"hello world", 12.5,
		},
		{
			"object with segments only",
			`{"segments":[{"text":"hello","start":0,"end":1.5},{"text":"world","start":1.5,"end":3}]}`,
			"[0.00s -> 1.50s] hello\n[1.50s -> 3.00s] world", 0,
		},
		{
			"segments without timing",
			`{"segments":[{"text":"hello"},{"text":"world"}]}`,
			"hello\nworld", 0,
		},
		{
			"text and duration pair",
			`["transcript text", 4.2]`,
			"transcript text", 4.2,
		},
		{
			"bare segment list",
			`[{"text":"alpha","start":0.5,"end":1}]`,
			"[0.50s -> 1.00s] alpha", 0,
		},
		{
			"quoted string",
			`"bare string result"`,
			"bare string result", 0,
		},
		{
			"plain text body",
			`not json at all`,
			"not json at all", 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewWebUIClient(webUIConfig(srv.URL), nil)
			res, err := c.Transcribe(context.Background(), writeTestAudio(t))
			if err != nil {
				t.Fatal(err)
			}
			if res.Text != tt.wantText {
				t.Errorf("text = %q, want %q", res.Text, tt.wantText)
			}
			if res.Duration != tt.wantDuration {
				t.Errorf("duration = %v, want %v", res.Duration, tt.wantDuration)
			}
		})
	}
}

func TestWebUI_TextKeyWinsOverSegments(t *testing.T) {
	// An explicit empty text field is an empty result even when segments
	// are present.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"","segments":[{"text":"ignored","start":0,"end":1}]}`))
	}))
	defer srv.Close()

	c := NewWebUIClient(webUIConfig(srv.URL), nil)
	_, err := c.Transcribe(context.Background(), writeTestAudio(t))
	if err == nil {
		t.Fatal("expected empty result error")
	}
	if got := skipReason(t, err); got != "webui_error:empty result" {
		t.Errorf("reason = %q, want webui_error:empty result", got)
	}
}

func TestWebUI_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	c := NewWebUIClient(webUIConfig(srv.URL), nil)
	_, err := c.Transcribe(context.Background(), writeTestAudio(t))
	if err == nil {
		t.Fatal("expected empty result error")
	}
	if got := skipReason(t, err); got != "webui_error:empty result" {
		t.Errorf("reason = %q, want webui_error:empty result", got)
	}
}

func TestWebUI_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWebUIClient(webUIConfig(srv.URL), nil)
	_, err := c.Transcribe(context.Background(), writeTestAudio(t))
	if err == nil {
		t.Fatal("expected status error")
	}
	if got := skipReason(t, err); got != "webui_error:status 503" {
		t.Errorf("reason = %q, want webui_error:status 503", got)
	}
}

func TestWebUI_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := NewWebUIClient(webUIConfig(srv.URL), nil)
	_, err := c.Transcribe(context.Background(), writeTestAudio(t))
	if err == nil {
		t.Fatal("expected transport error")
	}
	if got := skipReason(t, err); !strings.HasPrefix(got, "webui_error:") {
		t.Errorf("reason = %q, want webui_error: prefix", got)
	}
}
