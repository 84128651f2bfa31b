package transcribe

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/config"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantStart float64
		wantEnd   float64
		wantOK    bool
	}{
		{"first window", "Processing audio from 0.00s to 30.00s", 0, 30, true},
		{"later window", "Processing audio from 330.50s to 360.00s", 330.5, 360, true},
		{"not a progress line", "Loaded model medium.en on cpu", 0, 0, false},
		{"too few fields", "Processing audio now", 0, 0, false},
		{"non-numeric start", "Processing audio from abcs to 30.00s", 0, 0, false},
		{"non-numeric end", "Processing audio from 0.00s to eof", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := parseProgressLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("window = %v..%v, want %v..%v", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestNewCLIClient_Defaults(t *testing.T) {
	c := NewCLIClient(config.Local{}, zerolog.Nop())

	if c.binary != "whisper-ctranslate2" {
		t.Errorf("binary = %q, want whisper-ctranslate2", c.binary)
	}
	if c.model != "medium.en" {
		t.Errorf("model = %q, want medium.en", c.model)
	}
	if c.language != "en" {
		t.Errorf("language = %q, want en", c.language)
	}
	if c.device != "cpu" {
		t.Errorf("device = %q, want cpu", c.device)
	}
	if c.Name() != "ctranslate2_nonpythonic" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestNewCLIClient_Configured(t *testing.T) {
	c := NewCLIClient(config.Local{
		Binary:   "/opt/whisper/bin/whisper-ctranslate2",
		Model:    "large-v3",
		Language: "de",
		Device:   "cuda",
	}, zerolog.Nop())

	if c.binary != "/opt/whisper/bin/whisper-ctranslate2" {
		t.Errorf("binary = %q", c.binary)
	}
	if c.model != "large-v3" {
		t.Errorf("model = %q, want large-v3", c.model)
	}
	if c.language != "de" {
		t.Errorf("language = %q, want de", c.language)
	}
	if c.device != "cuda" {
		t.Errorf("device = %q, want cuda", c.device)
	}
}
