package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Transcription method names accepted in the settings document.
const (
	MethodPythonWhisper = "python_whisper"
	MethodCTranslate2   = "ctranslate2"
	MethodNonPythonic   = "ctranslate2_nonpythonic"
	MethodWebUI         = "webui"
)

// DefaultMethod is used when the settings document names no method.
const DefaultMethod = MethodCTranslate2

// settingsFilename is the default document name under the home directory.
const settingsFilename = ".tircorder_config.json"

// ValidMethod reports whether m names a supported transcription method.
func ValidMethod(m string) bool {
	switch m {
	case MethodPythonWhisper, MethodCTranslate2, MethodNonPythonic, MethodWebUI:
		return true
	}
	return false
}

// Settings is the user-level configuration document persisted as JSON.
// Unlike Config, it survives across hosts and is edited by operators,
// so field names are stable contract.
type Settings struct {
	Transcription     Transcription `json:"transcription"`
	RecordingsFolders []string      `json:"recordings_folders,omitempty"`
}

// Transcription selects the speech-to-text backend and its options.
type Transcription struct {
	Method string `json:"method"`
	WebUI  WebUI  `json:"webui"`
	Local  Local  `json:"local"`
}

// Local configures the in-process and subprocess Whisper backends. The
// same block serves python_whisper, ctranslate2, and
// ctranslate2_nonpythonic; each reads the fields it needs.
type Local struct {
	ModelPath string `json:"model_path,omitempty"` // weights file for in-process inference
	Model     string `json:"model,omitempty"`      // model name for the CLI, default medium.en
	Language  string `json:"language,omitempty"`   // default en
	Device    string `json:"device,omitempty"`     // CLI --device, default cpu
	Binary    string `json:"binary,omitempty"`     // CLI executable, default whisper-ctranslate2
}

// WebUI configures the WhisperX-WebUI HTTP backend. Fields absent from the
// document keep their defaults, matching the merged-defaults rule
// resolved = defaults + configured + overrides.
type WebUI struct {
	BaseURL        string            `json:"base_url"`
	TranscribePath string            `json:"transcribe_path"`
	Options        map[string]any    `json:"options,omitempty"`
	TimeoutSeconds float64           `json:"timeout"`
	Username       string            `json:"username,omitempty"`
	Password       string            `json:"password,omitempty"`
	APIKey         string            `json:"api_key,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	VerifySSL      bool              `json:"verify_ssl"`
}

// Timeout converts the configured timeout to a Duration. Zero disables
// the transport deadline.
func (w WebUI) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutSeconds * float64(time.Second))
}

// DefaultSettings returns the built-in settings document.
func DefaultSettings() *Settings {
	return &Settings{
		Transcription: Transcription{
			Method: DefaultMethod,
			WebUI: WebUI{
				BaseURL:        "http://localhost:7860",
				TranscribePath: "/_transcribe_file",
				TimeoutSeconds: 600,
				VerifySSL:      true,
			},
		},
	}
}

// ResolveSettingsPath returns the settings document location. Priority:
// explicit path > TIRCORDER_CONFIG_PATH > ~/.tircorder_config.json.
func ResolveSettingsPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("TIRCORDER_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return settingsFilename
	}
	return filepath.Join(home, settingsFilename)
}

// LoadSettings reads the settings document at path, merged over defaults.
// A missing file is not an error: defaults are returned with found=false
// so the caller can run first-time setup.
func LoadSettings(path string) (*Settings, bool, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, false, nil
		}
		return nil, false, fmt.Errorf("read settings %s: %w", path, err)
	}

	// Unmarshal into the pre-filled struct: keys present in the document
	// overwrite defaults, absent keys keep them.
	if err := json.Unmarshal(data, s); err != nil {
		return nil, false, fmt.Errorf("parse settings %s: %w", path, err)
	}

	if s.Transcription.Method == "" {
		s.Transcription.Method = DefaultMethod
	}
	if !ValidMethod(s.Transcription.Method) {
		return nil, false, fmt.Errorf("settings %s: unsupported transcription method %q", path, s.Transcription.Method)
	}

	return s, true, nil
}

// SaveSettings persists the settings document, creating parent directories.
func SaveSettings(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}
