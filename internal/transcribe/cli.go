package transcribe

import (
	"bufio"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tircorder/tircorder/internal/config"
	"github.com/tircorder/tircorder/internal/store"
)

// CLIClient shells out to whisper-ctranslate2. The tool writes its own
// transcript artifacts into the audio file's directory; its stdout is
// streamed into the log and kept as the result text, and the audio
// duration is derived from its progress lines.
type CLIClient struct {
	binary   string
	model    string
	language string
	device   string
	log      zerolog.Logger
}

// NewCLIClient creates the subprocess backend. Zero-value config fields
// fall back to the stock invocation: whisper-ctranslate2, medium.en,
// English, CPU.
func NewCLIClient(cfg config.Local, log zerolog.Logger) *CLIClient {
	c := &CLIClient{
		binary:   cfg.Binary,
		model:    cfg.Model,
		language: cfg.Language,
		device:   cfg.Device,
		log:      log.With().Str("component", "whisper-cli").Logger(),
	}
	if c.binary == "" {
		c.binary = "whisper-ctranslate2"
	}
	if c.model == "" {
		c.model = "medium.en"
	}
	if c.language == "" {
		c.language = "en"
	}
	if c.device == "" {
		c.device = "cpu"
	}
	return c
}

func (c *CLIClient) Name() string { return "ctranslate2_nonpythonic" }

func (c *CLIClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.binary, audioPath,
		"--model", c.model,
		"--language", c.language,
		"--output_dir", filepath.Dir(audioPath),
		"--device", c.device,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}

	// Drain stderr concurrently so the tool never stalls on a full pipe.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			c.log.Error().Str("stream", "stderr").Msg(sc.Text())
		}
	}()

	var out strings.Builder
	var start, end float64
	haveWindow := false

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if s, e, ok := parseProgressLine(line); ok {
			start, end = s, e
			haveWindow = true
		}
		out.WriteString(line)
		out.WriteByte('\n')
		c.log.Info().Msg(strings.TrimSpace(line))
	}

	<-stderrDone
	if err := cmd.Wait(); err != nil {
		return nil, &SkipError{Reason: store.ReasonTranscriptionFailed, Err: err}
	}

	var duration float64
	if haveWindow {
		duration = end - start
	}
	return &Result{Text: strings.TrimSpace(out.String()), Language: c.language, Duration: duration}, nil
}

// parseProgressLine extracts the processing window from lines like
// "Processing audio from 12.50s to 30.00s".
func parseProgressLine(line string) (start, end float64, ok bool) {
	if !strings.Contains(line, "Processing audio") {
		return 0, 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return 0, 0, false
	}
	start, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "s"), 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseFloat(strings.TrimSuffix(fields[5], "s"), 64)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}
