// Package convert wraps the external media tool that produces FLAC
// siblings for WAV recordings.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBinary = "ffmpeg"

// Runner executes the media tool with the given arguments and returns its
// captured stdout and stderr. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, args []string) (stdout, stderr string, err error)
}

// ExecRunner runs the real binary via os/exec.
type ExecRunner struct {
	Binary string // media tool path, default "ffmpeg"
}

func (r ExecRunner) Run(ctx context.Context, args []string) (string, string, error) {
	bin := r.Binary
	if bin == "" {
		bin = defaultBinary
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Converter turns audio files into FLAC siblings.
type Converter struct {
	runner Runner
	log    zerolog.Logger
}

func New(runner Runner, log zerolog.Logger) *Converter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Converter{
		runner: runner,
		log:    log.With().Str("component", "converter").Logger(),
	}
}

// OutputPath is the FLAC sibling for an input file.
func OutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return inputPath[:len(inputPath)-len(ext)] + ".flac"
}

// Convert encodes inputPath to its FLAC sibling with the fixed argument
// vector ["-i", <input>, "-c:a", "flac", <output>] and returns the output
// path. A non-zero exit maps to an error carrying the tool's last stderr
// line.
func (c *Converter) Convert(ctx context.Context, inputPath string) (string, error) {
	outputPath := OutputPath(inputPath)
	start := time.Now()

	_, stderr, err := c.runner.Run(ctx, []string{"-i", inputPath, "-c:a", "flac", outputPath})
	if err != nil {
		if detail := lastLine(stderr); detail != "" {
			return "", fmt.Errorf("convert %s: %w: %s", filepath.Base(inputPath), err, detail)
		}
		return "", fmt.Errorf("convert %s: %w", filepath.Base(inputPath), err)
	}

	c.log.Info().
		Str("input", filepath.Base(inputPath)).
		Str("output", filepath.Base(outputPath)).
		Dur("elapsed", time.Since(start)).
		Msg("Conversion completed")
	return outputPath, nil
}

// lastLine extracts the final non-empty stderr line, which is where the
// tool reports its actual failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
