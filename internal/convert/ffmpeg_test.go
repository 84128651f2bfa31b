package convert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRunner records the argument vector and returns canned output.
type fakeRunner struct {
	lastArgs []string
	stderr   string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, args []string) (string, string, error) {
	f.lastArgs = args
	return "", f.stderr, f.err
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/rec/2024-05-06_10-00-00.wav", "/rec/2024-05-06_10-00-00.flac"},
		{"/rec/take.two.wav", "/rec/take.two.flac"},
		{"/rec/20240506-100000.mp3", "/rec/20240506-100000.flac"},
	}
	for _, tt := range tests {
		if got := OutputPath(tt.in); got != tt.want {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvert_ArgumentVector(t *testing.T) {
	runner := &fakeRunner{}
	c := New(runner, zerolog.Nop())

	out, err := c.Convert(context.Background(), "/rec/2024-05-06_10-00-00.wav")
	if err != nil {
		t.Fatal(err)
	}
	if out != "/rec/2024-05-06_10-00-00.flac" {
		t.Errorf("output = %q", out)
	}

	want := []string{"-i", "/rec/2024-05-06_10-00-00.wav", "-c:a", "flac", "/rec/2024-05-06_10-00-00.flac"}
	if len(runner.lastArgs) != len(want) {
		t.Fatalf("args = %v, want %v", runner.lastArgs, want)
	}
	for i := range want {
		if runner.lastArgs[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, runner.lastArgs[i], want[i])
		}
	}
}

func TestConvert_FailureCarriesStderr(t *testing.T) {
	runner := &fakeRunner{
		stderr: "ffmpeg version 6.1.1\nStream mapping:\n/rec/x.wav: Invalid data found when processing input\n",
		err:    errors.New("exit status 1"),
	}
	c := New(runner, zerolog.Nop())

	_, err := c.Convert(context.Background(), "/rec/x.wav")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("error %q should carry the last stderr line", err)
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Errorf("error %q should wrap the exit error", err)
	}
}

func TestConvert_FailureWithoutStderr(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	c := New(runner, zerolog.Nop())

	_, err := c.Convert(context.Background(), "/rec/x.wav")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "convert x.wav") {
		t.Errorf("error = %q", err)
	}
}
