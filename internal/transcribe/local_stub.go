//go:build !cgo

package transcribe

import (
	"context"
	"errors"

	"github.com/tircorder/tircorder/internal/config"
)

// LocalClient requires cgo for the whisper.cpp bindings. This stub keeps
// cgo-less builds working; selecting an in-process method without cgo is a
// startup configuration error.
type LocalClient struct{}

var errNoCgo = errors.New("in-process whisper backend requires a cgo build; use webui or ctranslate2_nonpythonic")

func NewLocalClient(name string, cfg config.Local) (*LocalClient, error) {
	return nil, errNoCgo
}

func (c *LocalClient) Name() string { return "local" }

func (c *LocalClient) Close() error { return nil }

func (c *LocalClient) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	return nil, errNoCgo
}
