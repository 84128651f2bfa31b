package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/audio"
)

// Watcher kicks the scanner as soon as a recording lands in a watched
// folder, instead of waiting out the scan interval. It is an accelerator
// only: folders registered after start are still picked up by the
// periodic scan.
type Watcher struct {
	scanner *Scanner
	log     zerolog.Logger

	watcher *fsnotify.Watcher

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	kicks atomic.Int64
}

func NewWatcher(scanner *Scanner, log zerolog.Logger) *Watcher {
	return &Watcher{
		scanner:        scanner,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start begins watching the given folders. Unwatchable folders are logged
// and skipped, matching the scanner's tolerance for missing directories.
func (w *Watcher) Start(ctx context.Context, folders []string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	watched := 0
	for _, dir := range folders {
		if err := fsw.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("folder", dir).Msg("Failed to watch folder")
			continue
		}
		watched++
	}
	w.log.Info().Int("folders", watched).Msg("File watcher initialized")

	go w.watchLoop(ctx)
	return nil
}

// Stop closes the fsnotify watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().Int64("kicks", w.kicks.Load()).Msg("File watcher stopped")
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !audio.Interesting(event.Name) {
				continue
			}
			w.scheduleKick(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleKick debounces by 500ms per path so a file still being written
// triggers a single scan after the writes settle.
func (w *Watcher) scheduleKick(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.kicks.Add(1)
		w.scanner.Kick()
	})
}
