package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tircorder/tircorder/internal/audio"
	"github.com/tircorder/tircorder/internal/governor"
	"github.com/tircorder/tircorder/internal/store"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultBatchSize    = 100
)

// Scanner walks the recording folders, admits new files into the store,
// and feeds the work queues. Folders are reloaded from the store on every
// pass so registrations take effect without a restart.
type Scanner struct {
	st      *store.Store
	qt      *Queue
	qc      *Queue
	backoff *governor.Backoff
	queries *governor.QueryQueue
	log     zerolog.Logger

	interval     time.Duration
	batchSize    int
	snapshotPath string

	mu    sync.Mutex
	known map[knownKey]struct{}

	wake chan struct{}

	scans      atomic.Int64
	admitted   atomic.Int64
	emptyScans int
}

type knownKey struct {
	folderID int64
	name     string
}

type candidate struct {
	folder store.Folder
	name   string
}

type ScannerOptions struct {
	Store        *store.Store
	Transcribe   *Queue
	Convert      *Queue
	Backoff      *governor.Backoff
	Queries      *governor.QueryQueue
	SnapshotPath string
	Interval     time.Duration
	BatchSize    int
	Log          zerolog.Logger
}

func NewScanner(opts ScannerOptions) *Scanner {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultScanInterval
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = governor.NewBackoff(0)
	}
	return &Scanner{
		st:           opts.Store,
		qt:           opts.Transcribe,
		qc:           opts.Convert,
		backoff:      backoff,
		queries:      opts.Queries,
		log:          opts.Log.With().Str("component", "scanner").Logger(),
		interval:     interval,
		batchSize:    batch,
		snapshotPath: opts.SnapshotPath,
		known:        make(map[knownKey]struct{}),
		wake:         make(chan struct{}, 1),
	}
}

// Seed loads the persisted checked-file set so restarts do not re-admit
// everything on disk.
func (s *Scanner) Seed(ctx context.Context) error {
	checked, err := s.st.CheckedFiles(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, f := range checked {
		s.known[knownKey{f.FolderID, f.FileName}] = struct{}{}
	}
	n := len(s.known)
	s.mu.Unlock()
	s.log.Info().Int("known_files", n).Msg("Scanner seeded from store")
	return nil
}

// Kick wakes the scanner out of its inter-pass sleep.
func (s *Scanner) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Scans reports completed scan passes.
func (s *Scanner) Scans() int64 { return s.scans.Load() }

// Admitted reports files admitted since start.
func (s *Scanner) Admitted() int64 { return s.admitted.Load() }

func (s *Scanner) run(ctx context.Context) {
	for {
		n, err := s.scanOnce(ctx)
		s.scans.Add(1)

		sleep := s.interval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("Scan pass failed")
		case n == 0:
			s.emptyScans++
			if s.emptyScans == 2 {
				s.scheduleSnapshot()
			}
			s.backoff.Increment()
			sleep = s.backoff.Delay()
		default:
			s.emptyScans = 0
			s.backoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(sleep):
		}
	}
}

// scanOnce enumerates every registered folder and admits files not yet in
// the known set. Returns the number of new files seen, admitted or not.
func (s *Scanner) scanOnce(ctx context.Context) (int, error) {
	folders, err := s.st.Folders(ctx)
	if err != nil {
		return 0, err
	}

	var cands []candidate
	for _, folder := range folders {
		entries, err := os.ReadDir(folder.Path)
		if err != nil {
			s.log.Warn().Err(err).Str("folder", folder.Path).Msg("Cannot read folder, skipping")
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !audio.Interesting(name) {
				continue
			}
			if s.isKnown(folder.ID, name) {
				continue
			}
			cands = append(cands, candidate{folder: folder, name: name})
		}
	}

	if len(cands) == 0 {
		return 0, nil
	}

	// Newest first: reverse lexical order over the stamped names.
	sort.Slice(cands, func(i, j int) bool { return cands[i].name > cands[j].name })

	for start := 0; start < len(cands); start += s.batchSize {
		end := start + s.batchSize
		if end > len(cands) {
			end = len(cands)
		}
		batch := cands[start:end]

		admissions := make([]store.Admission, 0, len(batch))
		for _, c := range batch {
			admissions = append(admissions, s.classify(c.folder, c.name))
		}

		results, err := s.st.AdmitBatch(ctx, admissions)
		if err != nil {
			// The whole batch rolled back; the files stay unknown and
			// the next pass retries them.
			s.log.Error().Err(err).Int("batch", len(batch)).Msg("Admission batch failed")
			continue
		}

		for i, r := range results {
			if r.EnqueuedTranscribe {
				s.qt.Offer(r.Item)
			}
			if r.EnqueuedConvert {
				s.qc.Offer(r.Item)
			}
			s.markKnown(batch[i].folder.ID, batch[i].name)
			if admissions[i].SkipReason != "" {
				s.log.Warn().
					Str("file", filepath.Join(batch[i].folder.Path, batch[i].name)).
					Str("reason", admissions[i].SkipReason).
					Msg("File skipped at admission")
			}
		}
		s.admitted.Add(int64(len(batch)))
	}

	s.log.Info().Int("new_files", len(cands)).Msg("Scan pass admitted new files")
	return len(cands), nil
}

// classify builds the admission record for one file: artifact kind, stamp
// parse, and which queues it belongs on. Queue membership for audio needs
// a transcript sibling probe and, for WAVs, a FLAC sibling probe.
func (s *Scanner) classify(folder store.Folder, name string) store.Admission {
	path := filepath.Join(folder.Path, name)
	adm := store.Admission{
		FolderID:   folder.ID,
		FolderPath: folder.Path,
		FileName:   name,
		Extension:  audio.Ext(name),
	}

	stamp, ok := audio.Stamp(name)
	if !ok {
		adm.SkipReason = store.ReasonInvalidFilename
		return adm
	}
	adm.Datetimes = stamp

	if info, err := os.Stat(path); err == nil {
		adm.Mtime = info.ModTime().Unix()
	} else {
		s.log.Warn().Err(err).Str("file", path).Msg("Cannot stat file")
	}

	switch {
	case audio.IsAudio(adm.Extension):
		adm.IsAudio = true
		if _, transcribed := audio.TranscriptSibling(path); !transcribed && !folder.IgnoreTranscribing {
			adm.EnqueueTranscribe = true
		}
		if adm.Extension == ".wav" && !audio.HasFlacSibling(path) && !folder.IgnoreConverting {
			adm.EnqueueConvert = true
		}
	case audio.IsTranscript(adm.Extension):
		adm.IsTranscript = true
	}
	return adm
}

// scheduleSnapshot hands a snapshot export to the query queue after the
// second consecutive empty scan.
func (s *Scanner) scheduleSnapshot() {
	if s.queries == nil || s.snapshotPath == "" {
		return
	}
	s.queries.Enqueue("snapshot_export", func(ctx context.Context) error {
		snap, err := s.st.ExportSnapshot(ctx, s.snapshotPath)
		if err != nil {
			return err
		}
		s.log.Info().
			Int("transcribe_queue", len(snap.TranscribeQueue)).
			Int("convert_queue", len(snap.ConvertQueue)).
			Int("skips", len(snap.Skips)).
			Msg("Idle snapshot exported")
		return nil
	})
}

func (s *Scanner) isKnown(folderID int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[knownKey{folderID, name}]
	return ok
}

func (s *Scanner) markKnown(folderID int64, name string) {
	s.mu.Lock()
	s.known[knownKey{folderID, name}] = struct{}{}
	s.mu.Unlock()
}
