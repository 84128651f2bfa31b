package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tircorder/tircorder/internal/governor"
)

// Sentinel errors callers branch on.
var (
	// ErrClosed is returned for writes submitted after Close.
	ErrClosed = errors.New("store is closed")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when lock-contention retries are exhausted.
	ErrBusy = errors.New("database is locked and retries exhausted")
)

// Options configures the store.
type Options struct {
	Path        string
	BusyRetries int // attempts for locked-database retries; 0 means 5
	Log         zerolog.Logger
}

// Store is the durable state store backing the pipeline: folders, known
// files, artifacts, queue mirrors, and skip records in a single SQLite file.
//
// Reads run concurrently on the connection pool. All mutations are funnelled
// through one writer goroutine so transactions never interleave; workers
// submit a closure and block until it commits.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu     sync.RWMutex
	closed bool
	writes chan writeReq
	done   chan struct{}

	retries     int
	busyRetries atomic.Int64
}

type writeReq struct {
	fn   func(*sql.Tx) error
	resp chan error
}

// Open opens (creating if absent) the SQLite store at opts.Path, applies
// pending migrations, and starts the writer worker.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "state.db"
	}
	if opts.BusyRetries <= 0 {
		opts.BusyRetries = 5
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	s := &Store{
		db:      db,
		log:     opts.Log,
		writes:  make(chan writeReq, 64),
		done:    make(chan struct{}),
		retries: opts.BusyRetries,
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	go s.writer()
	s.log.Info().Str("path", opts.Path).Msg("state store ready")
	return s, nil
}

// Ping verifies the store connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close drains pending writes and closes the database. Further writes
// return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	<-s.done
	s.log.Info().Int64("busy_retries", s.busyRetries.Load()).Msg("state store closed")
	return s.db.Close()
}

// BusyRetries reports how many locked-database retries have occurred.
func (s *Store) BusyRetries() int64 { return s.busyRetries.Load() }

// WriterBacklog reports the number of write requests waiting for the writer.
func (s *Store) WriterBacklog() int { return len(s.writes) }

// write submits fn to the writer worker and blocks until it has been
// committed or rejected. fn runs inside a transaction; returning an error
// rolls it back.
func (s *Store) write(ctx context.Context, fn func(*sql.Tx) error) error {
	req := writeReq{fn: fn, resp: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.writes <- req:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	// Once submitted the request always gets a response: the writer drains
	// the channel fully before exiting.
	return <-req.resp
}

func (s *Store) writer() {
	defer close(s.done)
	for req := range s.writes {
		req.resp <- s.runWrite(req.fn)
	}
}

// runWrite executes fn in a transaction, retrying lock contention with
// exponential backoff before giving up.
func (s *Store) runWrite(fn func(*sql.Tx) error) error {
	backoff := governor.NewBackoff(60 * time.Second)
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = s.attempt(fn)
		if err == nil || !isLocked(err) {
			return err
		}
		s.busyRetries.Add(1)
		backoff.Increment()
		delay := backoff.Delay()
		s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("database is locked, retrying")
		time.Sleep(delay)
	}
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

func (s *Store) attempt(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isLocked reports whether err is transient SQLite lock contention, as
// opposed to a logical error that must surface to the caller.
func isLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
