package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Admission describes one scanned file and the work it should generate.
// The scanner does all disk-side classification before building these, so
// applying a batch touches only the database.
type Admission struct {
	FolderID   int64
	FolderPath string
	FileName   string
	Extension  string
	Datetimes  string
	Mtime      int64

	IsAudio      bool
	IsTranscript bool

	EnqueueTranscribe bool
	EnqueueConvert    bool
	SkipReason        string
}

// AdmitResult reports what a single admission actually did. Enqueue flags
// come back false when the file was already queued or is skip-blocked.
type AdmitResult struct {
	Item               WorkItem
	EnqueuedTranscribe bool
	EnqueuedConvert    bool
}

// AdmitBatch applies one scanner batch in a single transaction: known-file
// upserts, artifact notes, skip records, queue admissions, and checked
// marks. A failure rolls back the whole batch.
func (s *Store) AdmitBatch(ctx context.Context, batch []Admission) ([]AdmitResult, error) {
	results := make([]AdmitResult, 0, len(batch))
	err := s.write(ctx, func(tx *sql.Tx) error {
		results = results[:0]
		for _, a := range batch {
			id, err := upsertKnownFileTx(tx, a.FolderID, a.FileName, a.Extension, a.Datetimes)
			if err != nil {
				return fmt.Errorf("admit %s: %w", a.FileName, err)
			}

			if a.IsAudio {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO audio_files (known_file_id, unix_timestamp) VALUES (?, ?)`, id, a.Mtime); err != nil {
					return fmt.Errorf("note audio %s: %w", a.FileName, err)
				}
			}
			if a.IsTranscript {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO transcript_files (known_file_id, unix_timestamp) VALUES (?, ?)`, id, a.Mtime); err != nil {
					return fmt.Errorf("note transcript %s: %w", a.FileName, err)
				}
			}
			if a.SkipReason != "" {
				if _, err := tx.Exec(`INSERT OR IGNORE INTO skip_files (known_file_id, reason) VALUES (?, ?)`, id, a.SkipReason); err != nil {
					return fmt.Errorf("record skip %s: %w", a.FileName, err)
				}
			}

			res := AdmitResult{Item: WorkItem{KnownFileID: id, FolderPath: a.FolderPath, FileName: a.FileName}}
			if a.EnqueueTranscribe {
				res.EnqueuedTranscribe, err = queueAddTx(tx, QueueTranscribe, id)
				if err != nil {
					return fmt.Errorf("enqueue transcribe %s: %w", a.FileName, err)
				}
			}
			if a.EnqueueConvert {
				res.EnqueuedConvert, err = queueAddTx(tx, QueueConvert, id)
				if err != nil {
					return fmt.Errorf("enqueue convert %s: %w", a.FileName, err)
				}
			}

			if _, err := tx.Exec(`INSERT OR IGNORE INTO checked_files (known_file_id) VALUES (?)`, id); err != nil {
				return fmt.Errorf("mark checked %s: %w", a.FileName, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
