package store

import (
	"context"
	"database/sql"
)

// Durable skip reason codes. WebUI failures compose a detail suffix onto
// ReasonWebUIError.
const (
	ReasonInvalidFilename     = "invalid_filename"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonTranscriptionOutput = "transcription_output_error"
	ReasonIncorrectAudioShape = "incorrect_audio_shape"
	ReasonConversionFailed    = "conversion_failed"
	ReasonWebUIError          = "webui_error:"
)

// Skip is a recorded per-file failure. While present it blocks the file
// from re-entering either queue; clearing it is an operator action.
type Skip struct {
	ID          int64  `json:"id"`
	KnownFileID int64  `json:"known_file_id"`
	FolderPath  string `json:"folder_path"`
	FileName    string `json:"file_name"`
	Reason      string `json:"reason"`
}

// RecordSkip stores a skip record for knownFileID. Recording the same
// reason twice is a no-op.
func (s *Store) RecordSkip(ctx context.Context, knownFileID int64, reason string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO skip_files (known_file_id, reason) VALUES (?, ?)`, knownFileID, reason)
		return err
	})
}

// IsSkipped reports whether knownFileID has any skip record.
func (s *Store) IsSkipped(ctx context.Context, knownFileID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skip_files WHERE known_file_id = ?`, knownFileID).Scan(&n)
	return n > 0, err
}

// Skips lists all skip records with their file locations.
func (s *Store) Skips(ctx context.Context) ([]Skip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sk.id, sk.known_file_id, r.folder_path, k.file_name, COALESCE(sk.reason, '')
		 FROM skip_files sk
		 JOIN known_files k ON k.id = sk.known_file_id
		 JOIN recordings_folders r ON r.id = k.folder_id
		 ORDER BY sk.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skips []Skip
	for rows.Next() {
		var sk Skip
		if err := rows.Scan(&sk.ID, &sk.KnownFileID, &sk.FolderPath, &sk.FileName, &sk.Reason); err != nil {
			return nil, err
		}
		skips = append(skips, sk)
	}
	return skips, rows.Err()
}

// SkipCount reports the number of skip records.
func (s *Store) SkipCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skip_files`).Scan(&n)
	return n, err
}

// ClearSkip deletes one skip record by id. Returns false when no such
// record exists.
func (s *Store) ClearSkip(ctx context.Context, id int64) (bool, error) {
	var cleared bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM skip_files WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		cleared = n > 0
		return err
	})
	return cleared, err
}

// ClearAllSkips deletes every skip record, returning how many were removed.
func (s *Store) ClearAllSkips(ctx context.Context) (int64, error) {
	var n int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM skip_files`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
