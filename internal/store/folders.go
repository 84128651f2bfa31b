package store

import (
	"context"
	"database/sql"
	"errors"
)

// Folder is a watched recording directory with its per-stage policy flags.
type Folder struct {
	ID                 int64  `json:"id"`
	Path               string `json:"folder_path"`
	IgnoreTranscribing bool   `json:"ignore_transcribing"`
	IgnoreConverting   bool   `json:"ignore_converting"`
}

// UpsertFolder registers a recording folder and returns its id. Policy
// flags on an existing row are updated in place.
func (s *Store) UpsertFolder(ctx context.Context, path string, ignoreTranscribing, ignoreConverting bool) (int64, error) {
	var id int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO recordings_folders (folder_path, ignore_transcribing, ignore_converting) VALUES (?, ?, ?)
			 ON CONFLICT(folder_path) DO UPDATE SET ignore_transcribing = excluded.ignore_transcribing, ignore_converting = excluded.ignore_converting`,
			path, boolInt(ignoreTranscribing), boolInt(ignoreConverting))
		if err != nil {
			return err
		}
		return tx.QueryRow(`SELECT id FROM recordings_folders WHERE folder_path = ?`, path).Scan(&id)
	})
	return id, err
}

// Folder looks up one recording folder by id.
func (s *Store) Folder(ctx context.Context, id int64) (Folder, error) {
	var f Folder
	var it, ic int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder_path, ignore_transcribing, ignore_converting FROM recordings_folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Path, &it, &ic)
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, ErrNotFound
	}
	f.IgnoreTranscribing = it != 0
	f.IgnoreConverting = ic != 0
	return f, err
}

// Folders lists all registered recording folders.
func (s *Store) Folders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, folder_path, ignore_transcribing, ignore_converting FROM recordings_folders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var it, ic int
		if err := rows.Scan(&f.ID, &f.Path, &it, &ic); err != nil {
			return nil, err
		}
		f.IgnoreTranscribing = it != 0
		f.IgnoreConverting = ic != 0
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
