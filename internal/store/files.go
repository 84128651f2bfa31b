package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// FileInfo identifies a known file and where it lives on disk.
type FileInfo struct {
	KnownFileID int64  `json:"known_file_id"`
	FolderID    int64  `json:"folder_id"`
	FolderPath  string `json:"folder_path"`
	FileName    string `json:"file_name"`
	Extension   string `json:"extension"`
	Datetimes   string `json:"datetimes,omitempty"`
}

// Path returns the absolute location of the file.
func (f FileInfo) Path() string {
	return filepath.Join(f.FolderPath, f.FileName)
}

// UpsertKnownFile registers fileName under folderID and returns its stable
// id. Re-registering the same file is a no-op returning the existing id.
func (s *Store) UpsertKnownFile(ctx context.Context, folderID int64, fileName, extension, datetimes string) (int64, error) {
	var id int64
	err := s.write(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = upsertKnownFileTx(tx, folderID, fileName, extension, datetimes)
		return err
	})
	return id, err
}

// upsertExtensionTx interns extension into the lookup table and returns its id.
func upsertExtensionTx(tx *sql.Tx, extension string) (sql.NullInt64, error) {
	if extension == "" {
		return sql.NullInt64{}, nil
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO extensions (extension) VALUES (?)`, extension); err != nil {
		return sql.NullInt64{}, err
	}
	var id int64
	if err := tx.QueryRow(`SELECT id FROM extensions WHERE extension = ?`, extension).Scan(&id); err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// upsertKnownFileTx resolves or creates the row for (fileName, folderID).
// Identity is name within folder; datetimes and extension are attributes of
// the first registration. Serialisation through the writer worker makes the
// select-then-insert safe.
func upsertKnownFileTx(tx *sql.Tx, folderID int64, fileName, extension, datetimes string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT id FROM known_files WHERE file_name = ? AND folder_id = ?`, fileName, folderID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	extID, err := upsertExtensionTx(tx, extension)
	if err != nil {
		return 0, fmt.Errorf("intern extension %s: %w", extension, err)
	}
	res, err := tx.Exec(
		`INSERT INTO known_files (file_name, folder_id, extension_id, datetimes) VALUES (?, ?, ?, ?)`,
		fileName, folderID, extID, datetimes)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// NoteAudio records that knownFileID has an audio artifact on disk.
func (s *Store) NoteAudio(ctx context.Context, knownFileID, mtime int64) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO audio_files (known_file_id, unix_timestamp) VALUES (?, ?)`, knownFileID, mtime)
		return err
	})
}

// NoteTranscript records that knownFileID has a transcript artifact on disk.
func (s *Store) NoteTranscript(ctx context.Context, knownFileID, mtime int64) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO transcript_files (known_file_id, unix_timestamp) VALUES (?, ?)`, knownFileID, mtime)
		return err
	})
}

// AudioFileID returns the artifact row id for knownFileID, or ErrNotFound.
func (s *Store) AudioFileID(ctx context.Context, knownFileID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM audio_files WHERE known_file_id = ?`, knownFileID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// TranscriptFileID returns the artifact row id for knownFileID, or ErrNotFound.
func (s *Store) TranscriptFileID(ctx context.Context, knownFileID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM transcript_files WHERE known_file_id = ?`, knownFileID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// ResolveFile looks up where a known file lives on disk.
func (s *Store) ResolveFile(ctx context.Context, knownFileID int64) (FileInfo, error) {
	var info FileInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT k.id, k.folder_id, r.folder_path, k.file_name, COALESCE(e.extension, ''), COALESCE(k.datetimes, '')
		 FROM known_files k
		 JOIN recordings_folders r ON r.id = k.folder_id
		 LEFT JOIN extensions e ON e.id = k.extension_id
		 WHERE k.id = ?`, knownFileID).
		Scan(&info.KnownFileID, &info.FolderID, &info.FolderPath, &info.FileName, &info.Extension, &info.Datetimes)
	if errors.Is(err, sql.ErrNoRows) {
		return FileInfo{}, ErrNotFound
	}
	return info, err
}

// KnownFileCount reports the number of registered known files.
func (s *Store) KnownFileCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM known_files`).Scan(&n)
	return n, err
}

// CheckedFile names a file the scanner has fully processed.
type CheckedFile struct {
	FolderID int64
	FileName string
}

// CheckedFiles returns every file the scanner has processed, keyed the way
// the scanner builds its in-memory known set.
func (s *Store) CheckedFiles(ctx context.Context) ([]CheckedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT k.folder_id, k.file_name FROM checked_files c JOIN known_files k ON k.id = c.known_file_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []CheckedFile
	for rows.Next() {
		var f CheckedFile
		if err := rows.Scan(&f.FolderID, &f.FileName); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Pair is a matched audio/transcript couple.
type Pair struct {
	ID             int64  `json:"id"`
	AudioID        int64  `json:"audio_file_id"`
	TranscriptID   int64  `json:"transcript_file_id"`
	FolderPath     string `json:"folder_path"`
	AudioName      string `json:"audio_name"`
	TranscriptName string `json:"transcript_name"`
}

// RecordPair links an audio artifact to its transcript artifact.
func (s *Store) RecordPair(ctx context.Context, audioID, transcriptID int64) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR IGNORE INTO matched_pairs (audio_file_id, transcript_file_id) VALUES (?, ?)`, audioID, transcriptID)
		return err
	})
}

// Pairs lists all matched audio/transcript couples.
func (s *Store) Pairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.audio_file_id, p.transcript_file_id, ra.folder_path, ka.file_name, kt.file_name
		 FROM matched_pairs p
		 JOIN audio_files a ON a.id = p.audio_file_id
		 JOIN known_files ka ON ka.id = a.known_file_id
		 JOIN recordings_folders ra ON ra.id = ka.folder_id
		 JOIN transcript_files t ON t.id = p.transcript_file_id
		 JOIN known_files kt ON kt.id = t.known_file_id
		 ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.ID, &p.AudioID, &p.TranscriptID, &p.FolderPath, &p.AudioName, &p.TranscriptName); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// DanglingFile is an artifact with no matched counterpart.
type DanglingFile struct {
	ArtifactID  int64  `json:"artifact_id"`
	KnownFileID int64  `json:"known_file_id"`
	FolderPath  string `json:"folder_path"`
	FileName    string `json:"file_name"`
}

// Dangling reports artifacts that have no matched counterpart.
type Dangling struct {
	Audio       []DanglingFile `json:"audio"`
	Transcripts []DanglingFile `json:"transcripts"`
}

// ListDangling returns audio artifacts without a paired transcript and
// transcript artifacts without a paired audio file.
func (s *Store) ListDangling(ctx context.Context) (Dangling, error) {
	var d Dangling

	audio, err := s.danglingQuery(ctx,
		`SELECT a.id, k.id, r.folder_path, k.file_name
		 FROM audio_files a
		 JOIN known_files k ON k.id = a.known_file_id
		 JOIN recordings_folders r ON r.id = k.folder_id
		 WHERE a.id NOT IN (SELECT audio_file_id FROM matched_pairs)
		 ORDER BY a.id`)
	if err != nil {
		return d, err
	}
	transcripts, err := s.danglingQuery(ctx,
		`SELECT t.id, k.id, r.folder_path, k.file_name
		 FROM transcript_files t
		 JOIN known_files k ON k.id = t.known_file_id
		 JOIN recordings_folders r ON r.id = k.folder_id
		 WHERE t.id NOT IN (SELECT transcript_file_id FROM matched_pairs)
		 ORDER BY t.id`)
	if err != nil {
		return d, err
	}

	d.Audio = audio
	d.Transcripts = transcripts
	return d, nil
}

func (s *Store) danglingQuery(ctx context.Context, query string) ([]DanglingFile, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []DanglingFile
	for rows.Next() {
		var f DanglingFile
		if err := rows.Scan(&f.ArtifactID, &f.KnownFileID, &f.FolderPath, &f.FileName); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// RecomputePairs rebuilds matched_pairs from scratch by pairing audio and
// transcript artifacts whose basenames agree within the same folder.
// Returns the number of pairs recorded.
func (s *Store) RecomputePairs(ctx context.Context) (int, error) {
	type artifact struct {
		id     int64
		folder int64
		stem   string
	}

	load := func(query string) ([]artifact, error) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []artifact
		for rows.Next() {
			var a artifact
			var name, ext string
			if err := rows.Scan(&a.id, &a.folder, &name, &ext); err != nil {
				return nil, err
			}
			a.stem = strings.TrimSuffix(name, ext)
			out = append(out, a)
		}
		return out, rows.Err()
	}

	audio, err := load(
		`SELECT a.id, k.folder_id, k.file_name, COALESCE(e.extension, '')
		 FROM audio_files a
		 JOIN known_files k ON k.id = a.known_file_id
		 LEFT JOIN extensions e ON e.id = k.extension_id`)
	if err != nil {
		return 0, err
	}
	transcripts, err := load(
		`SELECT t.id, k.folder_id, k.file_name, COALESCE(e.extension, '')
		 FROM transcript_files t
		 JOIN known_files k ON k.id = t.known_file_id
		 LEFT JOIN extensions e ON e.id = k.extension_id`)
	if err != nil {
		return 0, err
	}

	type key struct {
		folder int64
		stem   string
	}
	byStem := make(map[key]int64, len(transcripts))
	for _, t := range transcripts {
		if _, ok := byStem[key{t.folder, t.stem}]; !ok {
			byStem[key{t.folder, t.stem}] = t.id
		}
	}

	type match struct{ audioID, transcriptID int64 }
	var matches []match
	for _, a := range audio {
		if tid, ok := byStem[key{a.folder, a.stem}]; ok {
			matches = append(matches, match{a.id, tid})
		}
	}

	err = s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM matched_pairs`); err != nil {
			return err
		}
		for _, m := range matches {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO matched_pairs (audio_file_id, transcript_file_id) VALUES (?, ?)`, m.audioID, m.transcriptID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
