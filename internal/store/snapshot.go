package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Snapshot is the JSON state backup written on shutdown and after idle
// scans. It mirrors the durable queue and skip state so operators can
// inspect it or restore a lost database from it.
type Snapshot struct {
	ExportedAt      time.Time  `json:"exported_at"`
	KnownFiles      int        `json:"known_files"`
	TranscribeQueue []WorkItem `json:"transcribe_queue"`
	ConvertQueue    []WorkItem `json:"convert_queue"`
	Skips           []Skip     `json:"skips"`
}

// ExportSnapshot collects the current queue and skip state and writes it
// to path as JSON. The write goes through a temp file and rename so a
// crash never leaves a truncated snapshot.
func (s *Store) ExportSnapshot(ctx context.Context, path string) (*Snapshot, error) {
	qt, err := s.QueueItems(ctx, QueueTranscribe)
	if err != nil {
		return nil, fmt.Errorf("collect transcribe queue: %w", err)
	}
	qc, err := s.QueueItems(ctx, QueueConvert)
	if err != nil {
		return nil, fmt.Errorf("collect convert queue: %w", err)
	}
	skips, err := s.Skips(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect skips: %w", err)
	}
	known, err := s.KnownFileCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count known files: %w", err)
	}

	snap := &Snapshot{
		ExportedAt:      time.Now().UTC(),
		KnownFiles:      known,
		TranscribeQueue: qt,
		ConvertQueue:    qc,
		Skips:           skips,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".temp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalize snapshot: %w", err)
	}

	s.log.Info().
		Str("path", path).
		Int("transcribe_queue", len(qt)).
		Int("convert_queue", len(qc)).
		Int("skips", len(skips)).
		Msg("state snapshot exported")
	return snap, nil
}

// ImportSnapshot merges a snapshot file into the store: folders and known
// files referenced by the snapshot are created if missing, queue rows and
// skips are re-added. Existing rows are left untouched.
func (s *Store) ImportSnapshot(ctx context.Context, path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	err = s.write(ctx, func(tx *sql.Tx) error {
		restore := func(kind QueueKind, items []WorkItem) error {
			for _, it := range items {
				id, err := restoreKnownFileTx(tx, it.FolderPath, it.FileName)
				if err != nil {
					return err
				}
				if _, err := queueAddTx(tx, kind, id); err != nil {
					return err
				}
			}
			return nil
		}
		if err := restore(QueueTranscribe, snap.TranscribeQueue); err != nil {
			return err
		}
		if err := restore(QueueConvert, snap.ConvertQueue); err != nil {
			return err
		}
		for _, sk := range snap.Skips {
			id, err := restoreKnownFileTx(tx, sk.FolderPath, sk.FileName)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO skip_files (known_file_id, reason) VALUES (?, ?)`, id, sk.Reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("path", path).
		Int("transcribe_queue", len(snap.TranscribeQueue)).
		Int("convert_queue", len(snap.ConvertQueue)).
		Int("skips", len(snap.Skips)).
		Msg("state snapshot imported")
	return &snap, nil
}

// restoreKnownFileTx re-registers a snapshot entry, creating the folder
// row when the database no longer has it.
func restoreKnownFileTx(tx *sql.Tx, folderPath, fileName string) (int64, error) {
	if _, err := tx.Exec(`INSERT OR IGNORE INTO recordings_folders (folder_path) VALUES (?)`, folderPath); err != nil {
		return 0, err
	}
	var folderID int64
	if err := tx.QueryRow(`SELECT id FROM recordings_folders WHERE folder_path = ?`, folderPath).Scan(&folderID); err != nil {
		return 0, err
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return upsertKnownFileTx(tx, folderID, fileName, ext, "")
}
