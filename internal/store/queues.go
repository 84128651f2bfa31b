package store

import (
	"context"
	"database/sql"
	"fmt"
)

// QueueKind selects one of the two durable work queues.
type QueueKind string

const (
	QueueTranscribe QueueKind = "transcribe"
	QueueConvert    QueueKind = "convert"
)

func (k QueueKind) table() string {
	if k == QueueConvert {
		return "convert_queue"
	}
	return "transcribe_queue"
}

// WorkItem is one unit of queued work. FolderPath and FileName are carried
// alongside the id so consumers can resolve paths without extra lookups.
type WorkItem struct {
	KnownFileID int64  `json:"known_file_id"`
	FolderPath  string `json:"folder_path"`
	FileName    string `json:"file_name"`
}

// QueueAdd mirrors an enqueue into the durable queue. Files with a skip
// record are refused, and a file already queued is not queued twice.
// Returns true when a new row was inserted.
func (s *Store) QueueAdd(ctx context.Context, kind QueueKind, knownFileID int64) (bool, error) {
	var added bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		var err error
		added, err = queueAddTx(tx, kind, knownFileID)
		return err
	})
	return added, err
}

func queueAddTx(tx *sql.Tx, kind QueueKind, knownFileID int64) (bool, error) {
	res, err := tx.Exec(
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (known_file_id) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM skip_files WHERE known_file_id = ?)`, kind.table()),
		knownFileID, knownFileID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// QueueRemove acks an item, deleting its durable row.
func (s *Store) QueueRemove(ctx context.Context, kind QueueKind, knownFileID int64) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE known_file_id = ?`, kind.table()), knownFileID)
		return err
	})
}

// QueueItems returns pending work in FIFO order, excluding skip-blocked
// files. Startup rehydration of the in-memory queues reads from here.
func (s *Store) QueueItems(ctx context.Context, kind QueueKind) ([]WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT q.known_file_id, r.folder_path, k.file_name
		 FROM %s q
		 JOIN known_files k ON k.id = q.known_file_id
		 JOIN recordings_folders r ON r.id = k.folder_id
		 WHERE NOT EXISTS (SELECT 1 FROM skip_files sk WHERE sk.known_file_id = q.known_file_id)
		 ORDER BY q.id`, kind.table()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		var it WorkItem
		if err := rows.Scan(&it.KnownFileID, &it.FolderPath, &it.FileName); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// QueueDepth reports the number of durable rows in the queue.
func (s *Store) QueueDepth(ctx context.Context, kind QueueKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, kind.table())).Scan(&n)
	return n, err
}
