package store

import (
	"context"
	"fmt"
	"strings"
)

// baseSchema creates every table and index on a fresh database. Historical
// databases predating some of these are brought forward by the migration
// list below.
const baseSchema = `
CREATE TABLE IF NOT EXISTS recordings_folders (
	id INTEGER PRIMARY KEY,
	folder_path TEXT UNIQUE NOT NULL,
	ignore_transcribing INTEGER NOT NULL DEFAULT 0,
	ignore_converting INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extensions (
	id INTEGER PRIMARY KEY,
	extension TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS known_files (
	id INTEGER PRIMARY KEY,
	file_name TEXT NOT NULL,
	folder_id INTEGER NOT NULL,
	extension_id INTEGER,
	datetimes TEXT,
	UNIQUE(file_name, folder_id, datetimes),
	FOREIGN KEY(folder_id) REFERENCES recordings_folders(id),
	FOREIGN KEY(extension_id) REFERENCES extensions(id)
);

CREATE TABLE IF NOT EXISTS audio_files (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL,
	unix_timestamp INTEGER,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE TABLE IF NOT EXISTS transcript_files (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL,
	unix_timestamp INTEGER,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE TABLE IF NOT EXISTS matched_pairs (
	id INTEGER PRIMARY KEY,
	audio_file_id INTEGER NOT NULL,
	transcript_file_id INTEGER NOT NULL,
	FOREIGN KEY(audio_file_id) REFERENCES audio_files(id),
	FOREIGN KEY(transcript_file_id) REFERENCES transcript_files(id)
);

CREATE TABLE IF NOT EXISTS transcribe_queue (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE TABLE IF NOT EXISTS convert_queue (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE TABLE IF NOT EXISTS skip_files (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL,
	reason TEXT,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE TABLE IF NOT EXISTS checked_files (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL UNIQUE,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_transcribe_queue_file ON transcribe_queue(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_convert_queue_file ON convert_queue(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_skip_files_file_reason ON skip_files(known_file_id, reason);
CREATE UNIQUE INDEX IF NOT EXISTS idx_audio_files_file ON audio_files(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transcript_files_file ON transcript_files(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_matched_pairs_pair ON matched_pairs(audio_file_id, transcript_file_id);
`

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (IF NOT EXISTS, dedupe-before-index, etc.).
var migrations = []migration{
	{
		name:  "base schema",
		sql:   baseSchema,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'known_files')`,
	},
	{
		name:  "add recordings_folders.ignore_transcribing",
		sql:   `ALTER TABLE recordings_folders ADD COLUMN ignore_transcribing INTEGER NOT NULL DEFAULT 0`,
		check: `SELECT COUNT(*) > 0 FROM pragma_table_info('recordings_folders') WHERE name = 'ignore_transcribing'`,
	},
	{
		name:  "add recordings_folders.ignore_converting",
		sql:   `ALTER TABLE recordings_folders ADD COLUMN ignore_converting INTEGER NOT NULL DEFAULT 0`,
		check: `SELECT COUNT(*) > 0 FROM pragma_table_info('recordings_folders') WHERE name = 'ignore_converting'`,
	},
	{
		name:  "add known_files.datetimes",
		sql:   `ALTER TABLE known_files ADD COLUMN datetimes TEXT`,
		check: `SELECT COUNT(*) > 0 FROM pragma_table_info('known_files') WHERE name = 'datetimes'`,
	},
	{
		name: "add extensions lookup table",
		sql: `CREATE TABLE IF NOT EXISTS extensions (
	id INTEGER PRIMARY KEY,
	extension TEXT UNIQUE NOT NULL
)`,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'extensions')`,
	},
	{
		name:  "add known_files.extension_id",
		sql:   `ALTER TABLE known_files ADD COLUMN extension_id INTEGER REFERENCES extensions(id)`,
		check: `SELECT COUNT(*) > 0 FROM pragma_table_info('known_files') WHERE name = 'extension_id'`,
	},
	{
		name: "add checked_files",
		sql: `CREATE TABLE IF NOT EXISTS checked_files (
	id INTEGER PRIMARY KEY,
	known_file_id INTEGER NOT NULL UNIQUE,
	FOREIGN KEY(known_file_id) REFERENCES known_files(id)
)`,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'checked_files')`,
	},
	{
		name: "dedupe queue rows and enforce one entry per known file",
		sql: `DELETE FROM transcribe_queue WHERE id NOT IN (SELECT MIN(id) FROM transcribe_queue GROUP BY known_file_id);
DELETE FROM convert_queue WHERE id NOT IN (SELECT MIN(id) FROM convert_queue GROUP BY known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transcribe_queue_file ON transcribe_queue(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_convert_queue_file ON convert_queue(known_file_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = 'idx_transcribe_queue_file')`,
	},
	{
		name: "dedupe artifact and skip rows and enforce uniqueness",
		sql: `DELETE FROM audio_files WHERE id NOT IN (SELECT MIN(id) FROM audio_files GROUP BY known_file_id);
DELETE FROM transcript_files WHERE id NOT IN (SELECT MIN(id) FROM transcript_files GROUP BY known_file_id);
DELETE FROM skip_files WHERE id NOT IN (SELECT MIN(id) FROM skip_files GROUP BY known_file_id, reason);
DELETE FROM matched_pairs WHERE id NOT IN (SELECT MIN(id) FROM matched_pairs GROUP BY audio_file_id, transcript_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_audio_files_file ON audio_files(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_transcript_files_file ON transcript_files(known_file_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_skip_files_file_reason ON skip_files(known_file_id, reason);
CREATE UNIQUE INDEX IF NOT EXISTS idx_matched_pairs_pair ON matched_pairs(audio_file_id, transcript_file_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = 'idx_audio_files_file')`,
	},
}

// migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If the apply fails the error is returned as fatal, since every query in
// this package depends on these tables existing.
func (s *Store) migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := s.db.QueryRowContext(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		s.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	s.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL against the state database (sqlite3 shell) to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart tircorder.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
