package main

import (
	"context"
	"database/sql"
	"fmt"
)

// childTables reference known_files and carry a unique index on
// known_file_id (skip_files on the id+reason pair). Repointing must
// tolerate the kept row already owning an entry.
var childTables = []string{
	"audio_files", "transcript_files",
	"transcribe_queue", "convert_queue",
	"skip_files", "checked_files",
}

// fixDuplicateKnownFiles merges known_files rows that share (file_name,
// folder_id). Databases written before identity settled on that pair hold
// one row per (name, folder, datetimes) triple; the oldest row wins and
// child rows are repointed onto it.
func fixDuplicateKnownFiles(ctx context.Context, db *sql.DB, dryRun bool) {
	const findDupes = `
		SELECT k.id, keep.keep_id, k.file_name
		FROM known_files k
		JOIN (
			SELECT file_name, folder_id, MIN(id) AS keep_id
			FROM known_files
			GROUP BY file_name, folder_id
			HAVING COUNT(*) > 1
		) keep ON keep.file_name = k.file_name AND keep.folder_id = k.folder_id
		WHERE k.id != keep.keep_id
		ORDER BY keep.keep_id, k.id
	`

	rows, err := db.QueryContext(ctx, findDupes)
	if err != nil {
		fmt.Printf("Error finding duplicates: %v\n", err)
		return
	}
	defer rows.Close()

	type dupe struct {
		deleteID, keepID int64
		fileName         string
	}
	var dupes []dupe
	for rows.Next() {
		var d dupe
		if err := rows.Scan(&d.deleteID, &d.keepID, &d.fileName); err != nil {
			fmt.Printf("Error scanning duplicate: %v\n", err)
			return
		}
		dupes = append(dupes, d)
	}
	rows.Close()

	fmt.Printf("Found %d duplicate known_files rows\n", len(dupes))
	if len(dupes) == 0 {
		return
	}

	if dryRun {
		fmt.Println("Dry run — no changes made. Run with 'fix-dupes apply' to fix.")
		for i, d := range dupes {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(dupes)-10)
				break
			}
			fmt.Printf("  keep id=%d, delete id=%d (%s)\n", d.keepID, d.deleteID, d.fileName)
		}
		return
	}

	merged := 0
	errors := 0
	for _, d := range dupes {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			fmt.Printf("  Error starting tx for id=%d: %v\n", d.deleteID, err)
			errors++
			continue
		}

		ok := true
		for _, child := range childTables {
			// Repoint; rows losing to an existing entry on the kept id are
			// dropped with the duplicate.
			_, err = tx.Exec(
				fmt.Sprintf("UPDATE OR IGNORE %s SET known_file_id = ? WHERE known_file_id = ?", child),
				d.keepID, d.deleteID,
			)
			if err == nil {
				_, err = tx.Exec(
					fmt.Sprintf("DELETE FROM %s WHERE known_file_id = ?", child),
					d.deleteID,
				)
			}
			if err != nil {
				tx.Rollback()
				fmt.Printf("  Error repointing %s for id=%d: %v\n", child, d.deleteID, err)
				errors++
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		if _, err := tx.Exec("DELETE FROM known_files WHERE id = ?", d.deleteID); err != nil {
			tx.Rollback()
			fmt.Printf("  Error deleting id=%d: %v\n", d.deleteID, err)
			errors++
			continue
		}
		if err := tx.Commit(); err != nil {
			fmt.Printf("  Error committing id=%d: %v\n", d.deleteID, err)
			errors++
			continue
		}
		merged++
	}

	fmt.Printf("Merged %d rows, %d errors\n", merged, errors)

	// Pairs referencing artifacts dropped in the merge are now orphans.
	res, err := db.ExecContext(ctx, `
		DELETE FROM matched_pairs
		WHERE audio_file_id NOT IN (SELECT id FROM audio_files)
		   OR transcript_file_id NOT IN (SELECT id FROM transcript_files)
	`)
	if err != nil {
		fmt.Printf("Error cleaning orphaned pairs: %v\n", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		fmt.Printf("Deleted %d orphaned matched_pairs\n", n)
	}
}
