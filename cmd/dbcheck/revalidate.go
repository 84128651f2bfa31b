package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// revalidateKnownFiles drops rows whose backing file no longer exists on
// disk. The database is a cache of the folders; once a file vanishes its
// rows only mislead the pair and transcribed checks, and a file that later
// reappears should be admitted as a fresh sighting.
func revalidateKnownFiles(ctx context.Context, db *sql.DB, dryRun bool) {
	const listFiles = `
		SELECT k.id, k.file_name, f.folder_path
		FROM known_files k
		JOIN recordings_folders f ON k.folder_id = f.id
		ORDER BY k.id
	`

	rows, err := db.QueryContext(ctx, listFiles)
	if err != nil {
		fmt.Printf("Error listing known files: %v\n", err)
		return
	}
	defer rows.Close()

	type gone struct {
		id   int64
		path string
	}
	checked := 0
	var missing []gone
	for rows.Next() {
		var id int64
		var name, folder string
		if err := rows.Scan(&id, &name, &folder); err != nil {
			fmt.Printf("Error scanning row: %v\n", err)
			return
		}
		checked++
		p := filepath.Join(folder, name)
		// Stat failures other than not-exist leave the row alone.
		if _, err := os.Stat(p); os.IsNotExist(err) {
			missing = append(missing, gone{id: id, path: p})
		}
	}
	rows.Close()

	fmt.Printf("Checked %d known files, %d missing on disk\n", checked, len(missing))
	if len(missing) == 0 {
		return
	}

	if dryRun {
		fmt.Println("Dry run — no changes made. Run with 'revalidate apply' to fix.")
		for i, m := range missing {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(missing)-10)
				break
			}
			fmt.Printf("  id=%d %s\n", m.id, m.path)
		}
		return
	}

	removed := 0
	errors := 0
	for _, m := range missing {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			fmt.Printf("  Error starting tx for id=%d: %v\n", m.id, err)
			errors++
			continue
		}

		ok := true
		for _, child := range childTables {
			if _, err := tx.Exec(
				fmt.Sprintf("DELETE FROM %s WHERE known_file_id = ?", child),
				m.id,
			); err != nil {
				tx.Rollback()
				fmt.Printf("  Error clearing %s for id=%d: %v\n", child, m.id, err)
				errors++
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		if _, err := tx.Exec("DELETE FROM known_files WHERE id = ?", m.id); err != nil {
			tx.Rollback()
			fmt.Printf("  Error deleting id=%d: %v\n", m.id, err)
			errors++
			continue
		}
		if err := tx.Commit(); err != nil {
			fmt.Printf("  Error committing id=%d: %v\n", m.id, err)
			errors++
			continue
		}
		removed++
	}

	fmt.Printf("Removed %d rows, %d errors\n", removed, errors)

	// Artifact rows deleted above may leave pairs pointing at nothing.
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
