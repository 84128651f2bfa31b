package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tircorder/tircorder/internal/audio"
)

// checkIntegrity verifies that every known file carries an extension from
// the closed set and that the interned extension matches the one in the
// file name. Mismatches come from hand-edited databases or legacy imports.
func checkIntegrity(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT k.file_name, COALESCE(e.extension, '')
		FROM known_files k
		LEFT JOIN extensions e ON k.extension_id = e.id
	`)
	if err != nil {
		fmt.Printf("Error reading known_files: %v\n", err)
		return
	}
	defer rows.Close()

	type invalid struct {
		name, stored, actual string
	}
	total := 0
	var bad []invalid
	for rows.Next() {
		var name, stored string
		if err := rows.Scan(&name, &stored); err != nil {
			fmt.Printf("Error scanning: %v\n", err)
			return
		}
		total++
		actual := audio.Ext(name)
		if stored == "" || !audio.Interesting(name) || actual != stored {
			bad = append(bad, invalid{name: name, stored: stored, actual: actual})
		}
	}
	if err := rows.Err(); err != nil {
		fmt.Printf("Error reading known_files: %v\n", err)
		return
	}

	if len(bad) == 0 {
		fmt.Printf("Checked %d files, no invalid extensions found.\n", total)
		return
	}
	fmt.Println("Files with invalid extensions found in the database:")
	for _, f := range bad {
		fmt.Printf("  %s: db=%q actual=%q\n", f.name, f.stored, f.actual)
	}
	fmt.Printf("Checked %d files, %d invalid.\n", total, len(bad))
}
