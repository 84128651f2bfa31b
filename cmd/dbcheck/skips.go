package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
)

// listSkips prints every skip record with the path it blocks.
func listSkips(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.reason, k.file_name, f.folder_path
		FROM skip_files s
		JOIN known_files k ON s.known_file_id = k.id
		JOIN recordings_folders f ON k.folder_id = f.id
		ORDER BY s.id
	`)
	if err != nil {
		fmt.Printf("Error listing skips: %v\n", err)
		return
	}
	defer rows.Close()

	fmt.Println("ID     Reason                         Path")
	fmt.Println("─────────────────────────────────────────────")
	n := 0
	for rows.Next() {
		var id int64
		var reason, name, folder string
		if err := rows.Scan(&id, &reason, &name, &folder); err != nil {
			fmt.Printf("Error scanning skip: %v\n", err)
			return
		}
		fmt.Printf("%-6d %-30s %s\n", id, reason, filepath.Join(folder, name))
		n++
	}
	fmt.Printf("%d skip records\n", n)
}
