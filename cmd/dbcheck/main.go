package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tircorder/tircorder/internal/store"
)

// dbcheck is the offline maintenance tool for the state database. It runs
// against the same file the service uses; stop the service first for the
// mutating subcommands.
func main() {
	dbPath := os.Getenv("TIRCORDER_STATE_DB")
	if dbPath == "" {
		dbPath = "state.db"
	}

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "integrity" {
		db := openRaw(dbPath)
		defer db.Close()
		checkIntegrity(ctx, db)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "fix-dupes" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		db := openRaw(dbPath)
		defer db.Close()
		fixDuplicateKnownFiles(ctx, db, dryRun)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "skips" {
		db := openRaw(dbPath)
		defer db.Close()
		listSkips(ctx, db)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "revalidate" {
		dryRun := !(len(os.Args) > 2 && os.Args[2] == "apply")
		db := openRaw(dbPath)
		defer db.Close()
		revalidateKnownFiles(ctx, db, dryRun)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "clear-skips" {
		st := openStore(dbPath)
		defer st.Close()
		n, err := st.ClearAllSkips(ctx)
		if err != nil {
			fmt.Printf("Error clearing skips: %v\n", err)
			return
		}
		fmt.Printf("Cleared %d skip records\n", n)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "rematch" {
		st := openStore(dbPath)
		defer st.Close()
		n, err := st.RecomputePairs(ctx)
		if err != nil {
			fmt.Printf("Error rebuilding pairs: %v\n", err)
			return
		}
		fmt.Printf("Rebuilt matched_pairs: %d pairs\n", n)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "dangling" {
		st := openStore(dbPath)
		defer st.Close()
		d, err := st.ListDangling(ctx)
		if err != nil {
			fmt.Printf("Error listing dangling files: %v\n", err)
			return
		}
		fmt.Printf("── Audio without transcript (%d) ──\n", len(d.Audio))
		for _, f := range d.Audio {
			fmt.Printf("  %s\n", filepath.Join(f.FolderPath, f.FileName))
		}
		fmt.Printf("── Transcripts without audio (%d) ──\n", len(d.Transcripts))
		for _, f := range d.Transcripts {
			fmt.Printf("  %s\n", filepath.Join(f.FolderPath, f.FileName))
		}
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "snapshot" {
		path := filepath.Join(filepath.Dir(dbPath), "state_backup.json")
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		st := openStore(dbPath)
		defer st.Close()
		snap, err := st.ExportSnapshot(ctx, path)
		if err != nil {
			fmt.Printf("Error exporting snapshot: %v\n", err)
			return
		}
		fmt.Printf("Snapshot written to %s\n", path)
		fmt.Printf("  known files:      %d\n", snap.KnownFiles)
		fmt.Printf("  transcribe queue: %d\n", len(snap.TranscribeQueue))
		fmt.Printf("  convert queue:    %d\n", len(snap.ConvertQueue))
		fmt.Printf("  skips:            %d\n", len(snap.Skips))
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "restore" {
		if len(os.Args) < 3 {
			fmt.Println("usage: dbcheck restore <snapshot.json>")
			os.Exit(1)
		}
		st := openStore(dbPath)
		defer st.Close()
		snap, err := st.ImportSnapshot(ctx, os.Args[2])
		if err != nil {
			fmt.Printf("Error importing snapshot: %v\n", err)
			return
		}
		fmt.Printf("Snapshot merged from %s\n", os.Args[2])
		fmt.Printf("  transcribe queue: %d\n", len(snap.TranscribeQueue))
		fmt.Printf("  convert queue:    %d\n", len(snap.ConvertQueue))
		fmt.Printf("  skips:            %d\n", len(snap.Skips))
		return
	}

	// Default: table counts
	db := openRaw(dbPath)
	defer db.Close()

	tables := []string{
		"recordings_folders", "extensions", "known_files",
		"audio_files", "transcript_files", "matched_pairs",
		"transcribe_queue", "convert_queue",
		"skip_files", "checked_files",
	}
	fmt.Println("Table                    Count")
	fmt.Println("─────────────────────────────────")
	for _, t := range tables {
		var count int64
		db.QueryRowContext(ctx, "SELECT count(*) FROM "+t).Scan(&count)
		fmt.Printf("%-25s %d\n", t, count)
	}
}

// openRaw connects straight to the SQLite file for read-mostly inspection.
func openRaw(path string) *sql.DB {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		panic(err)
	}
	if err := db.Ping(); err != nil {
		panic(err)
	}
	return db
}

// openStore goes through the store layer so mutations take the same writer
// path and migrations the service uses.
func openStore(path string) *store.Store {
	quiet := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	st, err := store.Open(store.Options{Path: path, Log: quiet})
	if err != nil {
		panic(err)
	}
	return st
}
