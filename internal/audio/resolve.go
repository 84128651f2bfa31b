package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tircorder/tircorder/internal/store"
)

// ErrNotFound reports that no configured location holds the wanted file.
var ErrNotFound = errors.New("file not found")

// ResolveItem finds the on-disk path for a queued work item. Queue payloads
// carry a folder/name hint, but files move and stale snapshots get restored.
// Priority: 1) the payload hint  2) the known-file record in the store
// 3) a basename search across all configured folders.
func ResolveItem(ctx context.Context, st *store.Store, item store.WorkItem) (string, error) {
	// 1) payload hint
	if item.FolderPath != "" && item.FileName != "" {
		full := filepath.Join(item.FolderPath, item.FileName)
		if _, err := os.Stat(full); err == nil {
			return full, nil
		}
	}

	// 2) store record
	name := item.FileName
	if fi, err := st.ResolveFile(ctx, item.KnownFileID); err == nil {
		full := fi.Path()
		if _, err := os.Stat(full); err == nil {
			return full, nil
		}
		if name == "" {
			name = fi.FileName
		}
	}

	// 3) basename search across the configured folders
	if name != "" {
		folders, err := st.Folders(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve known_file %d: %w", item.KnownFileID, err)
		}
		for _, f := range folders {
			full := filepath.Join(f.Path, name)
			if _, err := os.Stat(full); err == nil {
				return full, nil
			}
		}
	}

	return "", fmt.Errorf("resolve known_file %d (%q): %w", item.KnownFileID, name, ErrNotFound)
}
