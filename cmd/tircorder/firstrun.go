package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tircorder/tircorder/internal/config"
	"github.com/tircorder/tircorder/internal/store"
)

type runMode int

const (
	modeServer runMode = iota
	modeClient
	modeBoth
)

// resolveMode applies the launcher's selection rules: an explicit flag wins;
// without one, an interactive terminal gets the menu and a non-interactive
// run defaults to server.
func resolveMode(server, client, both bool) (runMode, error) {
	n := 0
	for _, set := range []bool{server, client, both} {
		if set {
			n++
		}
	}
	if n > 1 {
		return 0, errors.New("--server, --client, and --both are mutually exclusive")
	}
	switch {
	case server:
		return modeServer, nil
	case client:
		return modeClient, nil
	case both:
		return modeBoth, nil
	}
	if !stdinIsTerminal() {
		return modeServer, nil
	}

	fmt.Print("Choose an option:\n0. Run Server\n1. Run Client\n2. Run Both\nEnter choice (0, 1, 2): ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.TrimSpace(line) {
	case "0":
		return modeServer, nil
	case "1":
		return modeClient, nil
	case "2":
		return modeBoth, nil
	}
	return 0, fmt.Errorf("invalid choice %q", strings.TrimSpace(line))
}

// registerFolders makes sure the store knows at least one recording folder.
// The CLI data dir and the settings document are seeded first; if the table
// is still empty, an interactive terminal gets the first-run prompt and a
// non-interactive run fails so the operator notices.
func registerFolders(ctx context.Context, st *store.Store, settings *config.Settings, dataDir string, log zerolog.Logger) error {
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", dataDir, err)
		}
		if _, err := st.UpsertFolder(ctx, dataDir, false, false); err != nil {
			return fmt.Errorf("register data dir %s: %w", dataDir, err)
		}
	}
	for _, dir := range settings.RecordingsFolders {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		if _, err := st.UpsertFolder(ctx, dir, false, false); err != nil {
			return fmt.Errorf("register folder %s: %w", dir, err)
		}
	}

	folders, err := st.Folders(ctx)
	if err != nil {
		return fmt.Errorf("list folders: %w", err)
	}
	if len(folders) > 0 {
		log.Info().Int("folders", len(folders)).Msg("recording folders registered")
		return nil
	}

	if !stdinIsTerminal() {
		return errors.New("pass --data-dir or add recordings_folders to the settings document")
	}
	return promptFolders(ctx, st, log)
}

// promptFolders runs the first-run dialog: collect paths until a blank
// line, then ask the per-folder ignore flags. Wording matches the original
// setup script so existing operator runbooks keep working.
func promptFolders(ctx context.Context, st *store.Store, log zerolog.Logger) error {
	fmt.Println("No directories loaded from the database.")
	fmt.Println("You can input folder paths as a CSV list, newline separated, or one at a time.")

	reader := bufio.NewReader(os.Stdin)
	var collected []string
	for {
		fmt.Print("Enter folder paths (leave blank to finish): ")
		line, err := reader.ReadString('\n')
		entry := strings.TrimSpace(line)
		if entry == "" {
			break
		}
		for _, part := range strings.Split(entry, ",") {
			if p := strings.TrimSpace(part); p != "" {
				collected = append(collected, p)
			}
		}
		if err != nil {
			break
		}
	}

	if len(collected) == 0 {
		fmt.Println("No directories provided. Exiting...")
		return errors.New("no directories provided")
	}

	for _, dir := range collected {
		ignoreTranscribing := promptYesNo(reader, fmt.Sprintf("Ignore transcribing for %s? (y/N): ", dir))
		ignoreConverting := promptYesNo(reader, fmt.Sprintf("Ignore converting for %s? (y/N): ", dir))
		if _, err := st.UpsertFolder(ctx, dir, ignoreTranscribing, ignoreConverting); err != nil {
			return fmt.Errorf("register folder %s: %w", dir, err)
		}
	}
	log.Info().Int("folders", len(collected)).Msg("recording folders registered")
	return nil
}

func promptYesNo(reader *bufio.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// stdinIsTerminal reports whether stdin is a terminal, which decides
// whether missing configuration may be prompted for interactively.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
