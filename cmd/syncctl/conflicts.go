package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldersync/foldersync/internal/wire"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved sync conflicts",
		Long: `Display every file the server has flagged as conflicting
(concurrent edits from two clients merged into one version vector).
Use 'syncctl resolve' to pick a winner.`,
		RunE: runConflicts,
	}
}

type conflictJSON struct {
	FileID   string `json:"file_id"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	client, _, err := newAuthenticatedClient(cfg, defaultHTTPClient(), logger)
	if err != nil {
		return err
	}

	files, err := client.ListFiles(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	conflicted := make([]wire.FileRecord, 0)

	for _, f := range files {
		if f.ConflictStatus == wire.ConflictStatusConflicted {
			conflicted = append(conflicted, f)
		}
	}

	if len(conflicted) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	if flagJSON {
		return printConflictsJSON(conflicted)
	}

	printConflictsTable(conflicted)

	return nil
}

func printConflictsJSON(files []wire.FileRecord) error {
	items := make([]conflictJSON, len(files))
	for i := range files {
		items[i] = conflictJSON{
			FileID:   files[i].FileID,
			Path:     files[i].FilePath,
			Size:     files[i].FileSize,
			Modified: files[i].ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(files []wire.FileRecord) {
	headers := []string{"PATH", "SIZE", "MODIFIED"}
	rows := make([][]string, len(files))

	for i := range files {
		rows[i] = []string{files[i].FilePath, formatSize(files[i].FileSize), formatTime(files[i].ModifiedAt)}
	}

	printTable(os.Stdout, headers, rows)
}
