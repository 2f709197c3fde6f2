package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldersync/foldersync/internal/client/config"
	"github.com/foldersync/foldersync/internal/client/credstore"
	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/wire"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show login state and local sync queue summary",
		Long: `Display whether a session is logged in, the configured sync
folder, and a summary of the local sync queue (pending uploads/
downloads, unresolved conflicts, and queue depth by operation).`,
		RunE: runStatus,
	}
}

type statusReport struct {
	LoggedIn  bool           `json:"logged_in"`
	Username  string         `json:"username,omitempty"`
	ServerURL string         `json:"server_url"`
	SyncPath  string         `json:"sync_path"`
	Synced    int            `json:"synced_files"`
	Pending   int            `json:"pending_files"`
	Conflicts int            `json:"conflicted_files"`
	QueueByOp map[string]int `json:"queue_by_operation"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	report := statusReport{
		ServerURL: cfg.Server.URL,
		SyncPath:  cfg.Sync.Path,
		QueueByOp: map[string]int{},
	}

	logger := buildLogger()

	creds, err := credstore.Load(config.DefaultCredentialPath())
	if err != nil {
		return err
	}

	if creds != nil {
		report.LoggedIn = true
		report.Username = creds.Username
	}

	store, err := localstate.Open(cmd.Context(), config.DefaultStatePath(), nil)
	if err != nil {
		return fmt.Errorf("opening local state: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	synced, err := store.ListTrackedFilesByStatus(ctx, localstate.StatusSynced)
	if err != nil {
		return err
	}

	report.Synced = len(synced)

	pending, err := store.ListTrackedFilesByStatus(ctx, localstate.StatusPending)
	if err != nil {
		return err
	}

	report.Pending = len(pending)

	if report.LoggedIn {
		client, _, clientErr := newAuthenticatedClient(cfg, defaultHTTPClient(), logger)
		if clientErr != nil {
			return clientErr
		}

		files, listErr := client.ListFiles(ctx)
		if listErr != nil {
			logger.Warn("could not query server for conflict count", "error", listErr.Error())
		} else {
			report.Conflicts = countConflicted(files)
		}
	}

	queue, err := store.ListQueue(ctx)
	if err != nil {
		return err
	}

	for _, q := range queue {
		report.QueueByOp[string(q.Operation)]++
	}

	if flagJSON {
		return printStatusJSON(&report)
	}

	printStatusText(&report)

	return nil
}

func countConflicted(files []wire.FileRecord) int {
	n := 0

	for i := range files {
		if files[i].ConflictStatus == wire.ConflictStatusConflicted {
			n++
		}
	}

	return n
}

func printStatusJSON(report *statusReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(report *statusReport) {
	if report.LoggedIn {
		fmt.Printf("%s %s (%s)\n", bold("Logged in as"), report.Username, report.ServerURL)
	} else {
		fmt.Printf("%s (%s) — run 'syncctl login'\n", bold("Not logged in"), report.ServerURL)
	}

	fmt.Printf("Sync folder: %s\n", report.SyncPath)
	fmt.Printf("Synced: %d   Pending: %d   Conflicted: %d\n", report.Synced, report.Pending, report.Conflicts)

	if len(report.QueueByOp) == 0 {
		fmt.Println("Queue: empty")
		return
	}

	fmt.Println("Queue:")

	for _, op := range []string{"DELETE", "CONFLICT_RESOLVE", "UPLOAD", "DOWNLOAD"} {
		if n, ok := report.QueueByOp[op]; ok {
			fmt.Printf("  %-18s %d\n", op, n)
		}
	}
}
