// Command syncctl is the desktop client's CLI: login/logout against the
// sync server, a foreground sync daemon, and status/conflict-listing/
// conflict-resolution commands operating directly on the local state
// database and server API, mirroring cmd/onedrive's cobra command tree
// (root.go/status.go/sync.go/conflicts.go/resolve.go) generalized from
// OneDrive's multi-drive model to this system's single server + single
// sync root per invocation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foldersync/foldersync/internal/client/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// httpClientTimeout bounds metadata requests (login, status, listing);
// transfers use transferHTTPClient instead since a large upload/download
// can legitimately run past 30s.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

func transferHTTPClient() *http.Client {
	return &http.Client{Timeout: 0}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Desktop sync client",
		Long:          "A folder-sync CLI and background daemon for the file sync service.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

// buildLogger creates an slog.Logger honoring the verbosity flags.
// --verbose, --debug, and --quiet are mutually exclusive (enforced by
// Cobra); the default level is Warn.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadClientConfig resolves the effective config path and loads it,
// returning a validated config.Config.
func loadClientConfig() (*config.Config, error) {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func statusf(format string, args ...any) {
	if flagQuiet {
		return
	}

	fmt.Printf(format, args...)
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// backgroundContext returns a context carrying no deadline, for commands
// that don't install their own signal handling.
func backgroundContext() context.Context {
	return context.Background()
}
