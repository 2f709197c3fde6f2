package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var flagNoPush bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the sync daemon in the foreground",
		Long: `Start the sync engine: watch the configured folder for local
changes, drain the upload/download/delete/conflict queue, and
periodically reconcile against the server. Runs until interrupted
(SIGINT/SIGTERM); a second signal forces an immediate exit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagNoPush)
		},
	}

	cmd.Flags().BoolVar(&flagNoPush, "no-push", false, "poll only, do not open a push channel")

	return cmd
}

func runSync(cmd *cobra.Command, noPush bool) error {
	logger := buildLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	eng, closeStore, err := buildEngine(cfg, logger, !noPush)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := shutdownContext(cmd.Context(), logger)

	statusf("Syncing %s with %s. Press Ctrl-C to stop.\n", cfg.Sync.Path, cfg.Server.URL)

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync engine stopped: %w", err)
	}

	return nil
}
