package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve a conflicted file by explicit choice",
		Long: `Resolve a file the server has flagged as conflicting
(see 'syncctl conflicts'), bypassing the automatic last-write-wins
arbiter the daemon uses on its own.

Strategies:
  --keep-local   upload the local file, overwriting the server's version
  --keep-remote  download the server's version, overwriting the local one
                 (the current local file is backed up first)`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}

	cmd.Flags().Bool("keep-local", false, "upload local file to overwrite remote")
	cmd.Flags().Bool("keep-remote", false, "download remote file to overwrite local")
	cmd.MarkFlagsMutuallyExclusive("keep-local", "keep-remote")
	cmd.MarkFlagsOneRequired("keep-local", "keep-remote")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	keepLocal, err := cmd.Flags().GetBool("keep-local")
	if err != nil {
		return err
	}

	logger := buildLogger()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	eng, closeStore, err := buildEngine(cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	path := args[0]

	if err := eng.ResolveConflict(cmd.Context(), path, keepLocal); err != nil {
		return fmt.Errorf("resolving %q: %w", path, err)
	}

	if keepLocal {
		statusf("Resolved %s: kept local version.\n", path)
	} else {
		statusf("Resolved %s: kept remote version.\n", path)
	}

	return nil
}
