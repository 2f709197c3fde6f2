package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/foldersync/foldersync/internal/client/localstate"
)

// runReconcileLoop is the periodic driver (component-design.md §4.6,
// default every 30s): it runs once immediately, then re-arms its timer
// to the push-channel-aware interval after every pass, and can also be
// woken early by a push event.
func (e *Engine) runReconcileLoop(ctx context.Context) {
	if err := e.reconcileOnce(ctx); err != nil {
		e.logger.Error("engine: reconciliation failed", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(e.currentReconcileInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wakeReconciler:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}

		if err := e.reconcileOnce(ctx); err != nil {
			e.logger.Error("engine: reconciliation failed", slog.String("error", err.Error()))
		}

		timer.Reset(e.currentReconcileInterval())
	}
}

// reconcileOnce runs one pass of component-design.md §4.6's periodic
// reconciliation: enqueue PENDING uploads, walk the authoritative server
// file list through the per-file decision table, clean up server-vanished
// files. Tombstone aging runs on its own longer-period ticker
// (runTombstoneAging), not on every pass.
func (e *Engine) reconcileOnce(ctx context.Context) error {
	pending, err := e.store.ListTrackedFilesByStatus(ctx, localstate.StatusPending)
	if err != nil {
		return fmt.Errorf("engine: listing pending files: %w", err)
	}

	for _, f := range pending {
		if err := e.enqueue(ctx, localstate.OpUpload, f.FilePath); err != nil {
			return err
		}
	}

	serverFiles, err := e.api.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing server files: %w", err)
	}

	seen := make(map[string]bool, len(serverFiles))

	for _, sf := range serverFiles {
		seen[sf.FilePath] = true

		local, lookupErr := e.store.GetTrackedFile(ctx, sf.FilePath)
		if lookupErr != nil {
			if !errors.Is(lookupErr, localstate.ErrNotFound) {
				return fmt.Errorf("engine: looking up tracked file %s: %w", sf.FilePath, lookupErr)
			}

			local = nil
		}

		exists := e.localFileExists(sf.FilePath)

		var op localstate.Operation

		switch decideForServerFile(local, exists, sf.CurrentVersionVector) {
		case decisionDownload:
			op = localstate.OpDownload
		case decisionUpload:
			op = localstate.OpUpload
		case decisionConflict:
			op = localstate.OpConflictResolve
		default:
			continue
		}

		if err := e.enqueue(ctx, op, sf.FilePath); err != nil {
			return err
		}
	}

	return e.cleanupVanished(ctx, seen)
}

// cleanupVanished implements component-design.md §4.6's "cleanup of
// server-vanished files": a locally tracked path absent from the latest
// server list is dropped, unless it is already a DELETED tombstone (kept,
// since another client may still be seeing it — never promote DELETED to
// PENDING here).
func (e *Engine) cleanupVanished(ctx context.Context, seen map[string]bool) error {
	all, err := e.store.ListTrackedFiles(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing tracked files: %w", err)
	}

	for _, f := range all {
		if seen[f.FilePath] || f.SyncStatus == localstate.StatusDeleted {
			continue
		}

		if err := e.store.DeleteTrackedFile(ctx, f.FilePath); err != nil {
			return fmt.Errorf("engine: removing vanished tracked file %s: %w", f.FilePath, err)
		}

		if err := os.Remove(e.absPath(f.FilePath)); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("engine: removing local file for vanished server record failed",
				slog.String("path", f.FilePath), slog.String("error", err.Error()))
		}
	}

	return nil
}
