package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldersync/foldersync/internal/client/localstate"
)

// OnLocalDelete implements the tombstone regime (component-design.md
// §4.6): the path MUST be marked DELETED in local state synchronously,
// before any network request, so a propagation-delayed server response
// can never cause this client to re-download a file it just deleted.
func (e *Engine) OnLocalDelete(ctx context.Context, path string) error {
	local, err := e.store.GetTrackedFile(ctx, path)
	if err != nil {
		if errors.Is(err, localstate.ErrNotFound) {
			// Nothing tracked at this path; no tombstone to raise.
			return nil
		}

		return fmt.Errorf("engine: looking up %s before tombstoning: %w", path, err)
	}

	local.SyncStatus = localstate.StatusDeleted

	if err := e.store.UpsertTrackedFile(ctx, local); err != nil {
		return fmt.Errorf("engine: tombstoning %s: %w", path, err)
	}

	return e.enqueue(ctx, localstate.OpDelete, path)
}

// runTombstoneAging periodically purges DELETED tombstones whose local
// file is confirmed gone, bounding database growth while leaving a window
// for other clients to observe the deletion (component-design.md §4.6).
func (e *Engine) runTombstoneAging(ctx context.Context) {
	ticker := time.NewTicker(tombstoneAgingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ageTombstones(ctx); err != nil {
				e.logger.Error("engine: tombstone aging failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) ageTombstones(ctx context.Context) error {
	tombstones, err := e.store.ListTrackedFilesByStatus(ctx, localstate.StatusDeleted)
	if err != nil {
		return fmt.Errorf("engine: listing tombstones: %w", err)
	}

	for _, f := range tombstones {
		if e.localFileExists(f.FilePath) {
			continue
		}

		if err := e.store.DeleteTrackedFile(ctx, f.FilePath); err != nil {
			return fmt.Errorf("engine: purging tombstone %s: %w", f.FilePath, err)
		}
	}

	return nil
}
