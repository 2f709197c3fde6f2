package engine

import (
	"context"
	"log/slog"

	"github.com/foldersync/foldersync/internal/client/localstate"
)

// checkSyncRootDrift compares the configured sync root against the one
// recorded from the engine's last run and warns (never errors) if it
// changed, so a user who edited the config while tracked-file state
// still points at the old folder finds out instead of the engine
// silently reconciling an unrelated directory against that history.
// The snapshot is then updated to the current root for next time.
func (e *Engine) checkSyncRootDrift(ctx context.Context) error {
	previous, ok, err := e.store.GetConfigValue(ctx, localstate.SyncRootKey)
	if err != nil {
		return err
	}

	if ok && previous != e.syncRoot {
		e.logger.Warn("sync root changed since the last run",
			slog.String("previous", previous), slog.String("current", e.syncRoot))
	}

	return e.store.SetConfigValue(ctx, localstate.SyncRootKey, e.syncRoot)
}
