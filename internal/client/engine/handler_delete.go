package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/localstate"
)

// handleDelete issues the server-side delete for an already-tombstoned
// path (component-design.md §4.6: the DELETED mark was applied
// synchronously in OnLocalDelete before this task was ever enqueued). On
// failure the task is retried by the queue worker; the tombstone is
// untouched either way.
func (e *Engine) handleDelete(ctx context.Context, path string) error {
	local, err := e.store.GetTrackedFile(ctx, path)
	if err != nil {
		if errors.Is(err, localstate.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("engine: looking up %s for delete: %w", path, err)
	}

	if local.FileID == "" {
		// Never uploaded; nothing on the server to delete.
		return nil
	}

	if err := e.api.Delete(ctx, local.FileID, e.clientID); err != nil {
		if errors.Is(err, apiclient.ErrNotFound) {
			// Already gone on the server — success.
			return nil
		}

		return fmt.Errorf("engine: deleting %s on server: %w", path, err)
	}

	return nil
}
