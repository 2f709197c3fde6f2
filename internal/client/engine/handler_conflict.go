package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/foldersync/foldersync/internal/client/conflict"
)

// handleConflict implements component-design.md §4.6's CONFLICT_RESOLVE
// task: consult the arbiter (§4.10), then act on its decision. USE_SERVER
// and USE_MERGED both back up the local file before replacing it — the
// difference an interactive policy would make (discard vs. keep both) is
// already captured by the backup existing on disk; this engine has no
// merge logic of its own to offer beyond that.
func (e *Engine) handleConflict(ctx context.Context, path string) error {
	decision, err := e.arbiter.Resolve(ctx, path)
	if err != nil {
		return fmt.Errorf("engine: resolving conflict for %s: %w", path, err)
	}

	switch decision {
	case conflict.Cancelled:
		return nil
	case conflict.UseLocal:
		return e.handleUpload(ctx, path)
	case conflict.UseServer, conflict.UseMerged:
		if err := e.backupLocal(path); err != nil {
			return err
		}

		return e.handleDownload(ctx, path)
	default:
		return fmt.Errorf("engine: conflict resolution for %s: unrecognized decision %q", path, decision)
	}
}

func (e *Engine) backupLocal(path string) error {
	absPath := e.absPath(path)

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("engine: stat %s before conflict backup: %w", path, err)
	}

	backupPath := conflict.GenerateBackupPath(absPath)
	if err := os.Rename(absPath, backupPath); err != nil {
		return fmt.Errorf("engine: backing up %s before conflict resolution: %w", path, err)
	}

	return nil
}
