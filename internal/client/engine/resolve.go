package engine

import "context"

// ResolveConflict is the explicit-user-choice counterpart to the
// automatic arbiter path (spec.md §3: "resolved either automatically...
// or by explicit user choice"): it bypasses Arbiter.Resolve entirely and
// drives the chosen side directly, for a CLI command acting on a single
// conflicted path outside the running daemon's queue.
func (e *Engine) ResolveConflict(ctx context.Context, path string, useLocal bool) error {
	if useLocal {
		return e.handleUpload(ctx, path)
	}

	if err := e.backupLocal(path); err != nil {
		return err
	}

	return e.handleDownload(ctx, path)
}
