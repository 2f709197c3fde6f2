package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foldersync/foldersync/internal/client/localstate"
)

// runQueueWorker drains the sync queue whenever woken (by a watcher event,
// a reconciliation pass, or the poll fallback) or on a short fixed tick so
// a retry-scheduled entry whose delay has elapsed is not left stranded.
func (e *Engine) runQueueWorker(ctx context.Context) {
	ticker := time.NewTicker(defaultQueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.drainQueue(ctx)
		case <-ticker.C:
			e.drainQueue(ctx)
		}
	}
}

// drainQueue dequeues and dispatches tasks until the queue reports empty
// (or every due entry has been attempted). Tasks run sequentially by
// design (component-design.md §4.6: "queue handlers run sequentially by
// task"); a handler is free to use its own bounded parallelism internally
// for a single large transfer.
func (e *Engine) drainQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		entry, err := e.store.Dequeue(ctx)
		if errors.Is(err, localstate.ErrNotFound) {
			return
		}

		if err != nil {
			e.logger.Error("engine: dequeue failed", slog.String("error", err.Error()))
			return
		}

		if dispatchErr := e.dispatch(ctx, entry); dispatchErr != nil {
			e.logger.Warn("engine: task failed, rescheduling",
				slog.String("operation", string(entry.Operation)),
				slog.String("path", entry.FilePath),
				slog.String("error", dispatchErr.Error()))

			if markErr := e.store.MarkQueueRetry(ctx, entry.ID, dispatchErr.Error()); markErr != nil {
				e.logger.Error("engine: marking retry failed", slog.String("error", markErr.Error()))
				return
			}

			continue
		}

		if err := e.store.RemoveQueueEntry(ctx, entry.ID); err != nil {
			e.logger.Error("engine: removing completed queue entry failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, entry *localstate.QueueEntry) error {
	switch entry.Operation {
	case localstate.OpDelete:
		return e.handleDelete(ctx, entry.FilePath)
	case localstate.OpConflictResolve:
		return e.handleConflict(ctx, entry.FilePath)
	case localstate.OpUpload:
		return e.handleUpload(ctx, entry.FilePath)
	case localstate.OpDownload:
		return e.handleDownload(ctx, entry.FilePath)
	default:
		return fmt.Errorf("engine: unknown queue operation %q", entry.Operation)
	}
}
