// Package engine is the desktop client's sync engine core
// (component-design.md §4.6): it owns the local sync queue, the
// tombstone regime, the periodic reconciliation loop, and the
// per-operation task handlers, decomposed the way the teacher splits
// its executor across executor.go/executor_conflict.go/executor_delete.go/
// executor_transfer.go, tying together localstate, apiclient, chunkclient,
// pushclient, watcher and conflict into the running sync loop.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foldersync/foldersync/internal/client/chunkclient"
	"github.com/foldersync/foldersync/internal/client/conflict"
	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/client/pushclient"
	"github.com/foldersync/foldersync/internal/client/watcher"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// apiClient is the subset of apiclient.Client the engine depends on,
// narrowed per "accept interfaces, return structs" so tests can fake the
// network instead of standing up an HTTP server.
type apiClient interface {
	ListFiles(ctx context.Context) ([]wire.FileRecord, error)
	UploadDirect(ctx context.Context, path, checksum, clientID string, vector vv.VV, content io.Reader) (*wire.FileRecord, error)
	Replace(ctx context.Context, fileID, path, checksum, clientID string, vector vv.VV, content io.Reader) (*wire.FileRecord, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	Delete(ctx context.Context, fileID, clientID string) error
}

// Default timing, overridable via New's reconcileInterval parameter for
// the 30s periodic driver (component-design.md §4.6); the others are
// internal to the engine and not presently configurable.
const (
	defaultQueuePollInterval = 2 * time.Second
	tombstoneAgingInterval   = 1 * time.Hour
	// pushConnectedWidenFactor widens the reconciliation interval while a
	// push channel is connected (spec.md §4.8: 30s disconnected / 300s
	// connected, expressed here as a multiplier on the configured base).
	pushConnectedWidenFactor = 10
)

// Engine drives one user's sync loop: a filesystem watcher feeding the
// queue, a queue worker draining it, a periodic reconciler comparing
// local and server state, and optional push-channel readers that wake
// the reconciler early.
type Engine struct {
	store    localstate.Store
	api      apiClient
	uploader *chunkclient.Uploader
	arbiter  *conflict.Arbiter
	watcher  *watcher.Watcher

	pushClients []*pushclient.Client

	syncRoot          string
	clientID          string
	chunkThreshold    int64
	reconcileInterval time.Duration

	logger *slog.Logger

	wake           chan struct{}
	wakeReconciler chan struct{}
}

// New builds an Engine. uploader and arbiter must be non-nil; w drives the
// filesystem-change side, pushClients may be empty (polling-only mode).
func New(
	store localstate.Store,
	api apiClient,
	uploader *chunkclient.Uploader,
	arbiter *conflict.Arbiter,
	w *watcher.Watcher,
	pushClients []*pushclient.Client,
	syncRoot, clientID string,
	chunkThreshold int64,
	reconcileInterval time.Duration,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:             store,
		api:               api,
		uploader:          uploader,
		arbiter:           arbiter,
		watcher:           w,
		pushClients:       pushClients,
		syncRoot:          syncRoot,
		clientID:          clientID,
		chunkThreshold:    chunkThreshold,
		reconcileInterval: reconcileInterval,
		logger:            logger,
		wake:              make(chan struct{}, 1),
		wakeReconciler:    make(chan struct{}, 1),
	}
}

// Run performs the initial scan, then starts the watcher, queue worker,
// reconciliation loop, tombstone aging sweep, and any push-channel
// readers, blocking until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.checkSyncRootDrift(ctx); err != nil {
		e.logger.Warn("engine: sync root drift check failed", slog.String("error", err.Error()))
	}

	initial, err := e.watcher.InitialScan(ctx)
	if err != nil {
		return fmt.Errorf("engine: initial scan: %w", err)
	}

	for _, ev := range initial {
		if err := e.handleWatcherEvent(ctx, ev); err != nil {
			e.logger.Warn("engine: initial scan enqueue failed",
				slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}

	events := make(chan watcher.Event, 256)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := e.watcher.Watch(ctx, events); err != nil && ctx.Err() == nil {
			e.logger.Error("engine: watcher stopped", slog.String("error", err.Error()))
		}
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runEventLoop(ctx, events)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runQueueWorker(ctx)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runReconcileLoop(ctx)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runTombstoneAging(ctx)
	}()

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runStalePartialsSweep(ctx)
	}()

	for _, pc := range e.pushClients {
		wg.Add(1)

		go func(pc *pushclient.Client) {
			defer wg.Done()
			pc.Run(ctx)
		}(pc)
	}

	wg.Wait()

	return nil
}

// OnPushEvent is the onEvent callback wired into each pushclient.Client:
// a push frame is a wake-up signal, not authoritative data, so it simply
// triggers an immediate reconciliation rather than interpreting the event
// body itself — the decision table in reconcileOnce is the single place
// that compares version vectors against local state.
func (e *Engine) OnPushEvent(event wire.SyncEvent) {
	e.logger.Debug("engine: push event received, triggering reconciliation",
		slog.String("event_id", event.EventID), slog.String("path", event.FilePath))

	select {
	case e.wakeReconciler <- struct{}{}:
	default:
	}
}

func (e *Engine) runEventLoop(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			if err := e.handleWatcherEvent(ctx, ev); err != nil {
				e.logger.Warn("engine: handling watcher event failed",
					slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) handleWatcherEvent(ctx context.Context, ev watcher.Event) error {
	if ev.IsDir {
		return nil
	}

	switch ev.Type {
	case watcher.EventDelete:
		return e.OnLocalDelete(ctx, ev.Path)
	case watcher.EventCreate, watcher.EventModify:
		return e.enqueue(ctx, localstate.OpUpload, ev.Path)
	default:
		return nil
	}
}

// enqueue adds a task and wakes the queue worker.
func (e *Engine) enqueue(ctx context.Context, op localstate.Operation, path string) error {
	if err := e.store.Enqueue(ctx, &localstate.QueueEntry{FilePath: path, Operation: op}); err != nil {
		return fmt.Errorf("engine: enqueuing %s %s: %w", op, path, err)
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}

	return nil
}

// currentReconcileInterval widens the periodic reconciliation interval
// while a push channel is connected, per spec.md §4.8 ("while connected,
// poll interval widens... polling never stops entirely").
func (e *Engine) currentReconcileInterval() time.Duration {
	for _, pc := range e.pushClients {
		if pc.IsConnected() {
			return e.reconcileInterval * pushConnectedWidenFactor
		}
	}

	return e.reconcileInterval
}
