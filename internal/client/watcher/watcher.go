// Package watcher observes the local sync root for filesystem changes
// (component-design.md §4.9): an initial recursive scan on startup plus
// an fsnotify-driven watch loop, with a periodic safety scan to catch
// anything fsnotify missed.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// ErrNosyncGuard is returned when a .nosync guard file is present in the
// sync root — supplemented feature protecting against syncing into an
// unmounted or otherwise guarded directory.
var ErrNosyncGuard = errors.New("watcher: .nosync guard file present (sync root may be unmounted)")

const nosyncFileName = ".nosync"
const safetyScanInterval = 5 * time.Minute

// EventType classifies a detected local change.
type EventType int

// Recognized local event types.
const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

// Event is one detected local filesystem change, relative to syncRoot.
type Event struct {
	Type  EventType
	Path  string // relative to sync root, forward slashes
	IsDir bool
}

// FsWatcher abstracts filesystem event monitoring. Satisfied by
// *fsnotify.Watcher in production; tests inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Watcher walks the sync root and emits Events for local changes.
type Watcher struct {
	syncRoot       string
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
	droppedEvents  atomic.Int64
}

// New constructs a Watcher rooted at syncRoot.
func New(syncRoot string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		syncRoot: syncRoot,
		logger:   logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// DroppedEvents returns the count of events dropped because the output
// channel was full; the periodic safety scan catches up on these.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// checkNosyncGuard returns ErrNosyncGuard if the guard file is present.
func (w *Watcher) checkNosyncGuard() error {
	if _, err := os.Stat(filepath.Join(w.syncRoot, nosyncFileName)); err == nil {
		return ErrNosyncGuard
	}

	return nil
}

// InitialScan walks the sync root and reports every non-ignored file and
// directory found, so the
// caller can reconcile against its local state on startup without
// waiting for fsnotify events.
func (w *Watcher) InitialScan(ctx context.Context) ([]Event, error) {
	if err := w.checkNosyncGuard(); err != nil {
		return nil, err
	}

	var events []Event

	walkErr := filepath.WalkDir(w.syncRoot, func(fsPath string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("walk error during initial scan",
				slog.String("path", fsPath), slog.String("error", err.Error()))

			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fsPath == w.syncRoot {
			return nil
		}

		rel, err := filepath.Rel(w.syncRoot, fsPath)
		if err != nil {
			return fmt.Errorf("watcher: computing relative path for %s: %w", fsPath, err)
		}

		rel = normalizePath(rel)

		if shouldIgnore(d.Name()) {
			return skipEntry(d)
		}

		events = append(events, Event{Type: EventCreate, Path: rel, IsDir: d.IsDir()})

		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("watcher: initial scan canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("watcher: walking %s: %w", w.syncRoot, walkErr)
	}

	return events, nil
}

// Watch monitors the sync root for changes via fsnotify, sending Events
// to the provided channel, until ctx is canceled. A periodic safety scan
// re-walks the tree to catch anything fsnotify's OS-level watch missed.
func (w *Watcher) Watch(ctx context.Context, events chan<- Event) error {
	if err := w.checkNosyncGuard(); err != nil {
		return err
	}

	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watcher: creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addWatchesRecursive(fw); err != nil {
		return fmt.Errorf("watcher: adding initial watches: %w", err)
	}

	ticker := time.NewTicker(safetyScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleFsnotifyEvent(ctx, fw, ev, events)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.runSafetyScan(ctx, events)
		}
	}
}

func (w *Watcher) handleFsnotifyEvent(ctx context.Context, fw FsWatcher, ev fsnotify.Event, events chan<- Event) {
	name := filepath.Base(ev.Name)
	if shouldIgnore(name) {
		return
	}

	rel, err := filepath.Rel(w.syncRoot, ev.Name)
	if err != nil {
		return
	}

	rel = normalizePath(rel)

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if isDir && ev.Op&(fsnotify.Create) != 0 {
		if err := fw.Add(ev.Name); err != nil {
			w.logger.Warn("failed to add watch for new directory", slog.String("path", ev.Name))
		}
	}

	var out Event

	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		out = Event{Type: EventDelete, Path: rel, IsDir: isDir}
	case ev.Op&fsnotify.Create != 0:
		out = Event{Type: EventCreate, Path: rel, IsDir: isDir}
	case ev.Op&fsnotify.Write != 0:
		out = Event{Type: EventModify, Path: rel, IsDir: isDir}
	default:
		return
	}

	w.trySend(ctx, events, out)
}

func (w *Watcher) trySend(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	default:
		w.droppedEvents.Add(1)
		w.logger.Warn("watcher event channel full, dropping event (safety scan will catch up)",
			slog.String("path", ev.Path))
	}
}

func (w *Watcher) runSafetyScan(ctx context.Context, events chan<- Event) {
	scanned, err := w.InitialScan(ctx)
	if err != nil {
		w.logger.Warn("periodic safety scan failed", slog.String("error", err.Error()))
		return
	}

	for _, ev := range scanned {
		w.trySend(ctx, events, ev)
	}
}

func (w *Watcher) addWatchesRecursive(fw FsWatcher) error {
	return filepath.WalkDir(w.syncRoot, func(fsPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if fsPath != w.syncRoot && shouldIgnore(d.Name()) {
			return filepath.SkipDir
		}

		if err := fw.Add(fsPath); err != nil {
			w.logger.Warn("failed to add watch", slog.String("path", fsPath), slog.String("error", err.Error()))
		}

		return nil
	})
}

// normalizePath converts rel to forward slashes and Unicode-normalizes
// it to NFC, the way scanner.go normalizes OneDrive item names: macOS's
// filesystem stores decomposed (NFD) Unicode while most other platforms
// and the server expect composed (NFC) form, so the same filename typed
// identically on two devices must still produce the same path string —
// otherwise it looks like two different files to the version-vector
// comparison in reconcile.go.
func normalizePath(rel string) string {
	return norm.NFC.String(filepath.ToSlash(rel))
}

// shouldIgnore reports whether name must never be synced: dotfiles,
// editor temporaries, and backup-suffixed files (component-design.md
// §4.9's filter list, generalized from the teacher's OneDrive-specific
// exclusion rules to this spec's plain "ignore dotfiles/.tmp/~" rule).
func shouldIgnore(name string) bool {
	if name == "" || name == "." {
		return true
	}

	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, "~") {
		return true
	}

	return false
}

func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
