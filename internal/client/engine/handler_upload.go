package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// handleUpload implements component-design.md §4.6's upload handler. A
// tombstoned path whose file has reappeared has its tombstone cleared
// before proceeding; a tombstoned path whose file is still absent is a
// no-op (the watcher/reconciler should not have enqueued this, but a
// race is harmless here).
func (e *Engine) handleUpload(ctx context.Context, path string) error {
	absPath := e.absPath(path)

	local, err := e.store.GetTrackedFile(ctx, path)
	if err != nil {
		if !errors.Is(err, localstate.ErrNotFound) {
			return fmt.Errorf("engine: looking up %s for upload: %w", path, err)
		}

		local = nil
	}

	if local != nil && local.SyncStatus == localstate.StatusDeleted && !e.localFileExists(path) {
		return nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("engine: stat %s for upload: %w", path, err)
	}

	checksum, err := sha256File(absPath)
	if err != nil {
		return fmt.Errorf("engine: hashing %s: %w", path, err)
	}

	vvLocal := vvOf(local).Increment(e.clientID)

	tf := &localstate.TrackedFile{
		FilePath:      path,
		VersionVector: vvLocal,
		LastModified:  info.ModTime(),
		FileSize:      info.Size(),
		Checksum:      checksum,
		SyncStatus:    localstate.StatusPending,
	}
	if local != nil {
		tf.FileID = local.FileID
	}

	// Persist the incremented vector optimistically before the network
	// call, per component-design.md §4.6 step 4.
	if err := e.store.UpsertTrackedFile(ctx, tf); err != nil {
		return fmt.Errorf("engine: persisting optimistic state for %s: %w", path, err)
	}

	rec, err := e.uploadContent(ctx, tf, absPath, info.Size())
	if err != nil {
		// Leave PENDING; the periodic loop (or the next retry) picks it
		// back up — component-design.md §4.6 step 6.
		return fmt.Errorf("engine: uploading %s: %w", path, err)
	}

	if tf.FileID != rec.FileID {
		// The optimistic row above is keyed by the old (possibly empty) file
		// ID; drop it so the path stays tracked by a single row.
		if err := e.store.DeleteTrackedFile(ctx, path); err != nil {
			return fmt.Errorf("engine: replacing tracked row for %s: %w", path, err)
		}
	}

	tf.FileID = rec.FileID
	tf.VersionVector = rec.CurrentVersionVector
	tf.SyncStatus = localstate.StatusSynced

	if err := e.store.UpsertTrackedFile(ctx, tf); err != nil {
		return fmt.Errorf("engine: persisting synced state for %s: %w", path, err)
	}

	e.arbiter.MarkUploaded(path)

	return nil
}

// uploadContent dispatches to the chunked or direct upload path based on
// file size against CHUNK_THRESHOLD (component-design.md §4.6 step 3).
func (e *Engine) uploadContent(ctx context.Context, tf *localstate.TrackedFile, absPath string, size int64) (*wire.FileRecord, error) {
	if size >= e.chunkThreshold {
		return e.uploader.Upload(ctx, absPath, e.clientID, tf.VersionVector)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if tf.FileID != "" {
		return e.api.Replace(ctx, tf.FileID, tf.FilePath, tf.Checksum, e.clientID, tf.VersionVector, f)
	}

	return e.api.UploadDirect(ctx, tf.FilePath, tf.Checksum, e.clientID, tf.VersionVector, f)
}

// vvOf returns local's version vector, or an empty one if local is nil
// (an untracked path being uploaded for the first time).
func vvOf(local *localstate.TrackedFile) vv.VV {
	if local == nil {
		return vv.New()
	}

	return local.VersionVector
}
