package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/wire"
)

// handleDownload implements component-design.md §4.6's download handler.
func (e *Engine) handleDownload(ctx context.Context, path string) error {
	files, err := e.api.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing server files to resolve %s: %w", path, err)
	}

	match := findByPath(files, path)
	if match == nil {
		// Not found: the file belongs locally but isn't on the server.
		if e.localFileExists(path) {
			return e.enqueue(ctx, localstate.OpUpload, path)
		}

		return nil
	}

	absPath := e.absPath(path)
	partialPath := absPath + ".partial"

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("engine: creating directory for %s: %w", path, err)
	}

	checksum, size, err := e.downloadToPartial(ctx, match.FileID, partialPath)
	if err != nil {
		_ = os.Remove(partialPath)
		return fmt.Errorf("engine: downloading %s: %w", path, err)
	}

	if err := os.Rename(partialPath, absPath); err != nil {
		_ = os.Remove(partialPath)
		return fmt.Errorf("engine: replacing %s with downloaded content: %w", path, err)
	}

	tf := &localstate.TrackedFile{
		FileID:        match.FileID,
		FilePath:      path,
		VersionVector: match.CurrentVersionVector,
		LastModified:  match.ModifiedAt,
		FileSize:      size,
		Checksum:      checksum,
		SyncStatus:    localstate.StatusSynced,
	}

	if err := e.store.UpsertTrackedFile(ctx, tf); err != nil {
		return fmt.Errorf("engine: persisting synced state for %s: %w", path, err)
	}

	return nil
}

func (e *Engine) downloadToPartial(ctx context.Context, fileID, partialPath string) (checksum string, size int64, err error) {
	rc, err := e.api.Download(ctx, fileID)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	f, err := os.Create(partialPath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()

	n, err := io.Copy(io.MultiWriter(f, hasher), rc)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

func findByPath(files []wire.FileRecord, path string) *wire.FileRecord {
	for i := range files {
		if files[i].FilePath == path {
			return &files[i]
		}
	}

	return nil
}
