package chunkclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// apiClient is the subset of apiclient.Client the uploader drives,
// narrowed so tests can fake it without an HTTP server.
type apiClient interface {
	InitiateChunked(ctx context.Context, path string, totalChunks int, totalSize int64) (string, error)
	UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data io.Reader, final bool, checksum, clientID string, vector vv.VV) (*apiclient.UploadChunkResult, error)
}

// Uploader drives a resumable chunked upload for one local file at a
// time, persisting progress via a SessionStore so an interrupted upload
// resumes from the last acknowledged chunk instead of restarting
// (data-model.md §3, chunk_upload_sessions; component-design.md §4.5).
// Non-final chunks within the current resume window upload concurrently,
// bounded by maxConcurrent (config.SyncConfig.MaxConcurrentChunks) — the
// server's chunksession.Manager writes each chunk at its own byte offset
// (chunkIndex*chunkSize), so out-of-order/concurrent chunk writes are
// already safe on the receiving end.
type Uploader struct {
	api           apiClient
	sessions      *SessionStore
	chunkSize     int64
	maxConcurrent int
	logger        *slog.Logger
}

func NewUploader(api apiClient, sessions *SessionStore, chunkSize int64, maxConcurrent int, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Uploader{api: api, sessions: sessions, chunkSize: chunkSize, maxConcurrent: maxConcurrent, logger: logger}
}

// Upload chunks localPath and uploads it, resuming any prior session
// recorded for this path. Returns the server's assembled file record.
func (u *Uploader) Upload(ctx context.Context, localPath, clientID string, vector vv.VV) (*wire.FileRecord, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("chunkclient: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunkclient: stating %s: %w", localPath, err)
	}

	totalSize := info.Size()
	totalChunks := int((totalSize + u.chunkSize - 1) / u.chunkSize)

	if totalChunks == 0 {
		totalChunks = 1
	}

	checksum, err := fileChecksum(f)
	if err != nil {
		return nil, err
	}

	rec, err := u.sessions.Load(localPath)
	if err != nil && !errors.Is(err, ErrCorruptSession) {
		return nil, err
	}

	if rec == nil || rec.TotalChunks != totalChunks || rec.FileSize != totalSize {
		sessionID, err := u.api.InitiateChunked(ctx, localPath, totalChunks, totalSize)
		if err != nil {
			return nil, fmt.Errorf("chunkclient: initiating session for %s: %w", localPath, err)
		}

		rec = &SessionRecord{
			LocalPath: localPath, SessionID: sessionID,
			TotalChunks: totalChunks, ChunkSize: u.chunkSize, FileSize: totalSize,
		}

		if err := u.sessions.Save(localPath, rec); err != nil {
			return nil, err
		}
	}

	// The final chunk finalizes the session (it carries the whole-file
	// checksum/clientID/vector) and is always sent alone, after every
	// other chunk is acknowledged — everything before it uploads
	// concurrently in windows of maxConcurrent.
	lastIndex := rec.TotalChunks - 1

	for rec.NextChunkIndex < lastIndex {
		batchStart := rec.NextChunkIndex
		batchEnd := batchStart + u.maxConcurrent

		if batchEnd > lastIndex {
			batchEnd = lastIndex
		}

		g, gctx := errgroup.WithContext(ctx)

		for idx := batchStart; idx < batchEnd; idx++ {
			idx := idx

			g.Go(func() error {
				_, err := u.api.UploadChunk(gctx, rec.SessionID, idx, u.chunkSectionReader(f, idx, totalSize), false, "", "", nil)
				if err != nil {
					return fmt.Errorf("chunkclient: uploading chunk %d/%d of %s: %w", idx, rec.TotalChunks, localPath, err)
				}

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		rec.NextChunkIndex = batchEnd

		if err := u.sessions.Save(localPath, rec); err != nil {
			return nil, err
		}
	}

	result, err := u.api.UploadChunk(ctx, rec.SessionID, lastIndex,
		u.chunkSectionReader(f, lastIndex, totalSize), true, checksum, clientID, vector)
	if err != nil {
		return nil, fmt.Errorf("chunkclient: uploading final chunk %d/%d of %s: %w", lastIndex, rec.TotalChunks, localPath, err)
	}

	rec.NextChunkIndex = rec.TotalChunks

	if err := u.sessions.Save(localPath, rec); err != nil {
		return nil, err
	}

	if !result.Final {
		return nil, fmt.Errorf("chunkclient: session for %s exhausted without server confirming completion", localPath)
	}

	if err := u.sessions.Delete(localPath); err != nil {
		u.logger.Warn("failed to remove completed upload session", slog.String("path", localPath))
	}

	return result.File, nil
}

// chunkSectionReader returns a reader over chunk idx's byte range. It is
// built on ReadAt (via io.NewSectionReader), which os.File implements
// without moving the file's shared offset, so concurrent goroutines can
// each read their own chunk from the same *os.File safely.
func (u *Uploader) chunkSectionReader(f *os.File, idx int, totalSize int64) io.Reader {
	offset := int64(idx) * u.chunkSize

	length := u.chunkSize
	if remaining := totalSize - offset; remaining < length {
		length = remaining
	}

	return io.NewSectionReader(f, offset, length)
}

func fileChecksum(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("chunkclient: seeking for checksum: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("chunkclient: computing checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
