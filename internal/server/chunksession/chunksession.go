// Package chunksession implements the server-side resumable chunked upload
// session lifecycle (component-design.md §4.5): initiate, accept chunks
// idempotently, assemble and validate on completion, and reclaim abandoned
// or finished sessions on a schedule.
package chunksession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foldersync/foldersync/internal/server/contentstore"
	"github.com/foldersync/foldersync/internal/server/metastore"
)

// ErrTooManyActiveSessions is returned when a user has reached the
// configured concurrent chunk-session cap.
var ErrTooManyActiveSessions = errors.New("chunksession: too many active sessions")

// ErrSessionExpired is returned when a chunk is uploaded against a session
// past its expiry, or a session already reclaimed by the cleanup sweep.
var ErrSessionExpired = errors.New("chunksession: session expired")

// ErrSessionNotInProgress is returned when an operation requires an
// IN_PROGRESS session but finds one already in a terminal state.
var ErrSessionNotInProgress = errors.New("chunksession: session not in progress")

// ErrChecksumMismatch is returned when the assembled file's checksum does
// not match the checksum declared at session initiation.
var ErrChecksumMismatch = errors.New("chunksession: assembled checksum mismatch")

// ErrSizeMismatch is returned when the assembled file's size does not match
// the size declared at session initiation.
var ErrSizeMismatch = errors.New("chunksession: assembled size mismatch")

// ErrInvalidChunkIndex is returned when a chunk's index falls outside
// [0, totalChunks) for its session.
var ErrInvalidChunkIndex = errors.New("chunksession: chunk index out of range")

// Completed-session retention before the purge sweep reclaims the row
// (component-design.md §4.5).
const (
	completedRetention = 7 * 24 * time.Hour
	terminalRetention  = 24 * time.Hour
)

// Manager coordinates chunk session state in metastore.Store with content
// bytes in contentstore.Store.
type Manager struct {
	store             metastore.Store
	content           *contentstore.Store
	logger            *slog.Logger
	maxActiveSessions int
	sessionTimeout    time.Duration
	now               func() time.Time
}

// New constructs a Manager. maxActiveSessions bounds concurrent IN_PROGRESS
// sessions per user; sessionTimeout is the TTL assigned to new sessions.
func New(store metastore.Store, content *contentstore.Store, maxActiveSessions int, sessionTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:             store,
		content:           content,
		logger:            logger,
		maxActiveSessions: maxActiveSessions,
		sessionTimeout:    sessionTimeout,
		now:               time.Now,
	}
}

// Initiate opens a new upload session for a file of totalSize bytes split
// into totalChunks pieces. Rejects the request if the user already holds
// maxActiveSessions IN_PROGRESS sessions.
func (m *Manager) Initiate(ctx context.Context, userID, filePath string, totalSize int64, totalChunks int) (*metastore.ChunkSession, error) {
	active, err := m.store.CountActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if active >= m.maxActiveSessions {
		return nil, fmt.Errorf("%w: user %s already has %d active sessions", ErrTooManyActiveSessions, userID, active)
	}

	now := m.now()

	session := &metastore.ChunkSession{
		SessionID:              uuid.NewString(),
		UserID:                 userID,
		FilePath:               filePath,
		TotalChunks:            totalChunks,
		TotalFileSize:          totalSize,
		Status:                 metastore.ChunkSessionInProgress,
		ReceivedChunkChecksums: make(map[int]string),
		CreatedAt:              now,
		ExpiresAt:              now.Add(m.sessionTimeout),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// UploadChunk writes one chunk's bytes to its offset in the session's
// pre-allocated destination file and records its checksum. Re-uploading an
// already-received chunk index with identical bytes is a no-op success
// (idempotent retries); re-uploading with different bytes overwrites it.
func (m *Manager) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, chunkSize int64, data io.Reader) (*metastore.ChunkSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != metastore.ChunkSessionInProgress {
		return nil, fmt.Errorf("%w: session %s has status %s", ErrSessionNotInProgress, sessionID, session.Status)
	}

	if m.now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("%w: session %s", ErrSessionExpired, sessionID)
	}

	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, fmt.Errorf("%w: chunk %d, session %s has %d total chunks", ErrInvalidChunkIndex, chunkIndex, sessionID, session.TotalChunks)
	}

	if session.StoragePath == "" {
		handle, err := m.content.PutStream(session.UserID, sessionID, session.TotalFileSize)
		if err != nil {
			return nil, err
		}

		session.StoragePath = handle.Path

		if err := handle.Close(); err != nil {
			return nil, fmt.Errorf("chunksession: closing preallocated file: %w", err)
		}
	}

	alreadyReceived := session.ReceivedChunkChecksums[chunkIndex] != ""

	// Every chunk but the last has the same size, so the last chunk ends at
	// TotalFileSize and every other chunk starts at chunkIndex*chunkSize.
	offset := int64(chunkIndex) * chunkSize
	if chunkIndex == session.TotalChunks-1 {
		offset = session.TotalFileSize - chunkSize
	}

	checksum, err := m.writeChunkAt(session.StoragePath, offset, chunkIndex, chunkSize, data)
	if err != nil {
		return nil, err
	}

	if !alreadyReceived {
		session.ReceivedChunks++
		session.ReceivedSize += chunkSize
	}

	session.ReceivedChunkChecksums[chunkIndex] = checksum

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

func (m *Manager) writeChunkAt(path string, offset int64, chunkIndex int, chunkSize int64, data io.Reader) (string, error) {
	f, err := m.content.OpenWrite(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	reader := io.TeeReader(io.LimitReader(data, chunkSize), hasher)

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("chunksession: seeking to chunk offset: %w", err)
	}

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("chunksession: writing chunk %d: %w", chunkIndex, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Status returns the current session record, for polling clients that want
// to know which chunks are still outstanding before resuming.
func (m *Manager) Status(ctx context.Context, sessionID string) (*metastore.ChunkSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// Cancel marks a session FAILED, leaving its partial content blob in place
// for the purge sweep rather than deleting it inline.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status != metastore.ChunkSessionInProgress {
		return nil
	}

	session.Status = metastore.ChunkSessionFailed

	return m.store.UpdateSession(ctx, session)
}

// AssembleResult carries the fields the reconciliation service needs once a
// session's chunks are all present and validated.
type AssembleResult struct {
	StoragePath string
	Checksum    string
	FileSize    int64
}

// Complete validates that every declared chunk has arrived, verifies the
// assembled file's size and checksum against expectedChecksum, and marks the
// session COMPLETED. It is the only path that transitions a session out of
// IN_PROGRESS successfully.
func (m *Manager) Complete(ctx context.Context, sessionID, expectedChecksum string) (*AssembleResult, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != metastore.ChunkSessionInProgress {
		return nil, fmt.Errorf("%w: session %s has status %s", ErrSessionNotInProgress, sessionID, session.Status)
	}

	if session.ReceivedChunks != session.TotalChunks {
		return nil, fmt.Errorf("chunksession: session %s missing chunks: received %d of %d",
			sessionID, session.ReceivedChunks, session.TotalChunks)
	}

	actualSize, err := m.content.Size(session.StoragePath)
	if err != nil {
		return nil, err
	}

	if actualSize != session.TotalFileSize {
		session.Status = metastore.ChunkSessionFailed
		session.ErrorMessage = fmt.Sprintf("assembled size %d does not match declared size %d", actualSize, session.TotalFileSize)
		m.store.UpdateSession(ctx, session)

		return nil, fmt.Errorf("%w: got %d want %d", ErrSizeMismatch, actualSize, session.TotalFileSize)
	}

	actualChecksum, err := m.content.Checksum(session.StoragePath)
	if err != nil {
		return nil, err
	}

	if actualChecksum != expectedChecksum {
		session.Status = metastore.ChunkSessionFailed
		session.ErrorMessage = "assembled checksum does not match declared checksum"
		m.store.UpdateSession(ctx, session)

		return nil, fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, actualChecksum, expectedChecksum)
	}

	now := m.now()
	session.Status = metastore.ChunkSessionCompleted
	session.FinalChecksum = actualChecksum
	session.CompletedAt = &now

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	return &AssembleResult{
		StoragePath: session.StoragePath,
		Checksum:    actualChecksum,
		FileSize:    actualSize,
	}, nil
}

// RunCleanupSweep reclaims abandoned and finished sessions: IN_PROGRESS
// sessions past their expiry become EXPIRED; COMPLETED sessions older than
// completedRetention and EXPIRED/FAILED sessions older than terminalRetention
// are deleted outright (component-design.md §4.5). Intended to run on an
// hourly schedule; panics are recovered so a bad sweep never takes down the
// process that scheduled it.
func (m *Manager) RunCleanupSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in chunk session cleanup sweep", slog.Any("panic", r))
		}
	}()

	now := m.now()

	expired, err := m.store.ListExpiredInProgress(ctx, now)
	if err != nil {
		m.logger.Warn("listing expired sessions failed", slog.String("error", err.Error()))
	}

	for _, s := range expired {
		s.Status = metastore.ChunkSessionExpired
		if err := m.store.UpdateSession(ctx, s); err != nil {
			m.logger.Warn("expiring session failed", slog.String("session_id", s.SessionID), slog.String("error", err.Error()))

			continue
		}

		m.logger.Info("expired stale chunk session", slog.String("session_id", s.SessionID))
	}

	m.purgeOlderThan(ctx, metastore.ChunkSessionCompleted, now.Add(-completedRetention))
	m.purgeOlderThan(ctx, metastore.ChunkSessionExpired, now.Add(-terminalRetention))
	m.purgeOlderThan(ctx, metastore.ChunkSessionFailed, now.Add(-terminalRetention))
}

func (m *Manager) purgeOlderThan(ctx context.Context, status metastore.ChunkSessionStatus, cutoff time.Time) {
	stale, err := m.store.ListSessionsOlderThan(ctx, status, cutoff)
	if err != nil {
		m.logger.Warn("listing stale sessions failed", slog.String("status", string(status)), slog.String("error", err.Error()))

		return
	}

	for _, s := range stale {
		if s.StoragePath != "" {
			m.content.Delete(s.StoragePath)
		}

		if err := m.store.DeleteSession(ctx, s.SessionID); err != nil {
			m.logger.Warn("purging session failed", slog.String("session_id", s.SessionID), slog.String("error", err.Error()))

			continue
		}
	}

	if len(stale) > 0 {
		m.logger.Info("purged chunk sessions", slog.String("status", string(status)), slog.Int("count", len(stale)))
	}
}
