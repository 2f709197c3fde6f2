package chunksession_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/chunksession"
	"github.com/foldersync/foldersync/internal/server/contentstore"
	"github.com/foldersync/foldersync/internal/server/metastore"
)

func newTestManager(t *testing.T, maxActive int) *chunksession.Manager {
	t.Helper()

	store, err := metastore.Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	content := contentstore.New(t.TempDir(), nil)

	require.NoError(t, store.CreateUser(context.Background(), &metastore.User{
		UserID: "u1", Username: "alice", Email: "a@example.com", PasswordHash: "h",
		CreatedAt: time.Now(), AccountStatus: metastore.AccountActive,
	}))

	return chunksession.New(store, content, maxActive, time.Hour, nil)
}

func TestUploadChunksThenComplete(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	chunkA := bytes.Repeat([]byte{0xAA}, 4)
	chunkB := bytes.Repeat([]byte{0xBB}, 4)
	full := append(append([]byte{}, chunkA...), chunkB...)
	sum := sha256.Sum256(full)
	checksum := hex.EncodeToString(sum[:])

	session, err := m.Initiate(ctx, "u1", "/big.bin", int64(len(full)), 2)
	require.NoError(t, err)

	_, err = m.UploadChunk(ctx, session.SessionID, 0, 4, bytes.NewReader(chunkA))
	require.NoError(t, err)

	updated, err := m.UploadChunk(ctx, session.SessionID, 1, 4, bytes.NewReader(chunkB))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.ReceivedChunks)

	result, err := m.Complete(ctx, session.SessionID, checksum)
	require.NoError(t, err)
	assert.Equal(t, checksum, result.Checksum)
	assert.Equal(t, int64(len(full)), result.FileSize)
}

func TestReuploadingSameChunkIsIdempotent(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	session, err := m.Initiate(ctx, "u1", "/f.bin", 4, 1)
	require.NoError(t, err)

	_, err = m.UploadChunk(ctx, session.SessionID, 0, 4, bytes.NewReader([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	got, err := m.UploadChunk(ctx, session.SessionID, 0, 4, bytes.NewReader([]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReceivedChunks)
}

func TestCompleteFailsOnChecksumMismatch(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	session, err := m.Initiate(ctx, "u1", "/f.bin", 4, 1)
	require.NoError(t, err)

	_, err = m.UploadChunk(ctx, session.SessionID, 0, 4, bytes.NewReader([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	_, err = m.Complete(ctx, session.SessionID, "not-the-real-checksum")
	assert.ErrorIs(t, err, chunksession.ErrChecksumMismatch)

	status, err := m.Status(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.ChunkSessionFailed, status.Status)
}

func TestUploadChunkRejectsOutOfRangeIndex(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	session, err := m.Initiate(ctx, "u1", "/f.bin", 8, 2)
	require.NoError(t, err)

	_, err = m.UploadChunk(ctx, session.SessionID, -1, 4, bytes.NewReader([]byte{1, 2, 3, 4}))
	assert.ErrorIs(t, err, chunksession.ErrInvalidChunkIndex)

	_, err = m.UploadChunk(ctx, session.SessionID, 2, 4, bytes.NewReader([]byte{1, 2, 3, 4}))
	assert.ErrorIs(t, err, chunksession.ErrInvalidChunkIndex)
}

func TestInitiateRejectsOverCapUsers(t *testing.T) {
	m := newTestManager(t, 1)
	ctx := context.Background()

	_, err := m.Initiate(ctx, "u1", "/a.bin", 4, 1)
	require.NoError(t, err)

	_, err = m.Initiate(ctx, "u1", "/b.bin", 4, 1)
	assert.ErrorIs(t, err, chunksession.ErrTooManyActiveSessions)
}

func TestCancelMarksSessionFailed(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	session, err := m.Initiate(ctx, "u1", "/a.bin", 4, 1)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, session.SessionID))

	status, err := m.Status(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.ChunkSessionFailed, status.Status)
}

func TestCleanupSweepKeepsRecentFailedSession(t *testing.T) {
	m := newTestManager(t, 5)
	ctx := context.Background()

	session, err := m.Initiate(ctx, "u1", "/a.bin", 4, 1)
	require.NoError(t, err)

	// A session cancelled just now is FAILED but younger than the one-day
	// terminal retention, so the sweep neither expires nor purges it.
	require.NoError(t, m.Cancel(ctx, session.SessionID))

	m.RunCleanupSweep(ctx)

	status, err := m.Status(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, metastore.ChunkSessionFailed, status.Status)
}
