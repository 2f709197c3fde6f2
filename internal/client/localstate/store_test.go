package localstate_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/vv"
)

func openTestStore(t *testing.T) *localstate.SQLiteStore {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "local.db")

	store, err := localstate.Open(context.Background(), dsn, nil)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func TestUpsertAndGetTrackedFile(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	f := &localstate.TrackedFile{
		FileID: "f1", FilePath: "/a.txt", VersionVector: vv.New().Increment("client-1"),
		LastModified: now, FileSize: 5, Checksum: "sum", SyncStatus: localstate.StatusSynced,
	}
	require.NoError(t, store.UpsertTrackedFile(ctx, f))

	got, err := store.GetTrackedFile(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusSynced, got.SyncStatus)
	assert.Equal(t, int64(1), got.VersionVector.Get("client-1"))

	_, err = store.GetTrackedFile(ctx, "/missing.txt")
	assert.ErrorIs(t, err, localstate.ErrNotFound)
}

func TestTombstoneSurvivesUpsertAndIsListedByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.UpsertTrackedFile(ctx, &localstate.TrackedFile{
		FileID: "f1", FilePath: "/a.txt", VersionVector: vv.New(),
		LastModified: now, SyncStatus: localstate.StatusDeleted,
	}))

	deleted, err := store.ListTrackedFilesByStatus(ctx, localstate.StatusDeleted)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "/a.txt", deleted[0].FilePath)
}

func TestQueueDequeueOrdersByPriorityThenSchedule(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &localstate.QueueEntry{FilePath: "/up.txt", Operation: localstate.OpUpload}))
	require.NoError(t, store.Enqueue(ctx, &localstate.QueueEntry{FilePath: "/del.txt", Operation: localstate.OpDelete}))

	next, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/del.txt", next.FilePath, "DELETE has the highest priority and must dequeue first")

	require.NoError(t, store.RemoveQueueEntry(ctx, next.ID))

	next, err = store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/up.txt", next.FilePath)
}

func TestDequeueEmptyReturnsNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Dequeue(context.Background())
	assert.ErrorIs(t, err, localstate.ErrNotFound)
}

func TestMarkQueueRetryReschedulesIntoFuture(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, &localstate.QueueEntry{FilePath: "/up.txt", Operation: localstate.OpUpload}))
	entry, err := store.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, store.MarkQueueRetry(ctx, entry.ID, "network timeout"))

	_, err = store.Dequeue(ctx)
	assert.ErrorIs(t, err, localstate.ErrNotFound, "retried entry is rescheduled into the future")
}

func TestClientConfigRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetConfigValue(ctx, localstate.ClientIDKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfigValue(ctx, localstate.ClientIDKey, "abc-123"))

	value, ok, err := store.GetConfigValue(ctx, localstate.ClientIDKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc-123", value)
}
