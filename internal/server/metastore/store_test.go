package metastore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/vv"
)

func openTestStore(t *testing.T) *metastore.SQLiteStore {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "meta.db")

	store, err := metastore.Open(context.Background(), dsn, nil)
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func seedUser(t *testing.T, store *metastore.SQLiteStore, userID, username string) {
	t.Helper()

	err := store.CreateUser(context.Background(), &metastore.User{
		UserID:        userID,
		Username:      username,
		Email:         username + "@example.com",
		PasswordHash:  "hash",
		CreatedAt:     time.Now(),
		StorageQuota:  1 << 30,
		AccountStatus: metastore.AccountActive,
	})
	require.NoError(t, err)
}

func TestCreateAndGetUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "u1", "alice")

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, metastore.AccountActive, got.AccountStatus)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "u1", "alice")

	err := store.CreateUser(ctx, &metastore.User{
		UserID: "u2", Username: "alice", Email: "other@example.com",
		PasswordHash: "h", CreatedAt: time.Now(), AccountStatus: metastore.AccountActive,
	})
	assert.ErrorIs(t, err, metastore.ErrAlreadyExists)
}

func TestUpsertFileAndLookupByPath(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	now := time.Now().Truncate(time.Second)
	f := &metastore.FileRecord{
		FileID: "f1", UserID: "u1", FilePath: "/docs/report.txt", FileName: "report.txt",
		FileSize: 123, Checksum: "abc", CurrentVersionVector: vv.New().Increment("client-1"),
		StoragePath: "/blob/f1", CreatedAt: now, ModifiedAt: now,
		SyncStatus: metastore.SyncSynced, ConflictStatus: metastore.ConflictNone,
	}
	require.NoError(t, store.UpsertFile(ctx, f))

	got, err := store.GetFileByPath(ctx, "u1", "/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, int64(1), got.CurrentVersionVector.Get("client-1"))

	// Upsert again with an advanced vector; row count must stay one.
	f.CurrentVersionVector = f.CurrentVersionVector.Increment("client-1")
	require.NoError(t, store.UpsertFile(ctx, f))

	files, err := store.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(2), files[0].CurrentVersionVector.Get("client-1"))
}

func TestDeleteFileReturnsPriorRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	now := time.Now()
	require.NoError(t, store.UpsertFile(ctx, &metastore.FileRecord{
		FileID: "f1", UserID: "u1", FilePath: "/a.txt", FileName: "a.txt",
		CurrentVersionVector: vv.New(), CreatedAt: now, ModifiedAt: now,
		SyncStatus: metastore.SyncSynced, ConflictStatus: metastore.ConflictNone,
	}))

	deleted, err := store.DeleteFile(ctx, "u1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", deleted.FilePath)

	_, err = store.GetFileByID(ctx, "u1", "f1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestVersionHistoryOrderedDescending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	now := time.Now()
	require.NoError(t, store.UpsertFile(ctx, &metastore.FileRecord{
		FileID: "f1", UserID: "u1", FilePath: "/a.txt", FileName: "a.txt",
		CurrentVersionVector: vv.New(), CreatedAt: now, ModifiedAt: now,
		SyncStatus: metastore.SyncSynced, ConflictStatus: metastore.ConflictNone,
	}))

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AddVersion(ctx, &metastore.FileVersion{
			VersionID: "v" + string(rune('0'+i)), FileID: "f1", VersionNumber: i,
			Checksum: "c", StoragePath: "/blob/f1", FileSize: 10, CreatedAt: now,
			VersionVector: vv.New(), CreatedByClient: "client-1",
		}))
	}

	versions, err := store.ListVersions(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[2].VersionNumber)
}

func TestRecordAndListEventsSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.RecordEvent(ctx, &metastore.SyncEvent{
		EventID: "e1", UserID: "u1", EventType: metastore.EventCreate,
		Timestamp: base, ClientID: "c1", SyncStatus: metastore.EventStatusCompleted,
		FilePath: "/a.txt",
	}))
	require.NoError(t, store.RecordEvent(ctx, &metastore.SyncEvent{
		EventID: "e2", UserID: "u1", EventType: metastore.EventModify,
		Timestamp: base.Add(time.Minute), ClientID: "c1", SyncStatus: metastore.EventStatusCompleted,
		FilePath: "/a.txt",
	}))

	events, err := store.ListEventsSince(ctx, "u1", base)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].EventID)
}

func TestChunkSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	now := time.Now()
	sess := &metastore.ChunkSession{
		SessionID: "s1", UserID: "u1", FilePath: "/big.bin", TotalChunks: 4,
		TotalFileSize: 4096, Status: metastore.ChunkSessionInProgress,
		ReceivedChunkChecksums: map[int]string{}, CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, sess))

	active, err := store.CountActiveSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	sess.ReceivedChunks = 2
	sess.ReceivedSize = 2048
	sess.ReceivedChunkChecksums[0] = "c0"
	sess.ReceivedChunkChecksums[1] = "c1"
	require.NoError(t, store.UpdateSession(ctx, sess))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReceivedChunks)
	assert.Equal(t, "c1", got.ReceivedChunkChecksums[1])

	got.Status = metastore.ChunkSessionCompleted
	require.NoError(t, store.UpdateSession(ctx, got))

	active, err = store.CountActiveSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestListExpiredInProgressSessions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	now := time.Now()
	require.NoError(t, store.CreateSession(ctx, &metastore.ChunkSession{
		SessionID: "expired", UserID: "u1", FilePath: "/a.bin", TotalChunks: 1,
		TotalFileSize: 1, Status: metastore.ChunkSessionInProgress,
		ReceivedChunkChecksums: map[int]string{}, CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, store.CreateSession(ctx, &metastore.ChunkSession{
		SessionID: "fresh", UserID: "u1", FilePath: "/b.bin", TotalChunks: 1,
		TotalFileSize: 1, Status: metastore.ChunkSessionInProgress,
		ReceivedChunkChecksums: map[int]string{}, CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	expired, err := store.ListExpiredInProgress(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].SessionID)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "u1", "alice")

	sentinel := assert.AnError

	err := store.RunInTransaction(ctx, func(ctx context.Context, tx metastore.Store) error {
		now := time.Now()
		if err := tx.UpsertFile(ctx, &metastore.FileRecord{
			FileID: "f1", UserID: "u1", FilePath: "/a.txt", FileName: "a.txt",
			CurrentVersionVector: vv.New(), CreatedAt: now, ModifiedAt: now,
			SyncStatus: metastore.SyncSynced, ConflictStatus: metastore.ConflictNone,
		}); err != nil {
			return err
		}

		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = store.GetFileByID(ctx, "u1", "f1")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}
