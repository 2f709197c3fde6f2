package reconcile_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/reconcile"
	"github.com/foldersync/foldersync/internal/vv"
)

type capturingBroadcaster struct {
	events []*metastore.SyncEvent
}

func (c *capturingBroadcaster) Publish(userID string, event *metastore.SyncEvent) {
	c.events = append(c.events, event)
}

func newTestService(t *testing.T) (*reconcile.Service, *metastore.SQLiteStore, *capturingBroadcaster) {
	t.Helper()

	store, err := metastore.Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateUser(context.Background(), &metastore.User{
		UserID: "u1", Username: "alice", Email: "a@example.com", PasswordHash: "h",
		CreatedAt: time.Now(), AccountStatus: metastore.AccountActive,
	}))

	bc := &capturingBroadcaster{}

	return reconcile.New(store, bc, nil), store, bc
}

func TestReconcileCreatesNewFile(t *testing.T) {
	svc, store, bc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: vv.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCreated, result.Outcome)
	assert.Equal(t, int64(1), result.File.CurrentVersionVector.Get("client-1"))
	require.Len(t, bc.events, 1)
	assert.Equal(t, metastore.EventCreate, bc.events[0].EventType)

	stored, err := store.GetFileByPath(ctx, "u1", "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "sum1", stored.Checksum)
}

func TestReconcileAcceptsDominatingUpdate(t *testing.T) {
	svc, store, bc := newTestService(t)
	ctx := context.Background()

	v1 := vv.New().Increment("client-1")
	_, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: v1,
	})
	require.NoError(t, err)

	v2 := v1.Increment("client-1")
	result, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a2", FileSize: 6,
		Checksum: "sum2", ClientID: "client-1", VV: v2,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeAccepted, result.Outcome)
	assert.Equal(t, "sum2", result.File.Checksum)
	assert.Len(t, bc.events, 2)

	versions, err := store.ListVersions(ctx, result.File.FileID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	current := 0
	for _, v := range versions {
		if v.IsCurrentVersion {
			current++
		}
	}
	assert.Equal(t, 1, current, "an accepted upload must demote the prior current version")
}

func TestReconcileRejectsStaleUpdate(t *testing.T) {
	svc, _, bc := newTestService(t)
	ctx := context.Background()

	v1 := vv.New().Increment("client-1").Increment("client-1")
	_, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: v1,
	})
	require.NoError(t, err)

	stale := vv.New().Increment("client-1")
	_, err = svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a2", FileSize: 6,
		Checksum: "sum2", ClientID: "client-2", VV: stale,
	})
	assert.ErrorIs(t, err, reconcile.ErrStaleUpload)
	assert.Empty(t, bc.events)
}

func TestReconcileFlagsConcurrentUpdateAsConflict(t *testing.T) {
	svc, _, bc := newTestService(t)
	ctx := context.Background()

	base := vv.New().Increment("client-1")
	_, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: base,
	})
	require.NoError(t, err)

	concurrent := vv.New().Increment("client-2")
	result, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a3", FileSize: 7,
		Checksum: "sum3", ClientID: "client-2", VV: concurrent,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeConflict, result.Outcome)
	assert.Equal(t, metastore.ConflictConflicted, result.File.ConflictStatus)
	assert.Equal(t, int64(1), result.File.CurrentVersionVector.Get("client-1"))
	assert.Equal(t, int64(1), result.File.CurrentVersionVector.Get("client-2"))
	require.Len(t, bc.events, 2)
	assert.Equal(t, metastore.EventStatusConflict, bc.events[1].SyncStatus)
}

func TestReconcileEqualVectorIsNoop(t *testing.T) {
	svc, _, bc := newTestService(t)
	ctx := context.Background()

	v1 := vv.New().Increment("client-1")
	_, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: v1,
	})
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: v1,
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeNoop, result.Outcome)
	assert.Len(t, bc.events, 1)
}

func TestDeleteEmitsEventAndRemovesRecord(t *testing.T) {
	svc, store, bc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Reconcile(ctx, reconcile.Upload{
		UserID: "u1", Path: "/a.txt", StoragePath: "/blob/a", FileSize: 5,
		Checksum: "sum1", ClientID: "client-1", VV: vv.New(),
	})
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, "u1", result.File.FileID, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", deleted.FilePath)

	_, err = store.GetFileByID(ctx, "u1", result.File.FileID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	require.Len(t, bc.events, 2)
	assert.Equal(t, metastore.EventDelete, bc.events[1].EventType)
}
