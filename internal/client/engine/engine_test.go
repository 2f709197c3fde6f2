package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/chunkclient"
	"github.com/foldersync/foldersync/internal/client/conflict"
	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/client/watcher"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

const testClientID = "client-1"

type fakeAPI struct {
	files        []wire.FileRecord
	uploadCalls  int
	replaceCalls int
	deleteCalls  int
	downloadBody string
}

func (f *fakeAPI) ListFiles(context.Context) ([]wire.FileRecord, error) {
	return f.files, nil
}

func (f *fakeAPI) UploadDirect(_ context.Context, path, checksum, _ string, vector vv.VV, _ io.Reader) (*wire.FileRecord, error) {
	f.uploadCalls++

	rec := wire.FileRecord{
		FileID: "new-file", FilePath: path, Checksum: checksum,
		CurrentVersionVector: vector, SyncStatus: wire.SyncStatusSynced,
	}
	f.files = append(f.files, rec)

	return &rec, nil
}

func (f *fakeAPI) Replace(_ context.Context, fileID, path, checksum, _ string, vector vv.VV, _ io.Reader) (*wire.FileRecord, error) {
	f.replaceCalls++

	return &wire.FileRecord{FileID: fileID, FilePath: path, Checksum: checksum, CurrentVersionVector: vector}, nil
}

func (f *fakeAPI) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(&onceReader{data: []byte(f.downloadBody)}), nil
}

func (f *fakeAPI) Delete(context.Context, string, string) error {
	f.deleteCalls++
	return nil
}

// Unused by these tests (no file crosses the chunk threshold), but
// required to satisfy chunkclient's apiClient interface so fakeAPI can
// back the Uploader the Engine is constructed with.
func (f *fakeAPI) InitiateChunked(context.Context, string, int, int64) (string, error) {
	return "", errors.New("fakeAPI: chunked upload not exercised by this test")
}

func (f *fakeAPI) UploadChunk(context.Context, string, int, io.Reader, bool, string, string, vv.VV) (*apiclient.UploadChunkResult, error) {
	return nil, errors.New("fakeAPI: chunked upload not exercised by this test")
}

type onceReader struct {
	data []byte
	pos  int
}

func (r *onceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}

	n := copy(p, r.data[r.pos:])
	r.pos += n

	return n, nil
}

func newTestEngine(t *testing.T, api *fakeAPI) (*Engine, *localstate.SQLiteStore, string) {
	t.Helper()

	dir := t.TempDir()
	dsn := filepath.Join(t.TempDir(), "local.db")

	store, err := localstate.Open(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sessions := chunkclient.NewSessionStore(t.TempDir(), nil)
	uploader := chunkclient.NewUploader(api, sessions, 1<<20, 3, nil)
	arbiter := conflict.NewAutomaticArbiter(nil)
	w := watcher.New(dir, nil)

	e := New(store, api, uploader, arbiter, w, nil, dir, testClientID, 5<<20, 30*time.Second, nil)

	return e, store, dir
}

func TestHandleUploadNewFile(t *testing.T) {
	api := &fakeAPI{}
	e, store, dir := newTestEngine(t, api)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	require.NoError(t, e.handleUpload(context.Background(), "a.txt"))

	assert.Equal(t, 1, api.uploadCalls)

	tf, err := store.GetTrackedFile(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusSynced, tf.SyncStatus)
}

func TestHandleDownloadFetchesAndTracksFile(t *testing.T) {
	api := &fakeAPI{downloadBody: "remote content"}
	api.files = []wire.FileRecord{
		{FileID: "f1", FilePath: "b.txt", CurrentVersionVector: vv.New().Increment("other"), ModifiedAt: time.Now()},
	}

	e, store, dir := newTestEngine(t, api)

	require.NoError(t, e.handleDownload(context.Background(), "b.txt"))

	content, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote content", string(content))

	tf, err := store.GetTrackedFile(context.Background(), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "f1", tf.FileID)
}

func TestOnLocalDeleteTombstonesBeforeEnqueue(t *testing.T) {
	api := &fakeAPI{}
	e, store, _ := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, store.UpsertTrackedFile(ctx, &localstate.TrackedFile{
		FileID: "f1", FilePath: "c.txt", VersionVector: vv.New(), SyncStatus: localstate.StatusSynced,
	}))

	require.NoError(t, e.OnLocalDelete(ctx, "c.txt"))

	tf, err := store.GetTrackedFile(ctx, "c.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusDeleted, tf.SyncStatus)

	queued, err := store.ListQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, localstate.OpDelete, queued[0].Operation)
}

func TestHandleDeleteIssuesServerDeleteAndKeepsTombstone(t *testing.T) {
	api := &fakeAPI{}
	e, store, _ := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, store.UpsertTrackedFile(ctx, &localstate.TrackedFile{
		FileID: "f1", FilePath: "d.txt", VersionVector: vv.New(), SyncStatus: localstate.StatusDeleted,
	}))

	require.NoError(t, e.handleDelete(ctx, "d.txt"))
	assert.Equal(t, 1, api.deleteCalls)

	tf, err := store.GetTrackedFile(ctx, "d.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusDeleted, tf.SyncStatus, "tombstone remains regardless of server-delete outcome")
}

func TestCleanupVanishedKeepsTombstonesButDropsOthers(t *testing.T) {
	api := &fakeAPI{}
	e, store, dir := newTestEngine(t, api)
	ctx := context.Background()

	require.NoError(t, store.UpsertTrackedFile(ctx, &localstate.TrackedFile{
		FileID: "f1", FilePath: "gone.txt", VersionVector: vv.New(), SyncStatus: localstate.StatusSynced,
	}))
	require.NoError(t, store.UpsertTrackedFile(ctx, &localstate.TrackedFile{
		FileID: "f2", FilePath: "tomb.txt", VersionVector: vv.New(), SyncStatus: localstate.StatusDeleted,
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("x"), 0o644))

	require.NoError(t, e.cleanupVanished(ctx, map[string]bool{}))

	_, err := store.GetTrackedFile(ctx, "gone.txt")
	assert.ErrorIs(t, err, localstate.ErrNotFound)

	_, err = os.Stat(filepath.Join(dir, "gone.txt"))
	assert.True(t, os.IsNotExist(err))

	tomb, err := store.GetTrackedFile(ctx, "tomb.txt")
	require.NoError(t, err)
	assert.Equal(t, localstate.StatusDeleted, tomb.SyncStatus)
}
