package chunkclient_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/chunkclient"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// fakeAPI is shared across tests; uploader.Upload now drives UploadChunk
// from a bounded pool of concurrent goroutines, so its state is guarded.
type fakeAPI struct {
	mu             sync.Mutex
	sessionID      string
	chunks         [][]byte
	initiateCalls  int
	completeCalled bool
}

func (f *fakeAPI) InitiateChunked(ctx context.Context, path string, totalChunks int, totalSize int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initiateCalls++

	return f.sessionID, nil
}

func (f *fakeAPI) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data io.Reader, final bool, checksum, clientID string, vector vv.VV) (*apiclient.UploadChunkResult, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.chunks = append(f.chunks, b)
	f.mu.Unlock()

	if final {
		f.mu.Lock()
		f.completeCalled = true
		f.mu.Unlock()

		return &apiclient.UploadChunkResult{Final: true, File: &wire.FileRecord{FileID: "f1"}}, nil
	}

	return &apiclient.UploadChunkResult{}, nil
}

func writeTestFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "payload.bin")
	data := bytes.Repeat([]byte{'x'}, size)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestUploadSplitsIntoChunksAndCompletes(t *testing.T) {
	path := writeTestFile(t, 25)

	api := &fakeAPI{sessionID: "sess-1"}
	store := chunkclient.NewSessionStore(t.TempDir(), nil)
	uploader := chunkclient.NewUploader(api, store, 10, 2, nil)

	f, err := uploader.Upload(context.Background(), path, "client-1", vv.New().Increment("client-1"))
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)
	assert.Len(t, api.chunks, 3) // 10 + 10 + 5 bytes
	assert.True(t, api.completeCalled)
}

// failOnceAPI fails the second chunk once, then succeeds on retry,
// to exercise session-resume: the uploader must not re-send chunk 0.
type failOnceAPI struct {
	fakeAPI
	failed bool
}

func (f *failOnceAPI) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data io.Reader, final bool, checksum, clientID string, vector vv.VV) (*apiclient.UploadChunkResult, error) {
	if chunkIndex == 1 && !f.failed {
		f.failed = true
		io.Copy(io.Discard, data)
		return nil, assertErr
	}

	return f.fakeAPI.UploadChunk(ctx, sessionID, chunkIndex, data, final, checksum, clientID, vector)
}

var assertErr = &uploadErr{}

type uploadErr struct{}

func (e *uploadErr) Error() string { return "simulated transient failure" }

func TestUploadResumesFromLastAcknowledgedChunkAfterFailure(t *testing.T) {
	path := writeTestFile(t, 20)

	api := &failOnceAPI{fakeAPI: fakeAPI{sessionID: "sess-1"}}
	store := chunkclient.NewSessionStore(t.TempDir(), nil)
	uploader := chunkclient.NewUploader(api, store, 10, 1, nil)

	_, err := uploader.Upload(context.Background(), path, "client-1", nil)
	require.Error(t, err)

	rec, err := store.Load(path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.NextChunkIndex, "first chunk acknowledged before the failure")

	f, err := uploader.Upload(context.Background(), path, "client-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)
	assert.Len(t, api.chunks, 2, "resumed upload sends only the remaining chunk, not chunk 0 again")

	cleaned, err := store.Load(path)
	require.NoError(t, err)
	assert.Nil(t, cleaned, "completed session is removed")
}
