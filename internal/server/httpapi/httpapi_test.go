package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/auth"
	"github.com/foldersync/foldersync/internal/server/chunksession"
	"github.com/foldersync/foldersync/internal/server/contentstore"
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/push"
	"github.com/foldersync/foldersync/internal/server/reconcile"
	"github.com/foldersync/foldersync/internal/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := metastore.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	content := contentstore.New(t.TempDir(), nil)

	authSvc := auth.New(store, auth.NewArgon2Hasher(), auth.NewJWTIssuer("test-secret"),
		15*time.Minute, 24*time.Hour, nil)

	hub := push.NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	reconciler := reconcile.New(store, hub, nil)
	chunks := chunksession.New(store, content, 10, time.Hour, nil)

	router := NewRouter(Deps{
		Store:       store,
		Content:     content,
		Auth:        authSvc,
		Chunks:      chunks,
		Reconciler:  reconciler,
		Hub:         hub,
		MaxFileSize: 10 << 20,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv
}

func registerAndLogin(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	body, _ := json.Marshal(wire.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "hunter22"})
	resp, err := http.Post(srv.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	body, _ = json.Marshal(wire.LoginRequest{Username: "alice", Password: "hunter22"})
	resp, err = http.Post(srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var pair wire.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))

	return pair.AccessToken
}

func TestRegisterLoginAndListFilesEmpty(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/files/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var files []wire.FileRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	require.Empty(t, files)
}

func TestListFilesWithoutTokenIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/files/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func multipartUpload(t *testing.T, path, checksum, clientID, contents string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	require.NoError(t, w.WriteField("path", path))
	require.NoError(t, w.WriteField("checksum", checksum))
	require.NoError(t, w.WriteField("clientId", clientID))

	part, err := w.CreateFormFile("file", "ignored.bin")
	require.NoError(t, err)
	_, err = part.Write([]byte(contents))
	require.NoError(t, err)

	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	buf, contentType := multipartUpload(t, "/notes/todo.txt", "irrelevant-for-direct-upload", "client-a", "hello sync")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/files/upload", buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created wire.FileRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "/notes/todo.txt", created.FilePath)
	require.Equal(t, int64(1), created.CurrentVersionVector.Get("client-a"))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/files/"+created.FileID+"/download", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello sync", string(data))
}

func TestDeleteFileEmitsEventVisibleOnSyncChanges(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv)

	buf, contentType := multipartUpload(t, "/a.txt", "sum", "client-a", "bytes")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/files/upload", buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var created wire.FileRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/files/"+created.FileID+"?clientId=client-a", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/sync/changes", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []wire.SyncEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 2) // CREATE then DELETE
	require.Equal(t, wire.EventDelete, events[1].EventType)
}
