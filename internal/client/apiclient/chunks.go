package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// InitiateChunked starts a resumable upload session (component-design.md §4.5).
func (c *Client) InitiateChunked(ctx context.Context, path string, totalChunks int, totalSize int64) (string, error) {
	body, _ := json.Marshal(wire.InitiateChunkedUploadRequest{
		FilePath: path, TotalChunks: totalChunks, TotalFileSize: totalSize,
	})

	resp, err := c.doRetry(ctx, http.MethodPost, "/files/upload/initiate-chunked", "application/json", bytes.NewReader(body), true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out wire.InitiateChunkedUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("apiclient: decoding initiate-chunked response: %w", err)
	}

	return out.SessionID, nil
}

// UploadChunkResult reports what the server saw after one chunk. When Final
// is true the session completed and File holds the assembled record.
type UploadChunkResult struct {
	Session wire.ChunkSession
	Final   bool
	File    *wire.FileRecord
}

// UploadChunk uploads one chunk's bytes. On the chunk that completes the
// session, checksum/clientID/vector must be supplied — see
// httpapi.uploadChunk's doc comment for why completion is folded into the
// last chunk request rather than a separate call.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data io.Reader, final bool, checksum, clientID string, vector vv.VV) (*UploadChunkResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("sessionId", sessionID)
	_ = w.WriteField("chunkIndex", strconv.Itoa(chunkIndex))

	if final {
		_ = w.WriteField("checksum", checksum)
		_ = w.WriteField("clientId", clientID)

		if vector != nil && !vector.IsEmpty() {
			vvJSON, err := vector.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("apiclient: marshaling version vector: %w", err)
			}

			_ = w.WriteField("versionVector", string(vvJSON))
		}
	}

	part, err := w.CreateFormFile("data", fmt.Sprintf("chunk-%d", chunkIndex))
	if err != nil {
		return nil, fmt.Errorf("apiclient: creating chunk part: %w", err)
	}

	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("apiclient: writing chunk part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: closing multipart body: %w", err)
	}

	resp, err := c.doRetry(ctx, http.MethodPost, "/files/upload/chunk", w.FormDataContentType(), &buf, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !final {
		var session wire.ChunkSession
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, fmt.Errorf("apiclient: decoding chunk session: %w", err)
		}

		return &UploadChunkResult{Session: session}, nil
	}

	var f wire.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("apiclient: decoding assembled file: %w", err)
	}

	return &UploadChunkResult{Final: true, File: &f}, nil
}

// SessionStatus fetches a session's progress snapshot.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*wire.ChunkSession, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/upload/status/"+sessionID, "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var session wire.ChunkSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("apiclient: decoding session status: %w", err)
	}

	return &session, nil
}

// CancelSession cancels an in-progress session.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	resp, err := c.doRetry(ctx, http.MethodDelete, "/files/upload/cancel/"+sessionID, "", nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListSessions lists the user's active upload sessions.
func (c *Client) ListSessions(ctx context.Context) ([]wire.ChunkSession, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/upload/sessions", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sessions []wire.ChunkSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("apiclient: decoding session list: %w", err)
	}

	return sessions, nil
}
