// Package apiclient is the desktop client's HTTP consumer of the sync
// server's REST surface (external-interfaces.md §6.1), generalizing the
// teacher's Microsoft Graph client (internal/graph/client.go) from a
// Graph-specific API to this server's file/auth/chunk/sync endpoints: same
// request-construction-plus-retry-with-backoff shape, same TokenSource
// abstraction for bearer credentials.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

// Retry tuning (mirrors the teacher's graph.Client: base 1s, factor 2x,
// cap 60s, +/-25% jitter, max 5 retries after the first attempt) — applied only to transient
// network errors and 5xx/429 responses, per error-handling.md's "Transient"
// class.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Sentinel errors classifying non-2xx responses (error-handling.md §7). A
// 409 is overloaded by the server across two call sites — a stale upload
// (reconciliation rejected it because the server's vector already
// dominates) and a chunk session no longer in progress — so ErrConflict is
// deliberately generic; callers that need to tell them apart know which
// endpoint they called.
var (
	ErrAuthRequired  = errors.New("apiclient: authentication required")
	ErrConflict      = errors.New("apiclient: conflicting or stale state on the server")
	ErrMalformed     = errors.New("apiclient: request rejected as malformed")
	ErrQuotaExceeded = errors.New("apiclient: storage quota exceeded")
	ErrNotFound      = errors.New("apiclient: resource not found")
	ErrSessionGone   = errors.New("apiclient: upload session expired or missing")
	ErrServer        = errors.New("apiclient: server error")
)

// TokenSource supplies the current bearer access token. Defined at the
// consumer per "accept interfaces, return structs" — credstore.TokenSource
// satisfies this without apiclient depending on its concrete type.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the sync server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a Client against baseURL (e.g. "https://sync.example.com").
func New(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Register creates an account. Unauthenticated.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body, _ := json.Marshal(wire.RegisterRequest{Username: username, Email: email, Password: password})

	resp, err := c.doRetry(ctx, http.MethodPost, "/auth/register", "application/json", bytes.NewReader(body), false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// Login authenticates and returns a fresh token pair. Unauthenticated.
func (c *Client) Login(ctx context.Context, username, password string) (*wire.TokenPair, error) {
	body, _ := json.Marshal(wire.LoginRequest{Username: username, Password: password})

	resp, err := c.doRetry(ctx, http.MethodPost, "/auth/login", "application/json", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pair wire.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("apiclient: decoding login response: %w", err)
	}

	return &pair, nil
}

// Refresh exchanges a refresh token for a new token pair. Unauthenticated.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*wire.TokenPair, error) {
	body, _ := json.Marshal(wire.RefreshRequest{RefreshToken: refreshToken})

	resp, err := c.doRetry(ctx, http.MethodPost, "/auth/refresh", "application/json", bytes.NewReader(body), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pair wire.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("apiclient: decoding refresh response: %w", err)
	}

	return &pair, nil
}

// Logout invalidates the current session.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.doRetry(ctx, http.MethodPost, "/auth/logout", "", nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListFiles returns every file record the user owns.
func (c *Client) ListFiles(ctx context.Context) ([]wire.FileRecord, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []wire.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("apiclient: decoding file list: %w", err)
	}

	return files, nil
}

// Metadata fetches the planning metadata for a single file.
func (c *Client) Metadata(ctx context.Context, fileID string) (*wire.FileRecord, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/"+fileID+"/metadata", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f wire.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("apiclient: decoding metadata: %w", err)
	}

	return &f, nil
}

// Versions fetches the version history of a file.
func (c *Client) Versions(ctx context.Context, fileID string) ([]wire.FileVersion, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/"+fileID+"/versions", "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var versions []wire.FileVersion
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("apiclient: decoding versions: %w", err)
	}

	return versions, nil
}

// UploadDirect performs a non-chunked upload (component-design.md §4.6
// upload handler, sub-CHUNK_THRESHOLD path).
func (c *Client) UploadDirect(ctx context.Context, path, checksum, clientID string, vector vv.VV, content io.Reader) (*wire.FileRecord, error) {
	return c.multipartUpload(ctx, http.MethodPost, "/files/upload", path, checksum, clientID, vector, content)
}

// Replace performs a PUT against an existing file's fileId.
func (c *Client) Replace(ctx context.Context, fileID, path, checksum, clientID string, vector vv.VV, content io.Reader) (*wire.FileRecord, error) {
	return c.multipartUpload(ctx, http.MethodPut, "/files/"+fileID, path, checksum, clientID, vector, content)
}

func (c *Client) multipartUpload(ctx context.Context, method, urlPath, path, checksum, clientID string, vector vv.VV, content io.Reader) (*wire.FileRecord, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("path", path); err != nil {
		return nil, fmt.Errorf("apiclient: writing path field: %w", err)
	}

	if err := w.WriteField("checksum", checksum); err != nil {
		return nil, fmt.Errorf("apiclient: writing checksum field: %w", err)
	}

	if err := w.WriteField("clientId", clientID); err != nil {
		return nil, fmt.Errorf("apiclient: writing clientId field: %w", err)
	}

	if vector != nil && !vector.IsEmpty() {
		vvJSON, err := vector.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("apiclient: marshaling version vector: %w", err)
		}

		if err := w.WriteField("versionVector", string(vvJSON)); err != nil {
			return nil, fmt.Errorf("apiclient: writing versionVector field: %w", err)
		}
	}

	part, err := w.CreateFormFile("file", pathBase(path))
	if err != nil {
		return nil, fmt.Errorf("apiclient: creating file part: %w", err)
	}

	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("apiclient: writing file part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: closing multipart body: %w", err)
	}

	resp, err := c.doRetry(ctx, method, urlPath, w.FormDataContentType(), &buf, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var f wire.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("apiclient: decoding upload response: %w", err)
	}

	return &f, nil
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}

	return p
}

// Download fetches the full content of fileID.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/files/"+fileID+"/download", "", nil, true)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// DownloadRange fetches [start,end] bytes (inclusive) of fileID via the
// chunked/ranged endpoint.
func (c *Client) DownloadRange(ctx context.Context, fileID string, start, end int64) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/files/"+fileID+"/download-chunked", "", nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode)
	}

	return resp.Body, nil
}

// Delete removes a file and appends clientId so the server can tag the
// resulting DELETE sync event with its originator (for the push channel's
// "peers filter out events whose clientId matches their own" rule).
func (c *Client) Delete(ctx context.Context, fileID, clientID string) error {
	resp, err := c.doRetry(ctx, http.MethodDelete, "/files/"+fileID+"?clientId="+clientID, "", nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// SyncChanges polls for sync events recorded since the given time — the
// polling fallback the push channel never fully replaces (component-design.md
// §4.8).
func (c *Client) SyncChanges(ctx context.Context, since time.Time) ([]wire.SyncEvent, error) {
	resp, err := c.doRetry(ctx, http.MethodGet, "/sync/changes?since="+since.UTC().Format(time.RFC3339), "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var events []wire.SyncEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("apiclient: decoding sync changes: %w", err)
	}

	return events, nil
}

// Heartbeat acknowledges liveness on the polling path.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.doRetry(ctx, http.MethodPost, "/sync/heartbeat", "", nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, urlPath, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+urlPath, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: creating request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("apiclient: obtaining token: %w", err)
		}

		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	return c.httpClient.Do(req)
}

// doRetry executes a request with retry on transient network errors and
// 5xx/429 responses, mirroring graph.Client.doRetry. The body is read into
// memory once up front and a fresh reader over those bytes is built for each
// attempt, since a retried multipart upload must resend the full body.
func (c *Client) doRetry(ctx context.Context, method, urlPath, contentType string, body io.Reader, authenticated bool) (*http.Response, error) {
	var bodyBytes []byte

	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: buffering request body: %w", err)
		}

		bodyBytes = b
	}

	var attempt int

	for {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		req, err := c.newRequest(ctx, method, urlPath, contentType, reqBody)
		if err != nil {
			return nil, err
		}

		var resp *http.Response
		if authenticated {
			resp, err = c.do(req)
		} else {
			resp, err = c.httpClient.Do(req)
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				if sleepErr := c.sleepFunc(ctx, c.backoff(attempt)); sleepErr != nil {
					return nil, fmt.Errorf("apiclient: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("apiclient: %s %s failed after %d retries: %w", method, urlPath, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			resp.Body.Close()

			if sleepErr := c.sleepFunc(ctx, c.backoff(attempt)); sleepErr != nil {
				return nil, fmt.Errorf("apiclient: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		defer resp.Body.Close()

		return nil, classifyStatus(resp.StatusCode)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}

	jitter := float64(d) * jitterFraction * (rand.Float64()*2 - 1)

	return d + time.Duration(jitter)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthRequired
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return ErrMalformed
	case http.StatusPaymentRequired, http.StatusForbidden:
		return ErrQuotaExceeded
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrSessionGone
	default:
		return fmt.Errorf("%w: status %d", ErrServer, status)
	}
}
