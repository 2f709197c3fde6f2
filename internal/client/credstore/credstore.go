// Package credstore persists the logged-in user's token pair to disk and
// adapts it into an apiclient.TokenSource that refreshes itself on
// expiry, generalizing the teacher's tokenfile package (atomic
// write-then-rename, 0600 permissions, "missing file is not an error")
// from an oauth2.Token to this server's simpler access/refresh pair.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/foldersync/foldersync/internal/wire"
)

// FilePerms restricts the credential file to owner-only read/write —
// it carries a live refresh token.
const FilePerms = 0o600

// DirPerms is used when creating the credential file's directory.
const DirPerms = 0o700

// expiryMargin renews the access token a little before the server's
// stated expiry to avoid a request racing an almost-expired token.
const expiryMargin = 30 * time.Second

// File is the on-disk credential format.
type File struct {
	Username     string    `json:"username"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Load reads a saved credential file. Returns (nil, nil) if the file does
// not exist — the caller should treat that as "not logged in."
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", path, err)
	}

	return &f, nil
}

// Save writes a credential file atomically (temp file + rename, same
// directory to guarantee rename(2) stays on one filesystem).
func Save(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".cred-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("credstore: writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("credstore: closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("credstore: renaming into place: %w", err)
	}

	return nil
}

// Remove deletes the credential file (logout). A missing file is not an
// error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: removing %s: %w", path, err)
	}

	return nil
}

// refresher is the subset of apiclient.Client the TokenSource needs to
// renew an expired access token, narrowed per "accept interfaces". No
// import cycle results: apiclient.Client depends on the TokenSource
// interface this package produces, not on this package itself.
type refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*wire.TokenPair, error)
}

// TokenSource adapts a saved credential file into apiclient.TokenSource,
// refreshing and persisting a new token pair once the current one is
// within expiryMargin of expiring — mirroring the teacher's tokenBridge
// wrapping an auto-refreshing oauth2.TokenSource, generalized to our own
// access/refresh pair instead of oauth2.Token.
type TokenSource struct {
	path    string
	refresh refresher
	logger  *slog.Logger

	mu    sync.Mutex
	creds *File
}

// NewTokenSource builds a TokenSource backed by the credential file at
// path, using refresh to renew an expired token. creds is the
// already-loaded credential file (Load is the caller's responsibility so
// login/logout can share one load path).
func NewTokenSource(path string, creds *File, refresh refresher, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenSource{path: path, refresh: refresh, logger: logger, creds: creds}
}

// Token returns a valid access token, refreshing and persisting a new one
// first if the current token is near expiry.
func (t *TokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.creds == nil {
		return "", errors.New("credstore: not logged in")
	}

	if time.Now().Add(expiryMargin).Before(t.creds.ExpiresAt) {
		return t.creds.AccessToken, nil
	}

	t.logger.Debug("access token near expiry, refreshing", slog.String("username", t.creds.Username))

	pair, err := t.refresh.Refresh(context.Background(), t.creds.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("credstore: refreshing token: %w", err)
	}

	t.creds.AccessToken = pair.AccessToken
	t.creds.RefreshToken = pair.RefreshToken
	t.creds.ExpiresAt = time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)

	if err := Save(t.path, t.creds); err != nil {
		t.logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))
	}

	return t.creds.AccessToken, nil
}
