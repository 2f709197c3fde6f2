// Package contentstore persists opaque file bytes under a user-partitioned,
// content-addressed-by-location path scheme (component-design.md §4.2).
package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when a storage path does not exist.
var ErrNotFound = errors.New("contentstore: not found")

// Store writes, reads, and deletes file bytes on the local filesystem.
// Deletion is best-effort: a delete failure is logged but never fails the
// caller's overall operation (component-design.md §4.2).
type Store struct {
	basePath string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Store rooted at basePath. The base directory is created on
// demand by Put/PutStream, not here.
func New(basePath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{basePath: basePath, logger: logger, now: time.Now}
}

// PathFor computes the bit-exact storage path for (userID, fileID) using the
// server's local clock at call time: {base}/{userId}/{YYYY}/{MM}/{fileId}.
// This scheme is fixed for compatibility with existing deployments — do not
// change the layout.
func (s *Store) PathFor(userID, fileID string) string {
	now := s.now()

	return filepath.Join(
		s.basePath,
		userID,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		fileID,
	)
}

// Put writes bytes to the computed storage path for (userID, fileID),
// creating parent directories as needed, and returns the storage path.
func (s *Store) Put(userID, fileID string, data []byte) (string, error) {
	path := s.PathFor(userID, fileID)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("contentstore: creating parent dirs for %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("contentstore: writing %s: %w", path, err)
	}

	return path, nil
}

// Handle is a writable, pre-allocated destination for a chunked write,
// returned by PutStream.
type Handle struct {
	*os.File
	Path string
}

// PutStream opens a pre-allocated writable handle for (userID, fileID) sized
// to size bytes, so chunk writes at arbitrary offsets never extend the file
// unpredictably. The caller must Close the handle.
func (s *Store) PutStream(userID, fileID string, size int64) (*Handle, error) {
	path := s.PathFor(userID, fileID)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("contentstore: creating parent dirs for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("contentstore: opening %s: %w", path, err)
	}

	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()

			return nil, fmt.Errorf("contentstore: preallocating %s to %d bytes: %w", path, size, err)
		}
	}

	return &Handle{File: f, Path: path}, nil
}

// OpenWrite reopens an already-allocated storage path for random-access
// writes, used by the chunk session manager to write each chunk at its
// declared offset. The caller must Close the returned file.
func (s *Store) OpenWrite(storagePath string) (*os.File, error) {
	f, err := os.OpenFile(storagePath, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("contentstore: opening %s for write: %w", storagePath, err)
	}

	return f, nil
}

// Checksum computes the SHA-256 digest of storagePath's current contents.
func (s *Store) Checksum(storagePath string) (string, error) {
	f, err := s.Get(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("contentstore: hashing %s: %w", storagePath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get opens storagePath for reading. The caller must Close the returned reader.
func (s *Store) Get(storagePath string) (io.ReadCloser, error) {
	f, err := os.Open(storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}

		return nil, fmt.Errorf("contentstore: opening %s: %w", storagePath, err)
	}

	return f, nil
}

// Size returns the byte length of storagePath without reading its contents.
func (s *Store) Size(storagePath string) (int64, error) {
	info, err := os.Stat(storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}

		return 0, fmt.Errorf("contentstore: stat %s: %w", storagePath, err)
	}

	return info.Size(), nil
}

// Delete removes storagePath. Failures are logged, not returned — a content
// blob orphaned by a failed delete does not corrupt any metadata invariant.
func (s *Store) Delete(storagePath string) {
	if err := os.Remove(storagePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("content delete failed, leaving orphaned blob",
			slog.String("path", storagePath),
			slog.String("error", err.Error()),
		)
	}
}
