package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("localstate: not found")

const sqlTrackedFileColumns = `file_id, file_path, version_vector_json, last_modified,
	file_size, checksum, sync_status, created_at`

const sqlGetTrackedFileByPath = `SELECT ` + sqlTrackedFileColumns + ` FROM tracked_files WHERE file_path = ?`
const sqlGetTrackedFileByID = `SELECT ` + sqlTrackedFileColumns + ` FROM tracked_files WHERE file_id = ?`
const sqlListTrackedFiles = `SELECT ` + sqlTrackedFileColumns + ` FROM tracked_files ORDER BY file_path`
const sqlListTrackedFilesByStatus = `SELECT ` + sqlTrackedFileColumns + ` FROM tracked_files WHERE sync_status = ? ORDER BY file_path`

func (s *SQLiteStore) GetTrackedFile(ctx context.Context, path string) (*TrackedFile, error) {
	return scanTrackedFile(s.exec.QueryRowContext(ctx, sqlGetTrackedFileByPath, path))
}

func (s *SQLiteStore) GetTrackedFileByID(ctx context.Context, fileID string) (*TrackedFile, error) {
	return scanTrackedFile(s.exec.QueryRowContext(ctx, sqlGetTrackedFileByID, fileID))
}

func (s *SQLiteStore) ListTrackedFiles(ctx context.Context) ([]*TrackedFile, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListTrackedFiles)
	if err != nil {
		return nil, fmt.Errorf("localstate: listing tracked files: %w", err)
	}
	defer rows.Close()

	return collectTrackedFiles(rows)
}

func (s *SQLiteStore) ListTrackedFilesByStatus(ctx context.Context, status SyncStatus) ([]*TrackedFile, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListTrackedFilesByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("localstate: listing tracked files by status: %w", err)
	}
	defer rows.Close()

	return collectTrackedFiles(rows)
}

func collectTrackedFiles(rows *sql.Rows) ([]*TrackedFile, error) {
	var out []*TrackedFile

	for rows.Next() {
		f, err := scanTrackedFileRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstate: iterating tracked files: %w", err)
	}

	return out, nil
}

const sqlUpsertTrackedFile = `
INSERT INTO tracked_files (file_id, file_path, version_vector_json, last_modified,
	file_size, checksum, sync_status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(file_id) DO UPDATE SET
	file_path = excluded.file_path,
	version_vector_json = excluded.version_vector_json,
	last_modified = excluded.last_modified,
	file_size = excluded.file_size,
	checksum = excluded.checksum,
	sync_status = excluded.sync_status`

// UpsertTrackedFile inserts or replaces the tracked-file row for f.FileID.
// Callers implementing the tombstone regime (component-design.md §4.6) must
// call this synchronously, before any network request, when marking a path
// DELETED.
func (s *SQLiteStore) UpsertTrackedFile(ctx context.Context, f *TrackedFile) error {
	vvJSON, err := f.VersionVector.MarshalJSON()
	if err != nil {
		return fmt.Errorf("localstate: marshaling version vector for %s: %w", f.FilePath, err)
	}

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err = s.exec.ExecContext(ctx, sqlUpsertTrackedFile,
		f.FileID, f.FilePath, string(vvJSON), f.LastModified.Unix(),
		f.FileSize, f.Checksum, string(f.SyncStatus), f.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("localstate: upserting tracked file %s: %w", f.FilePath, err)
	}

	return nil
}

func (s *SQLiteStore) DeleteTrackedFile(ctx context.Context, path string) error {
	_, err := s.exec.ExecContext(ctx, `DELETE FROM tracked_files WHERE file_path = ?`, path)
	if err != nil {
		return fmt.Errorf("localstate: deleting tracked file %s: %w", path, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedFile(row *sql.Row) (*TrackedFile, error) {
	f, err := scanTrackedFileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return f, err
}

func scanTrackedFileRow(row rowScanner) (*TrackedFile, error) {
	var (
		f                       TrackedFile
		vvJSON, syncStatus      string
		lastModified, createdAt int64
	)

	if err := row.Scan(&f.FileID, &f.FilePath, &vvJSON, &lastModified,
		&f.FileSize, &f.Checksum, &syncStatus, &createdAt); err != nil {
		return nil, err
	}

	parsed := vv.New()
	if err := parsed.UnmarshalJSON([]byte(vvJSON)); err != nil {
		return nil, fmt.Errorf("localstate: decoding version vector for %s: %w", f.FilePath, err)
	}

	f.VersionVector = parsed
	f.SyncStatus = SyncStatus(syncStatus)
	f.LastModified = time.Unix(lastModified, 0).UTC()
	f.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &f, nil
}
