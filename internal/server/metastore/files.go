package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

const sqlFileColumns = `file_id, user_id, file_path, file_name, file_size, checksum,
	current_version_vector, storage_path, created_at, modified_at, sync_status, conflict_status`

// sqlGetFileByPath backs the hot-path (userID, filePath) -> fileID lookup
// every upload and download request performs; idx_files_user_path serves it
// as an index lookup rather than a table scan.
const sqlGetFileByPath = `SELECT ` + sqlFileColumns + ` FROM files WHERE user_id = ? AND file_path = ?`
const sqlGetFileByID = `SELECT ` + sqlFileColumns + ` FROM files WHERE user_id = ? AND file_id = ?`
const sqlListFiles = `SELECT ` + sqlFileColumns + ` FROM files WHERE user_id = ? ORDER BY file_path`

func (s *SQLiteStore) GetFileByPath(ctx context.Context, userID, path string) (*FileRecord, error) {
	return s.scanFile(s.exec.QueryRowContext(ctx, sqlGetFileByPath, userID, path))
}

func (s *SQLiteStore) GetFileByID(ctx context.Context, userID, fileID string) (*FileRecord, error) {
	return s.scanFile(s.exec.QueryRowContext(ctx, sqlGetFileByID, userID, fileID))
}

func (s *SQLiteStore) ListFiles(ctx context.Context, userID string) ([]*FileRecord, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListFiles, userID)
	if err != nil {
		return nil, fmt.Errorf("metastore: listing files for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*FileRecord

	for rows.Next() {
		f, err := scanFileRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating files for %s: %w", userID, err)
	}

	return out, nil
}

const sqlUpsertFile = `
INSERT INTO files (file_id, user_id, file_path, file_name, file_size, checksum,
	current_version_vector, storage_path, created_at, modified_at, sync_status, conflict_status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(file_id) DO UPDATE SET
	file_path = excluded.file_path,
	file_name = excluded.file_name,
	file_size = excluded.file_size,
	checksum = excluded.checksum,
	current_version_vector = excluded.current_version_vector,
	storage_path = excluded.storage_path,
	modified_at = excluded.modified_at,
	sync_status = excluded.sync_status,
	conflict_status = excluded.conflict_status`

func (s *SQLiteStore) UpsertFile(ctx context.Context, f *FileRecord) error {
	vvJSON, err := f.CurrentVersionVector.MarshalJSON()
	if err != nil {
		return fmt.Errorf("metastore: marshaling version vector for %s: %w", f.FileID, err)
	}

	fileName := f.FileName
	if fileName == "" {
		fileName = filepath.Base(f.FilePath)
	}

	_, err = s.exec.ExecContext(ctx, sqlUpsertFile,
		f.FileID, f.UserID, f.FilePath, fileName, f.FileSize, f.Checksum,
		string(vvJSON), f.StoragePath, f.CreatedAt.Unix(), f.ModifiedAt.Unix(),
		string(f.SyncStatus), string(f.ConflictStatus))
	if err != nil {
		return fmt.Errorf("metastore: upserting file %s: %w", f.FileID, wrapConstraint(err))
	}

	return nil
}

const sqlDeleteFile = `DELETE FROM files WHERE user_id = ? AND file_id = ?`

// DeleteFile removes the file's metadata row and returns the record as it
// existed just before deletion, so the caller can record a DELETE sync event
// and reclaim the content blob without a second round trip.
func (s *SQLiteStore) DeleteFile(ctx context.Context, userID, fileID string) (*FileRecord, error) {
	existing, err := s.GetFileByID(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	if _, err := s.exec.ExecContext(ctx, sqlDeleteFile, userID, fileID); err != nil {
		return nil, fmt.Errorf("metastore: deleting file %s: %w", fileID, err)
	}

	return existing, nil
}

func (s *SQLiteStore) scanFile(row *sql.Row) (*FileRecord, error) {
	return scanFileRow(row)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// single-row and multi-row queries share one scan routine.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRow(row rowScanner) (*FileRecord, error) {
	var (
		f          FileRecord
		vvJSON     string
		createdAt  int64
		modifiedAt int64
		syncStatus string
		conflict   string
	)

	err := row.Scan(&f.FileID, &f.UserID, &f.FilePath, &f.FileName, &f.FileSize, &f.Checksum,
		&vvJSON, &f.StoragePath, &createdAt, &modifiedAt, &syncStatus, &conflict)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("metastore: scanning file: %w", err)
	}

	version := vv.New()
	if err := version.UnmarshalJSON([]byte(vvJSON)); err != nil {
		return nil, fmt.Errorf("metastore: decoding version vector for %s: %w", f.FileID, err)
	}

	f.CurrentVersionVector = version
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	f.ModifiedAt = time.Unix(modifiedAt, 0).UTC()
	f.SyncStatus = SyncStatus(syncStatus)
	f.ConflictStatus = ConflictStatus(conflict)

	return &f, nil
}
