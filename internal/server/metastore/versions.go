package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

const sqlInsertVersion = `
INSERT INTO file_versions (version_id, file_id, version_number, checksum,
	storage_path, file_size, created_at, is_current_version, version_vector, created_by_client)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AddVersion appends v to the file's version history. It does not clear any
// other version's is_current_version flag — callers that promote v to
// current must call DemoteCurrentVersion first, in the same transaction.
func (s *SQLiteStore) AddVersion(ctx context.Context, v *FileVersion) error {
	vvJSON, err := v.VersionVector.MarshalJSON()
	if err != nil {
		return fmt.Errorf("metastore: marshaling version vector for version %s: %w", v.VersionID, err)
	}

	_, err = s.exec.ExecContext(ctx, sqlInsertVersion,
		v.VersionID, v.FileID, v.VersionNumber, v.Checksum, v.StoragePath, v.FileSize,
		v.CreatedAt.Unix(), v.IsCurrentVersion, string(vvJSON), v.CreatedByClient)
	if err != nil {
		return fmt.Errorf("metastore: inserting version %s: %w", v.VersionID, err)
	}

	return nil
}

const sqlListVersions = `
SELECT version_id, file_id, version_number, checksum, storage_path, file_size,
	created_at, is_current_version, version_vector, created_by_client
FROM file_versions WHERE file_id = ? ORDER BY version_number DESC`

func (s *SQLiteStore) ListVersions(ctx context.Context, fileID string) ([]*FileVersion, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListVersions, fileID)
	if err != nil {
		return nil, fmt.Errorf("metastore: listing versions for %s: %w", fileID, err)
	}
	defer rows.Close()

	var out []*FileVersion

	for rows.Next() {
		var (
			v         FileVersion
			createdAt int64
			vvJSON    string
			isCurrent int
		)

		err := rows.Scan(&v.VersionID, &v.FileID, &v.VersionNumber, &v.Checksum, &v.StoragePath,
			&v.FileSize, &createdAt, &isCurrent, &vvJSON, &v.CreatedByClient)
		if err != nil {
			return nil, fmt.Errorf("metastore: scanning version: %w", err)
		}

		version := vv.New()
		if err := version.UnmarshalJSON([]byte(vvJSON)); err != nil {
			return nil, fmt.Errorf("metastore: decoding version vector for version %s: %w", v.VersionID, err)
		}

		v.VersionVector = version
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		v.IsCurrentVersion = isCurrent != 0

		out = append(out, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating versions for %s: %w", fileID, err)
	}

	return out, nil
}

const sqlDemoteCurrentVersion = `
UPDATE file_versions SET is_current_version = 0
WHERE file_id = ? AND is_current_version = 1`

// DemoteCurrentVersion clears is_current_version on fileID's existing
// current row, if any. Callers insert the new current row with
// AddVersion immediately afterward, in the same transaction, so a
// file never has more than one current version visible to readers.
func (s *SQLiteStore) DemoteCurrentVersion(ctx context.Context, fileID string) error {
	if _, err := s.exec.ExecContext(ctx, sqlDemoteCurrentVersion, fileID); err != nil {
		return fmt.Errorf("metastore: demoting current version for %s: %w", fileID, err)
	}

	return nil
}
