package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const sqlInsertSession = `
INSERT INTO chunk_sessions (session_id, user_id, file_id, file_path, total_chunks,
	received_chunks, total_file_size, received_size, status, received_chunk_checksums,
	storage_path, final_checksum, created_at, completed_at, expires_at, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) CreateSession(ctx context.Context, cs *ChunkSession) error {
	checksums, err := marshalChunkChecksums(cs.ReceivedChunkChecksums)
	if err != nil {
		return err
	}

	_, err = s.exec.ExecContext(ctx, sqlInsertSession,
		cs.SessionID, cs.UserID, nullableString(cs.FileID), cs.FilePath, cs.TotalChunks,
		cs.ReceivedChunks, cs.TotalFileSize, cs.ReceivedSize, string(cs.Status), checksums,
		nullableString(cs.StoragePath), nullableString(cs.FinalChecksum), cs.CreatedAt.Unix(),
		nullableUnix(cs.CompletedAt), cs.ExpiresAt.Unix(), nullableString(cs.ErrorMessage))
	if err != nil {
		return fmt.Errorf("metastore: creating session %s: %w", cs.SessionID, err)
	}

	return nil
}

const sqlSessionColumns = `session_id, user_id, file_id, file_path, total_chunks,
	received_chunks, total_file_size, received_size, status, received_chunk_checksums,
	storage_path, final_checksum, created_at, completed_at, expires_at, error_message`

const sqlGetSession = `SELECT ` + sqlSessionColumns + ` FROM chunk_sessions WHERE session_id = ?`

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*ChunkSession, error) {
	return scanSession(s.exec.QueryRowContext(ctx, sqlGetSession, sessionID))
}

// CountActiveSessions backs the per-user concurrent-session cap
// (component-design.md §4.5, TooManyActiveSessionsError).
const sqlCountActiveSessions = `
SELECT COUNT(*) FROM chunk_sessions WHERE user_id = ? AND status = 'IN_PROGRESS'`

func (s *SQLiteStore) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	var n int

	err := s.exec.QueryRowContext(ctx, sqlCountActiveSessions, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("metastore: counting active sessions for %s: %w", userID, err)
	}

	return n, nil
}

const sqlUpdateSession = `
UPDATE chunk_sessions SET file_id = ?, received_chunks = ?, received_size = ?,
	status = ?, received_chunk_checksums = ?, storage_path = ?, final_checksum = ?,
	completed_at = ?, error_message = ?
WHERE session_id = ?`

func (s *SQLiteStore) UpdateSession(ctx context.Context, cs *ChunkSession) error {
	checksums, err := marshalChunkChecksums(cs.ReceivedChunkChecksums)
	if err != nil {
		return err
	}

	_, err = s.exec.ExecContext(ctx, sqlUpdateSession,
		nullableString(cs.FileID), cs.ReceivedChunks, cs.ReceivedSize, string(cs.Status),
		checksums, nullableString(cs.StoragePath), nullableString(cs.FinalChecksum),
		nullableUnix(cs.CompletedAt), nullableString(cs.ErrorMessage), cs.SessionID)
	if err != nil {
		return fmt.Errorf("metastore: updating session %s: %w", cs.SessionID, err)
	}

	return nil
}

// sqlListExpiredInProgress backs the hourly expiry sweep: sessions still
// IN_PROGRESS past their expires_at are reclaimed as EXPIRED.
const sqlListExpiredInProgress = `
SELECT ` + sqlSessionColumns + ` FROM chunk_sessions
WHERE status = 'IN_PROGRESS' AND expires_at < ?`

func (s *SQLiteStore) ListExpiredInProgress(ctx context.Context, now time.Time) ([]*ChunkSession, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListExpiredInProgress, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("metastore: listing expired sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// sqlListSessionsOlderThan backs the scheduled purge of terminal sessions:
// COMPLETED after 7 days, EXPIRED/FAILED after 1 day (component-design.md §4.5).
const sqlListSessionsOlderThan = `
SELECT ` + sqlSessionColumns + ` FROM chunk_sessions
WHERE status = ? AND created_at < ?`

func (s *SQLiteStore) ListSessionsOlderThan(ctx context.Context, status ChunkSessionStatus, cutoff time.Time) ([]*ChunkSession, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListSessionsOlderThan, string(status), cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("metastore: listing %s sessions older than cutoff: %w", status, err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

const sqlDeleteSession = `DELETE FROM chunk_sessions WHERE session_id = ?`

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.exec.ExecContext(ctx, sqlDeleteSession, sessionID); err != nil {
		return fmt.Errorf("metastore: deleting session %s: %w", sessionID, err)
	}

	return nil
}

const sqlListActiveSessions = `
SELECT ` + sqlSessionColumns + ` FROM chunk_sessions WHERE user_id = ? AND status = 'IN_PROGRESS'`

func (s *SQLiteStore) ListActiveSessions(ctx context.Context, userID string) ([]*ChunkSession, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListActiveSessions, userID)
	if err != nil {
		return nil, fmt.Errorf("metastore: listing active sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*ChunkSession, error) {
	var out []*ChunkSession

	for rows.Next() {
		cs, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating sessions: %w", err)
	}

	return out, nil
}

func scanSession(row *sql.Row) (*ChunkSession, error) {
	return scanSessionRow(row)
}

func scanSessionRow(row rowScanner) (*ChunkSession, error) {
	var (
		cs           ChunkSession
		fileID       sql.NullString
		status       string
		checksumsRaw string
		storagePath  sql.NullString
		finalSum     sql.NullString
		createdAt    int64
		completedAt  sql.NullInt64
		expiresAt    int64
		errMsg       sql.NullString
	)

	err := row.Scan(&cs.SessionID, &cs.UserID, &fileID, &cs.FilePath, &cs.TotalChunks,
		&cs.ReceivedChunks, &cs.TotalFileSize, &cs.ReceivedSize, &status, &checksumsRaw,
		&storagePath, &finalSum, &createdAt, &completedAt, &expiresAt, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("metastore: scanning session: %w", err)
	}

	checksums, err := unmarshalChunkChecksums(checksumsRaw)
	if err != nil {
		return nil, err
	}

	cs.FileID = fileID.String
	cs.Status = ChunkSessionStatus(status)
	cs.ReceivedChunkChecksums = checksums
	cs.StoragePath = storagePath.String
	cs.FinalChecksum = finalSum.String
	cs.CreatedAt = time.Unix(createdAt, 0).UTC()
	cs.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	cs.ErrorMessage = errMsg.String

	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		cs.CompletedAt = &t
	}

	return &cs, nil
}

// marshalChunkChecksums encodes the chunk-index-to-checksum map as a JSON
// object with string keys, since chunk indices are not stable map key types
// across a JSON round trip otherwise.
func marshalChunkChecksums(m map[int]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}

	strKeyed := make(map[string]string, len(m))
	for idx, sum := range m {
		strKeyed[strconv.Itoa(idx)] = sum
	}

	data, err := json.Marshal(strKeyed)
	if err != nil {
		return "", fmt.Errorf("metastore: marshaling chunk checksums: %w", err)
	}

	return string(data), nil
}

func unmarshalChunkChecksums(raw string) (map[int]string, error) {
	if raw == "" {
		raw = "{}"
	}

	var strKeyed map[string]string
	if err := json.Unmarshal([]byte(raw), &strKeyed); err != nil {
		return nil, fmt.Errorf("metastore: decoding chunk checksums: %w", err)
	}

	out := make(map[int]string, len(strKeyed))

	for k, v := range strKeyed {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("metastore: decoding chunk checksums: non-integer index %q: %w", k, err)
		}

		out[idx] = v
	}

	return out, nil
}
