package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sqlInsertEvent = `
INSERT INTO sync_events (event_id, user_id, file_id, event_type, timestamp,
	client_id, sync_status, error_message, file_path, file_size, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) RecordEvent(ctx context.Context, e *SyncEvent) error {
	_, err := s.exec.ExecContext(ctx, sqlInsertEvent,
		e.EventID, e.UserID, nullableString(e.FileID), string(e.EventType), e.Timestamp.Unix(),
		e.ClientID, string(e.SyncStatus), nullableString(e.ErrorMessage), e.FilePath,
		e.FileSize, nullableString(e.Checksum))
	if err != nil {
		return fmt.Errorf("metastore: recording event %s: %w", e.EventID, err)
	}

	return nil
}

// sqlListEventsSince powers the incremental sync/changes poll: clients pass
// the timestamp of the last event they observed and receive everything
// after it, ordered so a client applying them in order never sees a later
// event before an earlier one for the same file.
const sqlListEventsSince = `
SELECT event_id, user_id, file_id, event_type, timestamp, client_id,
	sync_status, error_message, file_path, file_size, checksum
FROM sync_events WHERE user_id = ? AND timestamp > ? ORDER BY timestamp ASC`

func (s *SQLiteStore) ListEventsSince(ctx context.Context, userID string, since time.Time) ([]*SyncEvent, error) {
	rows, err := s.exec.QueryContext(ctx, sqlListEventsSince, userID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("metastore: listing events for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*SyncEvent

	for rows.Next() {
		var (
			e            SyncEvent
			fileID       sql.NullString
			ts           int64
			errorMessage sql.NullString
			checksum     sql.NullString
			fileSize     sql.NullInt64
			eventType    string
			syncStatus   string
		)

		err := rows.Scan(&e.EventID, &e.UserID, &fileID, &eventType, &ts, &e.ClientID,
			&syncStatus, &errorMessage, &e.FilePath, &fileSize, &checksum)
		if err != nil {
			return nil, fmt.Errorf("metastore: scanning event: %w", err)
		}

		e.FileID = fileID.String
		e.EventType = EventType(eventType)
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.SyncStatus = EventSyncStatus(syncStatus)
		e.ErrorMessage = errorMessage.String
		e.FileSize = fileSize.Int64
		e.Checksum = checksum.String

		out = append(out, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: iterating events for %s: %w", userID, err)
	}

	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
