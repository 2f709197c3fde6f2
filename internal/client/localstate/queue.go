package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqlQueueColumns = `id, file_path, operation, priority, retry_count, created_at, scheduled_at, error_message`

const sqlInsertQueueEntry = `
INSERT INTO sync_queue (file_path, operation, priority, retry_count, created_at, scheduled_at, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Enqueue adds a task, filling in CreatedAt/ScheduledAt/Priority if zero.
// Priority follows Operation.Priority() (component-design.md §4.6).
func (s *SQLiteStore) Enqueue(ctx context.Context, e *QueueEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = e.CreatedAt
	}

	if e.Priority == 0 {
		e.Priority = e.Operation.Priority()
	}

	result, err := s.exec.ExecContext(ctx, sqlInsertQueueEntry,
		e.FilePath, string(e.Operation), e.Priority, e.RetryCount,
		e.CreatedAt.Unix(), e.ScheduledAt.Unix(), e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("localstate: enqueuing %s %s: %w", e.Operation, e.FilePath, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("localstate: reading inserted queue id: %w", err)
	}

	e.ID = id

	return nil
}

// sqlDequeue selects the oldest-scheduled entry at the lowest (highest
// urgency) priority; ties break by scheduled_at then id, matching "ties
// break by scheduledAt then insertion order" (component-design.md §4.6).
const sqlDequeue = `SELECT ` + sqlQueueColumns + ` FROM sync_queue
	WHERE scheduled_at <= ?
	ORDER BY priority ASC, scheduled_at ASC, id ASC
	LIMIT 1`

// Dequeue returns the next due queue entry, or ErrNotFound if the queue is
// empty or every entry is scheduled in the future. It does not remove the
// entry — callers remove it on success (RemoveQueueEntry) or reschedule it
// on failure (MarkQueueRetry).
func (s *SQLiteStore) Dequeue(ctx context.Context) (*QueueEntry, error) {
	row := s.exec.QueryRowContext(ctx, sqlDequeue, time.Now().UTC().Unix())

	e, err := scanQueueRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return e, err
}

func (s *SQLiteStore) RemoveQueueEntry(ctx context.Context, id int64) error {
	_, err := s.exec.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localstate: removing queue entry %d: %w", id, err)
	}

	return nil
}

// MarkQueueRetry bumps retry_count, records errMsg, and reschedules the
// entry retryCount seconds into the future (a linear backoff that grows by
// one second per retry) for whole-task retries.
func (s *SQLiteStore) MarkQueueRetry(ctx context.Context, id int64, errMsg string) error {
	row := s.exec.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id)

	var retryCount int
	if err := row.Scan(&retryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}

		return fmt.Errorf("localstate: reading retry count for %d: %w", id, err)
	}

	retryCount++
	backoff := time.Duration(retryCount) * time.Second
	nextAttempt := time.Now().UTC().Add(backoff)

	_, err := s.exec.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = ?, error_message = ?, scheduled_at = ? WHERE id = ?`,
		retryCount, errMsg, nextAttempt.Unix(), id)
	if err != nil {
		return fmt.Errorf("localstate: marking retry for %d: %w", id, err)
	}

	return nil
}

func (s *SQLiteStore) ListQueue(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.exec.QueryContext(ctx,
		`SELECT `+sqlQueueColumns+` FROM sync_queue ORDER BY priority ASC, scheduled_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("localstate: listing queue: %w", err)
	}
	defer rows.Close()

	var out []*QueueEntry

	for rows.Next() {
		e, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstate: iterating queue: %w", err)
	}

	return out, nil
}

func scanQueueRow(row rowScanner) (*QueueEntry, error) {
	var (
		e                      QueueEntry
		op, errMsg             sql.NullString
		createdAt, scheduledAt int64
	)

	if err := row.Scan(&e.ID, &e.FilePath, &op, &e.Priority, &e.RetryCount,
		&createdAt, &scheduledAt, &errMsg); err != nil {
		return nil, err
	}

	e.Operation = Operation(op.String)
	e.ErrorMessage = errMsg.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.ScheduledAt = time.Unix(scheduledAt, 0).UTC()

	return &e, nil
}
