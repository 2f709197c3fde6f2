package localstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClientIDKey is the client_config key reserved for a client identifier.
// The engine neither reads nor writes it: the client ID is derived from the
// username by package clientid on each run.
const ClientIDKey = "client_id"

// SyncRootKey is the client_config key holding the last sync root path
// the engine ran against, so a later run can detect the configured
// folder moved underneath it and warn instead of silently treating an
// unrelated directory as already synced.
const SyncRootKey = "sync_root"

func (s *SQLiteStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	row := s.exec.QueryRowContext(ctx, `SELECT value FROM client_config WHERE key = ?`, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("localstate: reading config key %q: %w", key, err)
	}

	return value, true, nil
}

func (s *SQLiteStore) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.exec.ExecContext(ctx, `
		INSERT INTO client_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("localstate: setting config key %q: %w", key, err)
	}

	return nil
}
