package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("metastore: not found")

// ErrAlreadyExists is returned when a unique constraint (username or
// email) would be violated by an insert.
var ErrAlreadyExists = errors.New("metastore: already exists")

const sqlInsertUser = `
INSERT INTO users (user_id, username, email, password_hash, created_at,
	last_login, storage_quota, used_storage, account_status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.exec.ExecContext(ctx, sqlInsertUser,
		u.UserID, u.Username, u.Email, u.PasswordHash, u.CreatedAt.Unix(),
		nullableUnix(u.LastLogin), u.StorageQuota, u.UsedStorage, string(u.AccountStatus))
	if err != nil {
		return fmt.Errorf("metastore: creating user %s: %w", u.Username, wrapConstraint(err))
	}

	return nil
}

const sqlUserColumns = `user_id, username, email, password_hash, created_at,
	last_login, storage_quota, used_storage, account_status`

const sqlGetUserByUsername = `SELECT ` + sqlUserColumns + ` FROM users WHERE username = ?`
const sqlGetUserByID = `SELECT ` + sqlUserColumns + ` FROM users WHERE user_id = ?`

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.exec.QueryRowContext(ctx, sqlGetUserByUsername, username))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return s.scanUser(s.exec.QueryRowContext(ctx, sqlGetUserByID, userID))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		createdAt int64
		lastLogin sql.NullInt64
		status    string
	)

	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.PasswordHash, &createdAt,
		&lastLogin, &u.StorageQuota, &u.UsedStorage, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("metastore: scanning user: %w", err)
	}

	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.AccountStatus = AccountStatus(status)

	if lastLogin.Valid {
		t := time.Unix(lastLogin.Int64, 0).UTC()
		u.LastLogin = &t
	}

	return &u, nil
}

const sqlTouchLastLogin = `UPDATE users SET last_login = ? WHERE user_id = ?`

func (s *SQLiteStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.exec.ExecContext(ctx, sqlTouchLastLogin, at.Unix(), userID)
	if err != nil {
		return fmt.Errorf("metastore: touching last login for %s: %w", userID, err)
	}

	return nil
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Unix()
}

// wrapConstraint flags unique-constraint violations as ErrAlreadyExists so
// callers (registration handlers) can branch on errors.Is without parsing
// driver-specific SQLite error text.
func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}

	return err
}
