package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/auth"
	"github.com/foldersync/foldersync/internal/server/metastore"
)

type fakeUserStore struct {
	byUsername map[string]*metastore.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byUsername: make(map[string]*metastore.User)}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, u *metastore.User) error {
	if _, exists := f.byUsername[u.Username]; exists {
		return metastore.ErrAlreadyExists
	}

	f.byUsername[u.Username] = u

	return nil
}

func (f *fakeUserStore) GetUserByUsername(ctx context.Context, username string) (*metastore.User, error) {
	u, ok := f.byUsername[username]
	if !ok {
		return nil, metastore.ErrNotFound
	}

	return u, nil
}

func (f *fakeUserStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return nil
}

func newTestService(t *testing.T) (*auth.Service, *fakeUserStore) {
	t.Helper()

	store := newFakeUserStore()
	svc := auth.New(store, auth.NewArgon2Hasher(), auth.NewJWTIssuer("test-secret"),
		15*time.Minute, 24*time.Hour, nil)

	return svc, store
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	userID, err := svc.Register(ctx, "alice", "alice@example.com", "hunter2", 1<<30)
	require.NoError(t, err)
	assert.NotEmpty(t, userID)

	pair, err := svc.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	gotUserID, err := svc.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
}

func TestLoginWrongPasswordFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "hunter2", 1<<30)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginUnknownUserFails(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRefreshIssuesNewPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "hunter2", 1<<30)
	require.NoError(t, err)

	pair, err := svc.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate("not-a-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrTokenInvalid))
}
