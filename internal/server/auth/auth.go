// Package auth issues and validates the bearer credentials clients present
// on every request after login (component-design.md §4.6, api-spec.md §6.1).
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foldersync/foldersync/internal/server/metastore"
)

// ErrInvalidCredentials is returned when a login's username/password pair
// does not match a stored account.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrTokenInvalid is returned when a bearer token fails signature or claim
// validation.
var ErrTokenInvalid = errors.New("auth: token invalid")

// ErrTokenExpired is returned when a bearer token's claims are well-formed
// but its expiry has passed.
var ErrTokenExpired = errors.New("auth: token expired")

// PasswordHasher hashes and verifies account passwords. Defined at the
// consumer (this package), not the implementing package, per the "accept
// interfaces, return structs" convention the rest of this codebase follows.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// TokenIssuer mints and parses bearer tokens for a user session.
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, error)
	Parse(token string) (userID string, err error)
}

// UserStore is the subset of metastore.Store that the auth service needs,
// kept narrow per the consumer-defined-interface convention.
type UserStore interface {
	CreateUser(ctx context.Context, u *metastore.User) error
	GetUserByUsername(ctx context.Context, username string) (*metastore.User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// Service authenticates accounts and issues/refreshes session tokens.
type Service struct {
	store      UserStore
	hasher     PasswordHasher
	tokens     TokenIssuer
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a Service. accessTTL/refreshTTL bound the lifetime of
// access and refresh tokens respectively (api-spec.md §6.1 token pair).
func New(store UserStore, hasher PasswordHasher, tokens TokenIssuer, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// TokenPair is the pair of tokens returned to a client on login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Register creates a new account with a hashed password and returns its
// generated user ID. Duplicate usernames surface as metastore.ErrAlreadyExists
// from the underlying store; this layer does not re-interpret that error.
func (s *Service) Register(ctx context.Context, username, email, password string, quota int64) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password for %s: %w", username, err)
	}

	userID := uuid.NewString()

	user := &metastore.User{
		UserID:        userID,
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		CreatedAt:     s.now(),
		StorageQuota:  quota,
		AccountStatus: metastore.AccountActive,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return "", err
	}

	return userID, nil
}

// Login verifies username/password and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	if user.AccountStatus != metastore.AccountActive {
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: verifying password: %w", err)
	}

	if !ok {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.UserID, s.now()); err != nil {
		s.logger.Warn("failed to record last login", slog.String("user_id", user.UserID), slog.String("error", err.Error()))
	}

	return s.issuePair(user.UserID)
}

// Refresh validates a refresh token and issues a new token pair, rotating
// the refresh token (not just the access token) so a leaked refresh token
// has a bounded window of use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.tokens.Parse(refreshToken)
	if err != nil {
		return nil, err
	}

	return s.issuePair(userID)
}

// Authenticate validates an access token and returns the authenticated
// user ID, for use by HTTP middleware.
func (s *Service) Authenticate(accessToken string) (string, error) {
	return s.tokens.Parse(accessToken)
}

func (s *Service) issuePair(userID string) (*TokenPair, error) {
	access, err := s.tokens.Issue(userID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issuing access token: %w", err)
	}

	refresh, err := s.tokens.Issue(userID, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issuing refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}
