package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Argon2Hasher is the default PasswordHasher, backed by argon2id with the
// library's recommended parameters.
type Argon2Hasher struct{}

// NewArgon2Hasher constructs the default password hasher.
func NewArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{}
}

func (Argon2Hasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("auth: argon2id hash: %w", err)
	}

	return hash, nil
}

func (Argon2Hasher) Verify(password, hash string) (bool, error) {
	match, _, err := argon2id.CheckHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("auth: argon2id verify: %w", err)
	}

	return match, nil
}
