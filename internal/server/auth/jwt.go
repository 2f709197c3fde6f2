package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer is the default TokenIssuer, signing HS256 tokens whose subject
// claim carries the user ID.
type JWTIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTIssuer constructs a TokenIssuer signing with secret. secret must be
// non-empty; config.Config.Validate enforces this before a server starts.
func NewJWTIssuer(secret string) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret), now: time.Now}
}

func (j *JWTIssuer) Issue(userID string, ttl time.Duration) (string, error) {
	now := j.now()

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

func (j *JWTIssuer) Parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenInvalid, t.Header["alg"])
		}

		return j.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}

		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !token.Valid {
		return "", ErrTokenInvalid
	}

	return claims.Subject, nil
}
