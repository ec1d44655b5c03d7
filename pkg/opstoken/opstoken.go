// Package opstoken mints and verifies the short-lived operator tokens that
// guard the ops server's mutating endpoints.
package opstoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a minted operator token stays valid.
const DefaultTTL = 1 * time.Hour

const issuer = "peerpp-bot"

// ErrInvalidToken is returned when a token fails verification.
var ErrInvalidToken = errors.New("opstoken: invalid token")

// Mint creates a signed HS256 token for the given operator.
func Mint(secret []byte, operator string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("opstoken: signing secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": operator,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify checks the token signature and expiry and returns the operator it
// was minted for.
func Verify(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
