package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/topspeed/backend/internal/domain"
)

const minKeyLen = 32

// Claims carries the identity fields the frontend decodes for display
// plus the registered expiry, so the API boundary can verify a request
// without a store lookup.
type Claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer fails on a short signing key. Callers treat that as a
// startup error, not a per-request one.
func NewIssuer(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minKeyLen, len(key))
	}
	return &Issuer{key: key, ttl: ttl}, nil
}

func (i *Issuer) Issue(user *domain.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry and returns the claims.
// A stale session maps to domain.ErrTokenExpired; every other failure
// to domain.ErrTokenInvalid.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.key, nil
	})
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
