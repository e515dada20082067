// Package sessiontoken mints and verifies admin session tokens, generalizing
// utils/jwt.go's GenerateJWTToken/ParseJWTToken pair from a single user-id
// claim to the {sub, username, role, iat, exp} shape the spec requires.
package sessiontoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultLifetime = 2 * time.Hour

// MinSecretLen enforces the spec's "secret must be >=32 bytes" rule.
const MinSecretLen = 32

type Claims struct {
	Subject  uint   `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret   []byte
	lifetime time.Duration
}

func New(secret string, lifetime time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, errors.New("sessiontoken: secret must be at least 32 bytes")
	}
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}
	return &Issuer{secret: []byte(secret), lifetime: lifetime}, nil
}

// Mint signs a token for the given admin identity.
func (i *Issuer) Mint(adminID uint, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject:  adminID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a token, rejecting expired or signature-invalid
// tokens.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("sessiontoken: unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("sessiontoken: invalid token")
	}
	return claims, nil
}
