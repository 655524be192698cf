// Package token issues and validates the signed bearer tokens handed out at
// login. A token is a stale snapshot by design: it carries the subject, the
// issue and expiry instants, and the effective authority set computed at
// issuance time. Validation checks only the signature and the expiry; claims
// are never re-derived from the store.
package token

import (
	"errors"
	"time"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the claim set embedded in every issued token. Authorities holds
// the effective permission set (ROLE_* entries plus raw permission names).
type Claims struct {
	jwt.RegisteredClaims
	Authorities []string `json:"authorities"`
}

// Generate signs a token for the given subject with HS256. Expiry is
// issued-at plus validityDuration.
func Generate(subject string, authorities []string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Authorities: authorities,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Parse verifies the signature and expiry and returns the embedded claims.
// An expired token yields common.ErrTokenExpired; any other failure
// (bad signature, malformed structure, wrong algorithm) yields
// common.ErrInvalidToken. There is no partial-trust outcome.
func Parse(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// Validate reports whether the token verifies. It fails closed: any parse
// error, signature mismatch, or expired deadline is false.
func Validate(tokenString string, secretKey []byte) bool {
	_, err := Parse(tokenString, secretKey)
	return err == nil
}

// Expiry returns the expiry instant of a token that passes validation.
// It cannot be used to peek at expired or tampered tokens.
func Expiry(tokenString string, secretKey []byte) (time.Time, error) {
	claims, err := Parse(tokenString, secretKey)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}
