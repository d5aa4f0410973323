// Package transport exposes the upscaling worker over a WebSocket
// endpoint: clients authenticate with an access token, submit run
// requests, and receive progress, diagnostics, and result messages for
// the runs they own.
package transport

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenCost is the bcrypt cost used when hashing access tokens.
// Tokens are verified once per connection, not per message, so a slow
// hash is acceptable.
const DefaultTokenCost = 12

var (
	// ErrEmptyToken is returned when hashing or verifying an empty token.
	ErrEmptyToken = errors.New("transport: access token is empty")

	// ErrTokenMismatch is returned when token verification fails. It does
	// not reveal whether the stored hash was well formed.
	ErrTokenMismatch = errors.New("transport: access token does not match")
)

// HashToken creates a bcrypt hash of an access token, suitable for
// storing in configuration instead of the plaintext token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultTokenCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken compares a presented token against a stored bcrypt hash
// using bcrypt's constant-time comparison. Any failure is reported as
// ErrTokenMismatch.
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return ErrTokenMismatch
	}
	return nil
}

// bearerToken extracts the access token from a request. The Authorization
// header takes precedence; the "token" query parameter is accepted as a
// fallback because browser WebSocket clients cannot set headers.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}
	return r.URL.Query().Get("token")
}
