// Package auth implements the shared-secret credential gate applied to both
// WebSocket handshakes and plain HTTP requests.
package auth

import (
	"crypto/subtle"
	"errors"
)

// HeaderName is the request header carrying the project key.
const HeaderName = "x-project-key"

var (
	// ErrKeyRequired is returned when no credential was presented.
	ErrKeyRequired = errors.New("key is required")
	// ErrInvalidKey is returned when the presented credential does not match.
	ErrInvalidKey = errors.New("invalid key")
)

// Authenticate compares a presented key with the expected secret. An empty
// presented key counts as absent. The comparison is constant time.
func Authenticate(presented, expected string) error {
	if presented == "" {
		return ErrKeyRequired
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// Reason maps a gate error to the human-readable reason sent to clients.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrKeyRequired):
		return "Key is required"
	case errors.Is(err, ErrInvalidKey):
		return "Invalid key"
	default:
		return "Authentication failed"
	}
}

// KeyPrefix returns a log-safe form of a key: its first n characters
// followed by "...". The full value is never returned.
func KeyPrefix(key string, n int) string {
	if n < 0 {
		n = 0
	}
	runes := []rune(key)
	if len(runes) < n {
		n = len(runes)
	}
	return string(runes[:n]) + "..."
}
