// Package session provides the in-memory session store. Sessions grant
// time-limited access to a set of services and are deliberately not
// persisted: a process restart is equivalent to revoking everything.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Session is a short-lived, scope-limited grant for a set of services.
// The token is the only handle a caller ever holds; credentials are
// referenced by service name and dereferenced only inside the forwarder.
type Session struct {
	Token     string    `json:"token"`
	Services  []string  `json:"services"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasService reports whether the session grants access to a service.
func (s *Session) HasService(service string) bool {
	for _, svc := range s.Services {
		if svc == service {
			return true
		}
	}
	return false
}

// newToken returns a 256-bit URL-safe random token.
func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; refusing to
		// mint a guessable token is the only acceptable fallback.
		panic("session: random source unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
