package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound means the token is not in the store.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the session's TTL has elapsed.
	ErrExpired = errors.New("session expired")
	// ErrServiceNotGranted means the session is valid but does not cover
	// the requested service.
	ErrServiceNotGranted = errors.New("service not granted to session")
	// ErrInvalidTTL means a non-positive TTL was requested.
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Store is a concurrent-safe in-memory session store. Expired sessions are
// removed lazily at validation time; there is no background sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates a session store using the wall clock.
func NewStore() *Store {
	return NewStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewStoreWithClock creates a session store with a custom clock (for testing).
func NewStoreWithClock(now func() time.Time) *Store {
	if now == nil {
		panic("session: nil clock")
	}
	return &Store{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Create mints a new session granting the given services for ttl.
// Service-name validation against the registry is the caller's job; the
// store only owns token lifecycle.
func (s *Store) Create(services []string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		Token:     newToken(),
		Services:  append([]string(nil), services...),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.sessions[sess.Token] = sess
	return copySession(sess), nil
}

// Validate checks that the token exists, has not expired, and grants the
// given service. Expired entries are deleted as a side effect. The returned
// session is a copy; mutating it does not affect the store.
func (s *Store) Validate(token, service string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return nil, ErrExpired
	}
	if !sess.HasService(service) {
		return nil, ErrServiceNotGranted
	}
	return copySession(sess), nil
}

// Revoke removes a session. Revoking an absent token is not an error.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// ActiveCount returns the number of non-expired sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, sess := range s.sessions {
		if now.Before(sess.ExpiresAt) {
			count++
		}
	}
	return count
}

// Cleanup removes all expired sessions and returns how many were removed.
// Optional memory hygiene; validation already removes expired entries lazily.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

func copySession(sess *Session) *Session {
	out := *sess
	out.Services = append([]string(nil), sess.Services...)
	return &out
}
