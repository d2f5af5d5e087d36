// Package session implements the short-lived opaque-token session store.
// Tokens are 32 bytes of cryptographic random, base64url-encoded; uniqueness
// holds by construction. Sessions are process-local and never persisted.
package session

import (
	"sync"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// Stats summarizes the store contents at a point in time.
type Stats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// Store is a thread-safe in-memory session store. All operations are atomic
// with respect to the individual entry: create-and-insert, read-or-evict, and
// refresh-if-not-expired each run under a single critical section.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*gateway.Session
	now      func() time.Time
}

// New creates a Store with the given TTL. A non-positive ttl falls back to
// the gateway default.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = gateway.SessionTTL
	}
	return &Store{
		ttl:      ttl,
		sessions: make(map[string]*gateway.Session),
		now:      time.Now,
	}
}

// Create mints a new session and returns it. Expiration is creation + TTL.
func (s *Store) Create(principalID, kind, channel string, providerKeys map[string]string) *gateway.Session {
	now := s.now()
	sess := &gateway.Session{
		Token:        gateway.NewSessionToken(),
		PrincipalID:  principalID,
		Kind:         kind,
		Channel:      channel,
		ProviderKeys: providerKeys,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess
}

// Lookup returns the session for token. Expired entries are evicted in the
// same critical section and reported as expired.
func (s *Store) Lookup(token string) (*gateway.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, gateway.ErrSessionExpired
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, token)
		return nil, gateway.ErrSessionExpired
	}
	return sess, nil
}

// Refresh extends the session's expiration by TTL from now. The token is not
// rotated. Expired entries are evicted and reported as expired.
func (s *Store) Refresh(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return gateway.ErrSessionExpired
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, token)
		return gateway.ErrSessionExpired
	}
	sess.ExpiresAt = s.now().Add(s.ttl)
	return nil
}

// Revoke removes the session. Revoking an unknown token is not an error.
func (s *Store) Revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Stats counts total, active, and expired sessions without evicting.
func (s *Store) Stats() Stats {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.sessions)}
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			st.Expired++
		} else {
			st.Active++
		}
	}
	return st
}

// Sweep removes entries whose expiration is in the past and returns the
// number evicted. Called periodically by the reaper worker; idempotent
// under overlapping runs.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for tok, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, tok)
			evicted++
		}
	}
	return evicted
}
