// Package session binds each proxy client to a browser fingerprint for
// the lifetime of its session. A client keeps the same profile across
// every connection it opens until the session idles out, so all of its
// traffic presents one coherent browser.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proxycloak/proxycloak/fingerprint"
)

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrTooManySessions = errors.New("maximum sessions limit reached")
)

// Session represents one client's binding to a fingerprint profile.
// The profile is chosen when the session is created and never changes.
type Session struct {
	ID        string
	Key       string
	Profile   *fingerprint.Profile
	CreatedAt time.Time

	mu           sync.RWMutex
	lastUsed     time.Time
	requestCount int64
	active       bool
}

// NewSession creates a session for the given client key bound to the
// given profile.
func NewSession(key string, profile *fingerprint.Profile) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		Key:       key,
		Profile:   profile,
		CreatedAt: now,
		lastUsed:  now,
		active:    true,
	}
}

// Touch marks the session as used, resetting its idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.requestCount++
	s.mu.Unlock()
}

// LastUsed returns the time of the most recent activity.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// RequestCount returns the number of connections handled.
func (s *Session) RequestCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestCount
}

// IsActive reports whether the session is still open.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Close marks the session as closed.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Stats is a point-in-time snapshot of a session.
type Stats struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Profile      string    `json:"profile"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	RequestCount int64     `json:"request_count"`
}

// Snapshot returns the session's current stats.
func (s *Session) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ID:           s.ID,
		Key:          s.Key,
		Profile:      s.Profile.ID,
		CreatedAt:    s.CreatedAt,
		LastUsed:     s.lastUsed,
		RequestCount: s.requestCount,
	}
}
