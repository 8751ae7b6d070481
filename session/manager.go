package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager tracks sessions keyed by client address. The first connection
// from a client creates its session and runs the policy; later
// connections reuse the binding until the session idles out.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	policy Policy

	maxSessions     int
	sessionTimeout  time.Duration
	cleanupInterval time.Duration
	onEvict         func(*Session)

	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewManager creates a session manager using the given assignment
// policy and starts its background eviction loop.
func NewManager(policy Policy) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		policy:          policy,
		maxSessions:     10000,
		sessionTimeout:  30 * time.Minute,
		cleanupInterval: 5 * time.Minute,
		shutdown:        make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Acquire returns the session for the given client key, creating and
// binding one if none exists. The returned session's idle timer is
// reset.
func (m *Manager) Acquire(key string) (*Session, error) {
	m.mu.RLock()
	sess, exists := m.sessions[key]
	m.mu.RUnlock()

	if exists && sess.IsActive() {
		sess.Touch()
		return sess, nil
	}

	m.mu.Lock()

	// Another goroutine may have created it while we upgraded the lock.
	if sess, exists := m.sessions[key]; exists && sess.IsActive() {
		sess.Touch()
		m.mu.Unlock()
		return sess, nil
	}

	// A closed session still in the map is replaced; its resources are
	// released through the evict hook.
	var evicted []*Session
	if old, exists := m.sessions[key]; exists {
		old.Close()
		delete(m.sessions, key)
		evicted = append(evicted, old)
	}

	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		m.notifyEvict(evicted)
		return nil, ErrTooManySessions
	}

	sess = NewSession(key, m.policy.Next())
	m.sessions[key] = sess
	m.mu.Unlock()
	m.notifyEvict(evicted)

	logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"client":  key,
		"profile": sess.Profile.ID,
	}).Debug("Session created")

	return sess, nil
}

// SetEvictHook registers fn to run after a session has been closed and
// removed from the table. The hook runs outside the manager lock.
func (m *Manager) SetEvictHook(fn func(*Session)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

func (m *Manager) notifyEvict(evicted []*Session) {
	m.mu.RLock()
	fn := m.onEvict
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, sess := range evicted {
		fn(sess)
	}
}

// Lookup returns the session for a client key without creating one.
func (m *Manager) Lookup(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, exists := m.sessions[key]
	if !exists || !sess.IsActive() {
		return nil, false
	}
	return sess, true
}

// Remove closes and deletes the session for a client key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	sess, exists := m.sessions[key]
	if exists {
		sess.Close()
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if exists {
		m.notifyEvict([]*Session{sess})
	}
}

// List returns stats for all active sessions.
func (m *Manager) List() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.sessions))
	for _, sess := range m.sessions {
		stats = append(stats, sess.Snapshot())
	}
	return stats
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop periodically evicts idle sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle()
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) evictIdle() {
	m.mu.Lock()
	now := time.Now()
	var evicted []*Session
	for key, sess := range m.sessions {
		if now.Sub(sess.LastUsed()) > m.sessionTimeout {
			sess.Close()
			delete(m.sessions, key)
			evicted = append(evicted, sess)
			logrus.WithFields(logrus.Fields{
				"session": sess.ID,
				"client":  key,
			}).Debug("Session expired")
		}
	}
	m.mu.Unlock()
	m.notifyEvict(evicted)
}

// Shutdown closes all sessions and stops the eviction loop.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() { close(m.shutdown) })

	m.mu.Lock()
	evicted := make([]*Session, 0, len(m.sessions))
	for key, sess := range m.sessions {
		sess.Close()
		delete(m.sessions, key)
		evicted = append(evicted, sess)
	}
	m.mu.Unlock()
	m.notifyEvict(evicted)
}

// SetMaxSessions sets the maximum number of concurrent sessions.
func (m *Manager) SetMaxSessions(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = max
}

// SetSessionTimeout sets the session idle timeout.
func (m *Manager) SetSessionTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTimeout = timeout
}
