// Package session implements the server-side session table backing the
// auth cookie. Sessions live in process memory: the cookie only carries
// the opaque session id, never any state the client could forge.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patric-chuzhbe/shoplite/internal/logger"
	"github.com/patric-chuzhbe/shoplite/internal/models"
)

// Manager issues, validates, and destroys sessions. All methods are safe
// for concurrent use.
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]models.Session
	ttl           time.Duration
	sweepInterval time.Duration
}

// New creates a Manager issuing sessions valid for ttl. Expired sessions
// are rejected immediately on Validate; Run prunes them from memory every
// sweepInterval.
func New(ttl, sweepInterval time.Duration) *Manager {
	return &Manager{
		sessions:      map[string]models.Session{},
		ttl:           ttl,
		sweepInterval: sweepInterval,
	}
}

// Create issues a new session for userID. The session id is an
// unguessable random token.
func (m *Manager) Create(userID string) models.Session {
	sess := models.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	return sess
}

// Validate resolves a session id to its user id. Unknown and expired
// sessions fail with models.ErrUnauthenticated; an expired session is
// dropped on the spot.
func (m *Manager) Validate(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", models.ErrUnauthenticated
	}
	if sess.IsExpired(time.Now()) {
		delete(m.sessions, sessionID)
		return "", models.ErrUnauthenticated
	}

	return sess.UserID, nil
}

// Destroy invalidates a session. Destroying an unknown id is a no-op.
func (m *Manager) Destroy(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Run starts the background sweeper pruning expired sessions on a ticker.
// It returns immediately; the sweeper stops when ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := m.sweep(time.Now()); swept > 0 {
					logger.Log.Infof("swept %d expired sessions", swept)
				}
			}
		}
	}()
}

func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	for sessionID, sess := range m.sessions {
		if sess.IsExpired(now) {
			delete(m.sessions, sessionID)
			swept++
		}
	}

	return swept
}
