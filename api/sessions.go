package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gemvault/assortment-engine/assortment"
)

// SessionManager holds one assortment Controller per browser session.
type SessionManager struct {
	backend assortment.Backend
	log     logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*assortment.Controller
}

func NewSessionManager(backend assortment.Backend, log logrus.FieldLogger) *SessionManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionManager{
		backend:  backend,
		log:      log,
		sessions: make(map[string]*assortment.Controller),
	}
}

// Create starts a new empty session.
func (m *SessionManager) Create() (string, *assortment.Controller) {
	id := uuid.NewString()
	ctrl := assortment.NewController(m.backend, m.log.WithField("session_id", id))

	m.mu.Lock()
	m.sessions[id] = ctrl
	m.mu.Unlock()
	return id, ctrl
}

func (m *SessionManager) Get(id string) (*assortment.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.sessions[id]
	return ctrl, ok
}

// Delete drops a session. It reports whether the session existed.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire removes sessions untouched since before cutoff, except those with a
// submission in flight. It returns the number removed.
func (m *SessionManager) Expire(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, ctrl := range m.sessions {
		if !ctrl.TouchedAt().Before(cutoff) {
			continue
		}
		if ctrl.State().Status == assortment.StatusInFlight {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	return removed
}
