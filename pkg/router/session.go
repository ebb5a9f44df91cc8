package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielmiguelok/questkit/pkg/core"
	"github.com/gabrielmiguelok/questkit/pkg/transport"
)

// LiveSession binds one websocket connection to its component.
type LiveSession struct {
	ID        string
	Component core.Component
	Socket    *core.Socket
	Transport transport.Transport
	Params    core.Params
	Session   core.Session
	CreatedAt time.Time

	mu           sync.RWMutex
	lastActivity time.Time
	mounted      bool
	joinRef      string
}

// NewLiveSession creates a session for comp on socket.
func NewLiveSession(comp core.Component, socket *core.Socket, params core.Params, session core.Session) *LiveSession {
	now := time.Now()
	return &LiveSession{
		ID:           uuid.NewString(),
		Component:    comp,
		Socket:       socket,
		Params:       params,
		Session:      session,
		CreatedAt:    now,
		lastActivity: now,
	}
}

// UpdateActivity records activity on the session.
func (s *LiveSession) UpdateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if s.Socket != nil {
		s.Socket.UpdateActivity()
	}
}

// LastActivity returns the time of the last message.
func (s *LiveSession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetMounted marks the component as mounted.
func (s *LiveSession) SetMounted(mounted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounted = mounted
}

// IsMounted reports whether the component was mounted.
func (s *LiveSession) IsMounted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mounted
}

// SetJoinRef stores the ref of the join message.
func (s *LiveSession) SetJoinRef(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinRef = ref
}

// JoinRef returns the ref of the join message.
func (s *LiveSession) JoinRef() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joinRef
}

// SessionManagerConfig configures the session manager.
type SessionManagerConfig struct {
	// MaxSessions caps live sessions; 0 means no limit.
	MaxSessions int
	// SessionTTL is how long an idle session survives Cleanup.
	SessionTTL time.Duration
}

// DefaultSessionManagerConfig returns the default configuration.
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		MaxSessions: 10000,
		SessionTTL:  30 * time.Minute,
	}
}

// SessionManager tracks live sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*LiveSession
	config   SessionManagerConfig
}

// NewSessionManager creates a session manager.
func NewSessionManager(config SessionManagerConfig) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*LiveSession),
		config:   config,
	}
}

// Add registers a session. When the manager is full the least recently
// active session is evicted and returned.
func (m *SessionManager) Add(s *LiveSession) (evicted *LiveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		evicted = m.oldestLocked()
		if evicted != nil {
			delete(m.sessions, evicted.ID)
		}
	}
	m.sessions[s.ID] = s
	return evicted
}

// Get returns a session by ID.
func (m *SessionManager) Get(id string) (*LiveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops a session.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expired removes and returns the sessions idle for longer than the TTL.
func (m *SessionManager) Expired(now time.Time) []*LiveSession {
	if m.config.SessionTTL <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*LiveSession
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.config.SessionTTL {
			out = append(out, s)
			delete(m.sessions, id)
		}
	}
	return out
}

func (m *SessionManager) oldestLocked() *LiveSession {
	var oldest *LiveSession
	for _, s := range m.sessions {
		if oldest == nil || s.LastActivity().Before(oldest.LastActivity()) {
			oldest = s
		}
	}
	return oldest
}
