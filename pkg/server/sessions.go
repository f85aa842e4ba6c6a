package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/streamguard/pkg/policy/dlp"
)

// Session is one streaming analysis owned by a client. The analyzer is not
// safe for concurrent use, so every access goes through Do.
type Session struct {
	ID        string
	Profile   string
	CreatedAt time.Time

	mu       sync.Mutex
	analyzer *dlp.Analyzer
	lastSeen atomic.Int64
}

// Do runs fn with exclusive access to the session analyzer.
func (s *Session) Do(fn func(a *dlp.Analyzer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.analyzer)
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// SessionManager keeps the open sessions of one server instance in memory.
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
	onClose  func(s *Session, expired bool)
}

// NewSessionManager creates an empty manager. onClose, when set, observes
// every removed session.
func NewSessionManager(onClose func(s *Session, expired bool)) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		onClose:  onClose,
	}
}

// Create opens a session analyzing with cfg.
func (m *SessionManager) Create(profile string, cfg dlp.Config) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.New().String(),
		Profile:   profile,
		CreatedAt: now,
		analyzer:  dlp.NewAnalyzer(cfg),
	}
	s.touch(now)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session and marks it as used.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.touch(m.now())
	return s, true
}

// Delete removes a session and reports whether it existed.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok && m.onClose != nil {
		m.onClose(s, false)
	}
	return ok
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartCleanup runs a ticker to remove sessions idle for longer than ttl
func (m *SessionManager) StartCleanup(ctx context.Context, interval time.Duration, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanup(ttl)
			}
		}
	}()
}

func (m *SessionManager) cleanup(ttl time.Duration) int {
	now := m.now()

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > ttl {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	if m.onClose != nil {
		for _, s := range expired {
			m.onClose(s, true)
		}
	}
	return len(expired)
}
