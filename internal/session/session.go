// Package session holds per-user annotation state and map view.
package session

import (
	"sync"
	"time"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// View is the map center and zoom shown to the user.
type View struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Zoom int     `json:"zoom"`
}

// Session is the state of one user session. Lock it for the duration of an action.
type Session struct {
	LastSeen time.Time
	Store    *annotation.Store
	ID       string
	View     View

	mu sync.Mutex
}

// Lock serializes actions on the session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Manager creates, finds and discards sessions.
type Manager struct {
	now      func() time.Time
	sessions map[string]*Session
	initial  View
	ttl      time.Duration
	mu       sync.Mutex
}

// NewManager returns a manager whose sessions start at the configured view.
func NewManager(view config.View, ttl time.Duration) *Manager {
	return &Manager{
		now:      time.Now,
		sessions: make(map[string]*Session),
		initial:  View{Lat: view.Lat, Lon: view.Lon, Zoom: view.Zoom},
		ttl:      ttl,
	}
}

// Get returns the session with id, creating a new one when id is unknown or expired.
// The second result reports whether a session was created.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expire(now)

	if s, ok := m.sessions[id]; ok {
		s.LastSeen = now
		return s, false
	}

	s := &Session{
		ID:       uuid.NewString(),
		Store:    annotation.NewStore(),
		View:     m.initial,
		LastSeen: now,
	}
	m.sessions[s.ID] = s

	log.Debug().Str("session", s.ID).Msg("Session created")
	return s, true
}

// Discard drops the session with id. It reports whether the session existed.
func (m *Manager) Discard(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)

	log.Debug().Str("session", id).Msg("Session discarded")
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// expire drops sessions idle for longer than the ttl. Caller holds m.mu.
func (m *Manager) expire(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.ttl {
			delete(m.sessions, id)
			log.Debug().Str("session", id).Msg("Session expired")
		}
	}
}
