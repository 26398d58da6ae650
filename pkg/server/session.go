package server

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/NicolasHaas/ircline/pkg/model"
)

// SessionManager manages active client sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint32]*model.Session // sessionID -> session
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint32]*model.Session),
	}
}

// Create creates a new anonymous session for a connection.
func (sm *SessionManager) Create(remoteAddr string) *model.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Generate random session ID
	var id uint32
	for {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint32(b)
		if id != 0 {
			if _, exists := sm.sessions[id]; !exists {
				break
			}
		}
	}

	sess := &model.Session{
		ID:         id,
		RemoteAddr: remoteAddr,
	}
	sm.sessions[id] = sess
	return sess
}

// GetSnapshot returns a copy of the session, so callers never hold a live
// pointer outside the manager lock.
func (sm *SessionManager) GetSnapshot(id uint32) (model.Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return *s, true
}

// SetIdentified binds a nick to the session after REGISTER or IDENTIFY.
func (sm *SessionManager) SetIdentified(id uint32, nick string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok {
		s.Nick = nick
		s.Identified = true
	}
}

// Remove removes a session.
func (sm *SessionManager) Remove(id uint32) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns snapshots of all active sessions.
func (sm *SessionManager) All() []model.Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]model.Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, *s)
	}
	return result
}
