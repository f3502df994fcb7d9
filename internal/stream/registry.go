// Package stream serves the bidirectional telemetry WebSocket.
package stream

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the live socket of each activity session. A new socket
// for the same session replaces and closes the previous one.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the live connection of a user and session.
func (m *Registry) Get(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Len returns the number of live connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register adds conn for a user/session.
func (m *Registry) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("[STREAM] Connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the live connection of the session.
func (m *Registry) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("[STREAM] Connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates the live connection of one activity session.
func (m *Registry) CloseSession(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	conn, ok := sessions[sessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
	slog.Info("[STREAM] Connection closed", "user_id", userID, "session_id", sessionID)
}
