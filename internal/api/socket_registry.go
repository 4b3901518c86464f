package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// socketRegistry tracks the assistance socket of each user tab. A tab that reconnects
// replaces, and closes, its previous socket.
type socketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

func newSocketRegistry(logger *slog.Logger) *socketRegistry {
	return &socketRegistry{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register adds conn for a user/session.
func (m *socketRegistry) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	m.logger.Info("Assist socket registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the registered socket for the user/session.
func (m *socketRegistry) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == conn {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
		m.logger.Info("Assist socket unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// Count returns the number of registered sockets.
func (m *socketRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
