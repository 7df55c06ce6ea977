package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// broadcastWriteTimeout bounds a single frame write to one connection.
const broadcastWriteTimeout = 5 * time.Second

// Conn is the part of a WebSocket connection the registry needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks open assistant connections per user and tab session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]Conn),
	}
}

// GetActive returns the active connection for a user and session.
func (m *SessionManager) GetActive(userID, sessionID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for a user/session, closing any connection it
// replaces.
func (m *SessionManager) Register(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Conn)
	}

	existing, exists := m.active[userID][sessionID]
	if exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	if !exists {
		wsConnections.Inc()
	}

	m.active[userID][sessionID] = conn
	slog.Info("Assistant session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection for a user/session. A connection that was
// already replaced is ignored.
func (m *SessionManager) Unregister(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			wsConnections.Dec()
			slog.Info("Assistant session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates all open connections of a user.
func (m *SessionManager) CloseSession(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}

	for sid, conn := range sessions {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		wsConnections.Dec()
		slog.Info("Assistant session closed", "user_id", userID, "session_id", sid)
	}
	delete(m.active, userID)
}

// Count returns the number of open connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Broadcast sends v as a JSON text frame to every connection of userID and
// returns how many writes succeeded.
func (m *SessionManager) Broadcast(ctx context.Context, userID string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal broadcast frame", "error", err, "user_id", userID)
		return 0
	}

	// Snapshot connections to avoid holding the lock during writes.
	m.mu.RLock()
	conns := make(map[string]Conn, len(m.active[userID]))
	for sid, c := range m.active[userID] {
		conns[sid] = c
	}
	m.mu.RUnlock()

	sent := 0
	for sid, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("Broadcast write failed", "error", err, "user_id", userID, "session_id", sid)
			continue
		}
		sent++
	}
	return sent
}
