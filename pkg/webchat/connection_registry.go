package webchat

import (
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrDeliveryFailed is reported when a frame could not be written to a live connection.
var ErrDeliveryFailed = stderrors.New("delivery failed")

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SessionHandle is one live connection bound to a session id. Writes are
// serialized so a ping reply never interleaves with a streamed chunk.
type SessionHandle struct {
	sessionID    string
	conn         wsConn
	writeTimeout time.Duration

	mu sync.Mutex
}

func NewSessionHandle(sessionID string, conn wsConn, writeTimeout time.Duration) *SessionHandle {
	return &SessionHandle{sessionID: sessionID, conn: conn, writeTimeout: writeTimeout}
}

func (h *SessionHandle) SessionID() string {
	if h == nil {
		return ""
	}
	return h.sessionID
}

func (h *SessionHandle) WriteEnvelope(env Envelope) error {
	if h == nil || h.conn == nil {
		return errors.New("session handle is nil")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeTimeout > 0 {
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *SessionHandle) Close() error {
	if h == nil || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}

// ConnectionRegistry maps session ids to their live connection. Register is
// last-writer-wins; sends to an absent session are dropped silently.
type ConnectionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SessionHandle
	metrics  *Metrics
}

func NewConnectionRegistry(metrics *Metrics) *ConnectionRegistry {
	return &ConnectionRegistry{sessions: map[string]*SessionHandle{}, metrics: metrics}
}

func (r *ConnectionRegistry) Register(sessionID string, h *SessionHandle) {
	if r == nil || h == nil {
		return
	}
	r.mu.Lock()
	_, replaced := r.sessions[sessionID]
	r.sessions[sessionID] = h
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.setLiveSessions(n)
	if replaced {
		log.Debug().Str("component", "webchat").Str("session_id", sessionID).Msg("session re-registered, previous connection orphaned")
	}
}

func (r *ConnectionRegistry) Unregister(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.sessions, sessionID)
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.setLiveSessions(n)
}

// UnregisterIf removes the entry only while it still points at h, so a
// closing connection cannot evict the one that replaced it.
func (r *ConnectionRegistry) UnregisterIf(sessionID string, h *SessionHandle) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.sessions[sessionID]
	removed := ok && cur == h
	if removed {
		delete(r.sessions, sessionID)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.setLiveSessions(n)
	return removed
}

func (r *ConnectionRegistry) Lookup(sessionID string) (*SessionHandle, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sessionID]
	return h, ok
}

// Send writes env to the session's current connection. A missing session is
// not an error. A failed write is returned wrapping ErrDeliveryFailed and is
// not retried; the registry entry is left alone.
func (r *ConnectionRegistry) Send(sessionID string, env Envelope) error {
	h, ok := r.Lookup(sessionID)
	if !ok {
		return nil
	}
	if err := h.WriteEnvelope(env); err != nil {
		return errors.Wrapf(ErrDeliveryFailed, "session %s: %s: %v", sessionID, env.Type, err)
	}
	return nil
}

func (r *ConnectionRegistry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every live connection and empties the registry.
func (r *ConnectionRegistry) CloseAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	handles := make([]*SessionHandle, 0, len(r.sessions))
	for id, h := range r.sessions {
		handles = append(handles, h)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	r.metrics.setLiveSessions(0)
	for _, h := range handles {
		_ = h.Close()
	}
}
