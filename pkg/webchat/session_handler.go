package webchat

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type duplexConn interface {
	wsConn
	ReadMessage() (messageType int, p []byte, err error)
}

// SessionHandler runs the receive loop of one websocket connection.
// Chat turns of a connection run one at a time in arrival order, off the
// receive loop, so pings are answered while a reply streams.
type SessionHandler struct {
	baseCtx      context.Context
	registry     *ConnectionRegistry
	runner       TurnRunner
	locks        *sessionLocks
	queueDepth   int
	writeTimeout time.Duration
	metrics      *Metrics
	now          func() time.Time
}

type SessionHandlerOption func(*SessionHandler)

func WithTurnQueueDepth(n int) SessionHandlerOption {
	return func(h *SessionHandler) { h.queueDepth = n }
}

func WithWriteTimeout(d time.Duration) SessionHandlerOption {
	return func(h *SessionHandler) { h.writeTimeout = d }
}

func WithHandlerMetrics(m *Metrics) SessionHandlerOption {
	return func(h *SessionHandler) { h.metrics = m }
}

// NewSessionHandler binds turns to baseCtx rather than to the connection, so
// an in-flight turn finishes and persists even if its client goes away.
func NewSessionHandler(baseCtx context.Context, registry *ConnectionRegistry, runner TurnRunner, opts ...SessionHandlerOption) *SessionHandler {
	h := &SessionHandler{
		baseCtx:      baseCtx,
		registry:     registry,
		runner:       runner,
		locks:        newSessionLocks(),
		queueDepth:   DefaultTurnQueueDepth,
		writeTimeout: 10 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve registers conn under sessionID and blocks until the connection drops.
// On return the session is unregistered and queued turns are discarded.
func (h *SessionHandler) Serve(sessionID string, conn duplexConn) {
	handle := NewSessionHandle(sessionID, conn, h.writeTimeout)
	h.registry.Register(sessionID, handle)
	queue := newTurnQueue(h.queueDepth)

	wsLog := log.With().
		Str("component", "webchat").
		Str("session_id", sessionID).
		Logger()
	wsLog.Info().Msg("ws connected")

	go h.runTurns(wsLog, sessionID, queue)

	defer func() {
		h.registry.UnregisterIf(sessionID, handle)
		queue.close()
		_ = handle.Close()
		wsLog.Info().Msg("ws disconnected")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			wsLog.Debug().Err(err).Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage {
			wsLog.Warn().Int("message_type", msgType).Msg("ignoring non-text frame")
			continue
		}
		h.dispatch(wsLog, sessionID, handle, queue, data)
	}
}

func (h *SessionHandler) dispatch(wsLog zerolog.Logger, sessionID string, handle *SessionHandle, queue *turnQueue, data []byte) {
	typ, err := frameType(data)
	if err != nil {
		h.metrics.envelopeReceived(envelopeLabelInvalid)
		wsLog.Warn().Err(err).Msg("malformed frame")
		h.reply(wsLog, handle, errorEnvelope(err))
		return
	}
	h.metrics.envelopeReceived(typ)

	switch typ {
	case TypePing:
		h.reply(wsLog, handle, pongEnvelope())
	case TypeChat:
		req, attachments, err := DecodeChatRequest(data)
		if err != nil {
			wsLog.Warn().Err(err).Msg("rejected chat frame")
			h.reply(wsLog, handle, errorEnvelope(err))
			return
		}
		err = queue.enqueue(queuedTurn{
			Request: TurnRequest{
				SessionID:      sessionID,
				ConversationID: req.ConversationID,
				Content:        req.Content,
				Attachments:    attachments,
			},
			EnqueuedAt: h.now(),
		})
		if err != nil {
			wsLog.Warn().Err(err).Str("conversation_id", req.ConversationID).Msg("chat turn not queued")
			h.reply(wsLog, handle, errorEnvelope(err))
		}
	default:
		wsLog.Warn().Str("type", typ).Msg("ignoring unknown frame type")
	}
}

func (h *SessionHandler) runTurns(wsLog zerolog.Logger, sessionID string, queue *turnQueue) {
	for {
		t, ok := queue.dequeue()
		if !ok {
			return
		}
		release, err := h.locks.acquire(h.baseCtx, sessionID)
		if err != nil {
			wsLog.Debug().Err(err).Msg("turn dropped, server shutting down")
			return
		}
		wsLog.Debug().
			Str("conversation_id", t.Request.ConversationID).
			Dur("queued_for", h.now().Sub(t.EnqueuedAt)).
			Msg("starting chat turn")
		h.runner.RunTurn(h.baseCtx, t.Request)
		release()
	}
}

func (h *SessionHandler) reply(wsLog zerolog.Logger, handle *SessionHandle, env Envelope) {
	if err := handle.WriteEnvelope(env); err != nil {
		wsLog.Debug().Err(err).Str("type", env.Type).Msg("reply failed")
	}
}
