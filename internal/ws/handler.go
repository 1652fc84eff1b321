// Package ws streams listener status to control panel clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/server"
)

// StatusSource provides the status pushed to clients.
type StatusSource interface {
	Status() server.Status
}

// Handler upgrades panel connections and pushes status events.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	source   StatusSource
	interval time.Duration
	sessions map[string]*session
	mu       sync.Mutex
}

type session struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex
	logger *zap.Logger
	source StatusSource
}

// NewHandler creates a handler pushing a status snapshot every interval.
func NewHandler(logger *zap.Logger, source StatusSource, interval time.Duration) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Handler{
		logger:   logger,
		source:   source,
		interval: interval,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle serves one websocket client until it disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		logger: h.logger,
		source: h.source,
	}
	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.id),
		zap.String("remote_addr", r.RemoteAddr),
	)
	h.registerSession(sess)
	defer h.unregisterSession(sess.id)

	sess.sendStatus(eventStatus)
	go sess.pushLoop(ctx, h.interval)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.String("session_id", sess.id), zap.Error(err))
			break
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(outgoingEvent{Type: eventError, Message: "invalid json"})
			continue
		}
		sess.dispatchIncoming(ctx, msg)
	}
	sess.logger.Info("ws session closed", zap.String("session_id", sess.id))
}

// Broadcast pushes the current status to every client with the given event
// type.
func (h *Handler) Broadcast(eventType string) {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.sendStatus(eventType)
	}
}

// SessionCount returns the number of connected clients.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) registerSession(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Handler) unregisterSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (s *session) pushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendStatus(eventStatus)
		}
	}
}

func (s *session) sendStatus(eventType string) {
	status := s.source.Status()
	s.sendJSON(outgoingEvent{Type: eventType, Status: &status, Time: time.Now()})
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed", zap.String("session_id", s.id), zap.Error(err))
	}
}
