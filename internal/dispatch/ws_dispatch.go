// Package dispatch pushes ride events to connected users over websockets.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/campus-rides/internal/events"
	"github.com/example/campus-rides/internal/observability"
)

const writeWait = 5 * time.Second

// WSSession represents a connected user session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

func (s *WSSession) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WSRegistry holds one session per user. A new connection replaces the
// previous one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(email string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[email]
	r.sessions[email] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	} else {
		observability.WSSessions.Inc()
	}
	return s
}

// Remove drops s if it is still the current session for email.
func (r *WSRegistry) Remove(email string, s *WSSession) {
	r.mu.Lock()
	cur, ok := r.sessions[email]
	if ok && cur == s {
		delete(r.sessions, email)
	}
	r.mu.Unlock()
	if ok && cur == s {
		observability.WSSessions.Dec()
	}
}

// Connected reports whether email has a live session.
func (r *WSRegistry) Connected(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[email]
	return ok
}

func (r *WSRegistry) Send(email string, e events.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[email]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(e); err != nil {
		r.logger.Warn("ws send error", "user", email, "err", err)
		return err
	}
	return nil
}

// Publish delivers e to every connected recipient. Recipients without a
// session are skipped.
func (r *WSRegistry) Publish(_ context.Context, e events.Event) error {
	for _, email := range e.Recipients {
		_ = r.Send(email, e)
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
