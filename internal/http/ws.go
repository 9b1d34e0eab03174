package httpapi

import (
	"net/http"
	"time"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleWS streams the caller's ride events until the client goes away. A
// second connection for the same user replaces the first.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "user", u.Email, "err", err)
		return
	}
	sess := s.ws.Add(u.Email, conn)
	defer func() {
		s.ws.Remove(u.Email, sess)
		_ = conn.Close()
	}()
	s.logger.Info("ws connected", "user", u.Email)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := sess.Ping(); err != nil {
					return
				}
			}
		}
	}()

	// Client messages are ignored; reading keeps control frames flowing.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			s.logger.Info("ws disconnected", "user", u.Email, "err", err)
			return
		}
	}
}
