// Package session owns per-connection state: who the connection belongs to,
// which project room it is in, and the join/leave/disconnect notifications
// that go with moving between rooms.
package session

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
)

type State int

const (
	StateAuthenticated State = iota
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is one authenticated client connection. Identity and profile are
// fixed at handshake; room membership lives in the registry.
type Session struct {
	conn     domain.Connection
	identity domain.Identity
	user     domain.User
	presence *rate.Limiter

	mu    sync.Mutex
	state State
}

func (s *Session) Conn() domain.Connection   { return s.conn }
func (s *Session) ID() string                { return s.conn.ID() }
func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) User() domain.User         { return s.user }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// terminate reports whether this call moved the session to StateTerminated.
func (s *Session) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.state = StateTerminated
	return true
}

// AllowPresence reports whether another cursor or selection event fits in
// this connection's presence budget.
func (s *Session) AllowPresence() bool {
	if s.presence == nil {
		return true
	}
	return s.presence.Allow()
}

// Send encodes and delivers one event to this connection only.
func (s *Session) Send(eventType string, data any) error {
	msg, err := domain.Encode(eventType, data)
	if err != nil {
		return err
	}
	if err := s.conn.Send(msg); err != nil {
		slog.Warn("send failed", "clientId", s.ID(), "event", eventType, "error", err)
		return err
	}
	return nil
}

func (s *Session) SendError(message string) {
	s.Send(domain.EventError, domain.ErrorEvent{Message: message})
}
