package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
)

type Verifier interface {
	Verify(credential string) (domain.Identity, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, userID, projectID int64) (domain.Membership, error)
}

type Options struct {
	ProfileCacheSize int
	PresenceRate     float64
	PresenceBurst    int
}

// Manager drives the connection lifecycle: handshake, join, leave and
// disconnect.
type Manager struct {
	verifier Verifier
	registry domain.Registry
	access   Authorizer
	users    domain.UserStore
	profiles *lru.Cache[int64, domain.User]
	opts     Options
}

func NewManager(v Verifier, reg domain.Registry, access Authorizer, users domain.UserStore, opts Options) (*Manager, error) {
	if opts.ProfileCacheSize <= 0 {
		opts.ProfileCacheSize = 1024
	}
	profiles, err := lru.New[int64, domain.User](opts.ProfileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}
	return &Manager{
		verifier: v,
		registry: reg,
		access:   access,
		users:    users,
		profiles: profiles,
		opts:     opts,
	}, nil
}

// Open authenticates a new connection. A missing or invalid credential
// rejects the connection before it can reach any room.
func (m *Manager) Open(ctx context.Context, conn domain.Connection, credential string) (*Session, error) {
	id, err := m.verifier.Verify(credential)
	if err != nil {
		slog.Warn("handshake rejected", "clientId", conn.ID(), "error", err)
		return nil, err
	}

	s := &Session{
		conn:     conn,
		identity: id,
		user:     m.profile(ctx, id),
		state:    StateAuthenticated,
	}
	if m.opts.PresenceRate > 0 {
		burst := m.opts.PresenceBurst
		if burst <= 0 {
			burst = 1
		}
		s.presence = rate.NewLimiter(rate.Limit(m.opts.PresenceRate), burst)
	}

	slog.Info("client authenticated", "clientId", conn.ID(), "userId", id.UserID)
	return s, nil
}

func (m *Manager) profile(ctx context.Context, id domain.Identity) domain.User {
	if u, ok := m.profiles.Get(id.UserID); ok {
		return u
	}
	fallback := domain.User{ID: id.UserID, Email: id.Email, Name: id.Email}
	if m.users == nil {
		return fallback
	}
	u, err := m.users.User(ctx, id.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("profile lookup failed", "userId", id.UserID, "error", err)
		}
		return fallback
	}
	if u.Email == "" {
		u.Email = id.Email
	}
	if u.Name == "" {
		u.Name = u.Email
	}
	m.profiles.Add(id.UserID, u)
	return u
}

// Room returns the project room the session is currently in.
func (m *Manager) Room(s *Session) (int64, bool) {
	return m.registry.RoomOf(s.conn)
}

// Join moves the session into projectID's room if the user holds an access
// record for it. Joining another room first leaves the current one.
func (m *Manager) Join(ctx context.Context, s *Session, projectID int64) error {
	if _, err := m.access.Authorize(ctx, s.identity.UserID, projectID); err != nil {
		if errors.Is(err, domain.ErrNoAccess) {
			slog.Warn("join denied", "clientId", s.ID(), "userId", s.identity.UserID, "projectId", projectID)
			s.SendError(fmt.Sprintf("access denied to project %d", projectID))
		} else {
			slog.Error("join access check failed", "clientId", s.ID(), "projectId", projectID, "error", err)
			s.SendError(fmt.Sprintf("could not verify access to project %d", projectID))
		}
		return err
	}

	if s.State() == StateTerminated {
		return nil
	}

	res := m.registry.Join(s.conn, projectID)
	if res.Moved {
		m.notify(res.Left, domain.EventUserLeft, s, "left")
	}
	s.Send(domain.EventJoinedRoom, domain.JoinedRoom{ProjectID: projectID})
	if res.Joined {
		m.notify(projectID, domain.EventUserJoined, s, "joined")
	}
	return nil
}

// Leave removes the session from projectID's room. Leaving a room the
// session is not in is a no-op.
func (m *Manager) Leave(s *Session, projectID int64) {
	if !m.registry.Leave(s.conn, projectID) {
		slog.Debug("leave ignored, not in room", "clientId", s.ID(), "projectId", projectID)
		return
	}
	m.notify(projectID, domain.EventUserLeft, s, "left")
}

// Close tears the session down after its transport closed. Peers of the last
// room get exactly one user-left before Close returns.
func (m *Manager) Close(s *Session) {
	if !s.terminate() {
		return
	}
	if projectID, ok := m.registry.LeaveAll(s.conn); ok {
		m.notify(projectID, domain.EventUserLeft, s, "left")
	}
	slog.Info("client disconnected", "clientId", s.ID(), "userId", s.identity.UserID)
}

func (m *Manager) notify(projectID int64, eventType string, s *Session, verb string) {
	msg, err := domain.Encode(eventType, domain.UserPresence{
		ProjectID: projectID,
		UserID:    s.identity.UserID,
		Email:     s.user.Email,
		Name:      s.user.Name,
		Message:   fmt.Sprintf("%s %s the project", s.user.Name, verb),
	})
	if err != nil {
		slog.Error("encode presence", "event", eventType, "error", err)
		return
	}
	m.registry.Broadcast(projectID, msg, s.conn)
}
