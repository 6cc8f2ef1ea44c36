// Package presence relays cursor and selection events to the sender's room.
// Nothing here is persisted and the only check is current room membership.
package presence

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/session"
)

// ErrThrottled is returned when an event exceeds the connection's presence budget.
var ErrThrottled = errors.New("presence event throttled")

type Relay struct {
	rooms domain.Registry
}

func New(rooms domain.Registry) *Relay {
	return &Relay{rooms: rooms}
}

func (r *Relay) CursorMove(s *session.Session, ev domain.CursorMove) error {
	if err := r.admit(s, ev.ProjectID); err != nil {
		return err
	}
	return r.relay(s, ev.ProjectID, domain.EventCursorMoved, domain.CursorMoved{
		ProjectID: ev.ProjectID,
		UserID:    s.Identity().UserID,
		X:         ev.X,
		Y:         ev.Y,
	})
}

func (r *Relay) ElementSelect(s *session.Session, ev domain.ElementSelect) error {
	if err := r.admit(s, ev.ProjectID); err != nil {
		return err
	}
	return r.relay(s, ev.ProjectID, domain.EventElementSelected, domain.ElementSelected{
		UserID:      s.Identity().UserID,
		ElementID:   ev.ElementID,
		ElementType: ev.ElementType,
	})
}

func (r *Relay) admit(s *session.Session, projectID int64) error {
	if room, ok := r.rooms.RoomOf(s.Conn()); !ok || room != projectID {
		s.SendError(fmt.Sprintf("not joined to project %d", projectID))
		return domain.ErrNotInRoom
	}
	if !s.AllowPresence() {
		slog.Debug("presence throttled", "clientId", s.ID(), "projectId", projectID)
		return ErrThrottled
	}
	return nil
}

func (r *Relay) relay(s *session.Session, projectID int64, eventType string, data any) error {
	msg, err := domain.Encode(eventType, data)
	if err != nil {
		return err
	}
	r.rooms.Broadcast(projectID, msg, s.Conn())
	return nil
}
