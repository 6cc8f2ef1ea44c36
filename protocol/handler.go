// Package protocol decodes client events and routes them to the lifecycle
// manager, the diagram pipeline or the presence relay.
package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/pipeline"
	"github.com/Rojas22bt/diagamaIA-sub001/presence"
	"github.com/Rojas22bt/diagamaIA-sub001/session"
)

const (
	eventPing = "ping"
	eventPong = "pong"
)

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Observer is told the outcome of every handled event.
type Observer interface {
	Observe(eventType string, err error)
}

type nopObserver struct{}

func (nopObserver) Observe(string, error) {}

type Handler struct {
	manager  *session.Manager
	pipeline *pipeline.Pipeline
	relay    *presence.Relay
	observer Observer
}

func NewHandler(m *session.Manager, p *pipeline.Pipeline, r *presence.Relay, o Observer) *Handler {
	if o == nil {
		o = nopObserver{}
	}
	return &Handler{manager: m, pipeline: p, relay: r, observer: o}
}

// Bind returns the message handler for one connection's session.
func (h *Handler) Bind(s *session.Session) domain.MessageHandler {
	return &bound{h: h, s: s}
}

type bound struct {
	h *Handler
	s *session.Session
}

func (b *bound) Handle(ctx context.Context, data []byte) { b.h.Handle(ctx, b.s, data) }
func (b *bound) Close()                                  { b.h.manager.Close(b.s) }

func (h *Handler) Handle(ctx context.Context, s *session.Session, data []byte) {
	env, err := domain.Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", s.ID(), "error", err)
		s.SendError("malformed message")
		h.observer.Observe("invalid", err)
		return
	}

	err = h.dispatch(ctx, s, env)
	h.observer.Observe(env.Type, err)
}

func (h *Handler) dispatch(ctx context.Context, s *session.Session, env domain.Envelope) error {
	switch env.Type {
	case eventPing:
		var ping Ping
		if len(env.Data) > 0 {
			if err := domain.UnmarshalData(env, &ping); err != nil {
				return h.malformed(s, err)
			}
		}
		return s.Send(eventPong, ping)

	case domain.EventJoinRoom:
		var ev domain.JoinRoom
		if err := domain.DecodeData(env, &ev); err != nil {
			return h.malformed(s, err)
		}
		return h.manager.Join(ctx, s, ev.ProjectID)

	case domain.EventLeaveRoom:
		var ev domain.LeaveRoom
		if err := domain.DecodeData(env, &ev); err != nil {
			return h.malformed(s, err)
		}
		h.manager.Leave(s, ev.ProjectID)
		return nil

	case domain.EventDiagramChange:
		var ev domain.DiagramChange
		if err := domain.DecodeData(env, &ev); err != nil {
			return h.malformed(s, err)
		}
		return h.pipeline.Apply(ctx, s, ev)

	case domain.EventCursorMove:
		var ev domain.CursorMove
		if err := domain.DecodeData(env, &ev); err != nil {
			return h.malformed(s, err)
		}
		return h.relay.CursorMove(s, ev)

	case domain.EventElementSelect:
		var ev domain.ElementSelect
		if err := domain.DecodeData(env, &ev); err != nil {
			return h.malformed(s, err)
		}
		return h.relay.ElementSelect(s, ev)

	default:
		s.SendError(fmt.Sprintf("unknown event %q", env.Type))
		return fmt.Errorf("%w: unknown event %q", domain.ErrMalformedPayload, env.Type)
	}
}

func (h *Handler) malformed(s *session.Session, err error) error {
	slog.Warn("malformed event", "clientId", s.ID(), "error", err)
	s.SendError(err.Error())
	return err
}
