// Package pipeline validates, persists and rebroadcasts diagram changes.
//
// Structural changes overwrite the project's stored snapshot wholesale
// (last writer wins) and append an audit entry; transient changes ("move",
// "cursor") are only rebroadcast. A failed write is reported to the sender but
// the change is still broadcast, so peers may see state the store never
// recorded: persistence is at most once, delivery best effort.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/session"
)

const defaultChangeType = "update"

type Pipeline struct {
	rooms  domain.Registry
	access session.Authorizer
	store  domain.DiagramStore
	now    func() time.Time

	// locks serializes persist+broadcast per project so peers observe
	// structural changes in the order they were written. An entry lives only
	// while some change for its project holds or waits on it.
	locksMu sync.Mutex
	locks   map[int64]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

func New(rooms domain.Registry, access session.Authorizer, store domain.DiagramStore) *Pipeline {
	return &Pipeline{
		rooms:  rooms,
		access: access,
		store:  store,
		now:    time.Now,
		locks:  make(map[int64]*projectLock),
	}
}

func (p *Pipeline) lock(projectID int64) func() {
	p.locksMu.Lock()
	l, ok := p.locks[projectID]
	if !ok {
		l = &projectLock{}
		p.locks[projectID] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.locksMu.Lock()
		defer p.locksMu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(p.locks, projectID)
		}
	}
}

// Apply runs one change from s through authorize, persist and broadcast.
// Every failure is reported to the sender only.
func (p *Pipeline) Apply(ctx context.Context, s *session.Session, change domain.DiagramChange) error {
	logger := slog.With("clientId", s.ID(), "userId", s.Identity().UserID, "projectId", change.ProjectID)

	if room, ok := p.rooms.RoomOf(s.Conn()); !ok || room != change.ProjectID {
		logger.Warn("diagram change outside joined room")
		s.SendError(fmt.Sprintf("not joined to project %d", change.ProjectID))
		return domain.ErrNotInRoom
	}

	member, err := p.access.Authorize(ctx, s.Identity().UserID, change.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNoAccess) {
			logger.Warn("diagram change denied")
			s.SendError(fmt.Sprintf("access denied to project %d", change.ProjectID))
		} else {
			logger.Error("diagram change access check failed", "error", err)
			s.SendError(fmt.Sprintf("could not verify access to project %d", change.ProjectID))
		}
		return err
	}

	if missing(change.DiagramData) {
		s.SendError("diagramData is required")
		return fmt.Errorf("%w: empty diagramData", domain.ErrMalformedPayload)
	}
	if change.ChangeType == "" {
		change.ChangeType = defaultChangeType
	}

	if domain.IsTransient(change.ChangeType) {
		p.broadcast(s, change)
		return nil
	}

	unlock := p.lock(change.ProjectID)
	defer unlock()

	persistErr := p.persist(ctx, s, logger, member, change)
	p.broadcast(s, change)
	return persistErr
}

// persist stores the snapshot and then its audit entry. A failure of either
// step is reported to the sender with its own message.
func (p *Pipeline) persist(ctx context.Context, s *session.Session, logger *slog.Logger, member domain.Membership, change domain.DiagramChange) error {
	if err := p.store.SaveDiagram(ctx, change.ProjectID, Canonical(change.DiagramData)); err != nil {
		logger.Error("diagram save failed", "changeType", change.ChangeType, "error", err)
		s.SendError("failed to save diagram change")
		return fmt.Errorf("save diagram: %w", err)
	}
	if err := p.store.AppendAudit(ctx, member.ID, AuditAction(change.ChangeType)); err != nil {
		logger.Error("audit append failed", "changeType", change.ChangeType, "memberId", member.ID, "error", err)
		s.SendError("diagram saved but the change could not be audited")
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// missing reports whether diagram data is absent or JSON null.
func missing(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (p *Pipeline) broadcast(s *session.Session, change domain.DiagramChange) {
	data, err := Structured(change.DiagramData)
	if err != nil {
		slog.Debug("forwarding unparsed diagram data", "clientId", s.ID(), "error", err)
	}

	user := s.User()
	msg, err := domain.Encode(domain.EventDiagramUpdated, domain.DiagramUpdated{
		ProjectID:   change.ProjectID,
		UserID:      s.Identity().UserID,
		UserEmail:   user.Email,
		UserName:    user.Name,
		DiagramData: data,
		ChangeType:  change.ChangeType,
		ElementID:   change.ElementID,
		Timestamp:   p.now().UTC(),
	})
	if err != nil {
		slog.Error("encode diagram update", "clientId", s.ID(), "error", err)
		return
	}
	p.rooms.Broadcast(change.ProjectID, msg, s.Conn())
}

func AuditAction(changeType string) string {
	return "diagram_" + changeType
}

// Structured returns diagram data as a JSON value. Data that arrived as a
// JSON string holding a document is unwrapped; a string that does not parse
// is returned unchanged together with domain.ErrMalformedPayload.
func Structured(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw, nil
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return raw, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(inner)); err != nil {
		return raw, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return buf.Bytes(), nil
}

// Canonical is the serialized form a snapshot is stored in: compact JSON, or
// the raw text when a string payload does not parse.
func Canonical(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			raw = json.RawMessage(inner)
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
