package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Client -> server events.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventDiagramChange = "diagram-change"
	EventCursorMove    = "cursor-move"
	EventElementSelect = "element-select"
)

// Server -> client events.
const (
	EventJoinedRoom      = "joined-room"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventDiagramUpdated  = "diagram-updated"
	EventCursorMoved     = "cursor-moved"
	EventElementSelected = "element-selected"
	EventError           = "error"
)

// Transient change types are broadcast but never persisted or audited.
const (
	ChangeMove   = "move"
	ChangeCursor = "cursor"
)

func IsTransient(changeType string) bool {
	return changeType == ChangeMove || changeType == ChangeCursor
}

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	ProjectID int64 `json:"projectId"`
}

// UnmarshalJSON accepts either a bare project id or {"projectId": n}.
func (j *JoinRoom) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		return json.Unmarshal(data, &j.ProjectID)
	}
	type plain JoinRoom
	return json.Unmarshal(data, (*plain)(j))
}

type LeaveRoom = JoinRoom

type DiagramChange struct {
	ProjectID   int64           `json:"projectId"`
	DiagramData json.RawMessage `json:"diagramData"`
	ChangeType  string          `json:"changeType"`
	ElementID   string          `json:"elementId,omitempty"`
}

type CursorMove struct {
	ProjectID int64   `json:"projectId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type ElementSelect struct {
	ProjectID   int64  `json:"projectId"`
	ElementID   string `json:"elementId"`
	ElementType string `json:"elementType"`
}

type JoinedRoom struct {
	ProjectID int64 `json:"projectId"`
}

// UserPresence is the payload of user-joined and user-left.
type UserPresence struct {
	ProjectID int64  `json:"projectId"`
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Message   string `json:"message"`
}

type DiagramUpdated struct {
	ProjectID   int64           `json:"projectId"`
	UserID      int64           `json:"userId"`
	UserEmail   string          `json:"userEmail"`
	UserName    string          `json:"userName"`
	DiagramData json.RawMessage `json:"diagramData"`
	ChangeType  string          `json:"changeType"`
	ElementID   string          `json:"elementId,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type CursorMoved struct {
	ProjectID int64   `json:"projectId"`
	UserID    int64   `json:"userId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type ElementSelected struct {
	UserID      int64  `json:"userId"`
	ElementID   string `json:"elementId"`
	ElementType string `json:"elementType"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func Encode(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	return env, nil
}

// DecodeData unmarshals an envelope's data into v, rejecting payloads without a project id.
func DecodeData(env Envelope, v interface{ project() int64 }) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	if v.project() <= 0 {
		return fmt.Errorf("%w: %s without projectId", ErrMalformedPayload, env.Type)
	}
	return nil
}

func (j *JoinRoom) project() int64      { return j.ProjectID }
func (d *DiagramChange) project() int64 { return d.ProjectID }
func (c *CursorMove) project() int64    { return c.ProjectID }
func (e *ElementSelect) project() int64 { return e.ProjectID }

// UnmarshalData unmarshals an envelope's data into v without further checks.
func UnmarshalData(env Envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return nil
}
