package domain

import (
	"context"
	"time"
)

type Identity struct {
	UserID int64
	Email  string
}

type User struct {
	ID    int64
	Email string
	Name  string
}

// Membership is an access record: the fact that a user holds a role on a project.
type Membership struct {
	ID        int64
	ProjectID int64
	UserID    int64
	Role      string
}

type AuditEntry struct {
	ID        int64
	MemberID  int64
	Action    string
	CreatedAt time.Time
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// JoinResult describes how a Join changed membership.
type JoinResult struct {
	Joined bool
	Left   int64
	Moved  bool
}

type Registry interface {
	Join(conn Connection, projectID int64) JoinResult
	Leave(conn Connection, projectID int64) bool
	LeaveAll(conn Connection) (int64, bool)
	RoomOf(conn Connection) (int64, bool)
	Broadcast(projectID int64, data []byte, exclude Connection) int
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	Handle(ctx context.Context, data []byte)
	Close()
}

type DiagramStore interface {
	SaveDiagram(ctx context.Context, projectID int64, data string) error
	LoadDiagram(ctx context.Context, projectID int64) (string, error)
	AppendAudit(ctx context.Context, memberID int64, action string) error
}

type AccessStore interface {
	Membership(ctx context.Context, userID, projectID int64) (Membership, error)
}

type UserStore interface {
	User(ctx context.Context, userID int64) (User, error)
}
