// Package hub tracks which connections are subscribed to which project room
// and fans events out to room members.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
)

type room struct {
	clients map[string]domain.Connection
	order   []string
	mu      sync.RWMutex
}

func (r *room) add(conn domain.Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn.ID()] = conn
	r.order = append(r.order, conn.ID())
	return len(r.clients)
}

func (r *room) remove(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	for i, cid := range r.order {
		if cid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return len(r.clients)
}

// Hub is the room registry. A connection is in at most one room, and the
// connection->room index always mirrors room membership.
type Hub struct {
	rooms    map[int64]*room
	memberOf map[string]int64
	mu       sync.RWMutex
}

func New() *Hub {
	return &Hub{
		rooms:    make(map[int64]*room),
		memberOf: make(map[string]int64),
	}
}

// Join subscribes conn to projectID. Joining the room the connection is
// already in is a no-op; joining a different room leaves the old one first.
func (h *Hub) Join(conn domain.Connection, projectID int64) domain.JoinResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res domain.JoinResult
	if current, ok := h.memberOf[conn.ID()]; ok {
		if current == projectID {
			return res
		}
		h.removeLocked(conn.ID(), current)
		res.Left, res.Moved = current, true
	}

	r, exists := h.rooms[projectID]
	if !exists {
		r = &room{clients: make(map[string]domain.Connection)}
		h.rooms[projectID] = r
	}
	count := r.add(conn)
	h.memberOf[conn.ID()] = projectID
	res.Joined = true

	slog.Info("client joined room", "projectId", projectID, "clientId", conn.ID(), "clients", count)
	return res
}

// Leave removes conn from projectID. Leaving a room the connection is not in
// is a no-op and reports false.
func (h *Hub) Leave(conn domain.Connection, projectID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.memberOf[conn.ID()]; !ok || current != projectID {
		return false
	}
	h.removeLocked(conn.ID(), projectID)
	return true
}

// LeaveAll removes conn from whatever room it is in.
func (h *Hub) LeaveAll(conn domain.Connection) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.memberOf[conn.ID()]
	if !ok {
		return 0, false
	}
	h.removeLocked(conn.ID(), current)
	return current, true
}

func (h *Hub) removeLocked(id string, projectID int64) {
	delete(h.memberOf, id)
	r, exists := h.rooms[projectID]
	if !exists {
		return
	}
	count := r.remove(id)
	slog.Info("client left room", "projectId", projectID, "clientId", id, "clients", count)

	if count == 0 {
		delete(h.rooms, projectID)
		slog.Info("room removed", "projectId", projectID)
	}
}

func (h *Hub) RoomOf(conn domain.Connection) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	projectID, ok := h.memberOf[conn.ID()]
	return projectID, ok
}

// Members returns the connection ids of a room in join order.
func (h *Hub) Members(projectID int64) []string {
	h.mu.RLock()
	r, exists := h.rooms[projectID]
	h.mu.RUnlock()
	if !exists {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Broadcast sends data to every member of projectID except exclude, in join
// order, and returns how many members it was handed to. Members whose send
// buffer is full are closed; their disconnect path removes them. Members
// already closed are skipped until that path runs.
func (h *Hub) Broadcast(projectID int64, data []byte, exclude domain.Connection) int {
	h.mu.RLock()
	r, exists := h.rooms[projectID]
	h.mu.RUnlock()

	if !exists {
		return 0
	}

	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		conn := r.clients[id]
		if err := conn.Send(data); err != nil {
			if errors.Is(err, domain.ErrConnClosed) {
				continue
			}
			slog.Warn("dropping slow client", "projectId", projectID, "clientId", id, "error", err)
			go func(c domain.Connection) {
				c.Close()
			}(conn)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.memberOf)
}
