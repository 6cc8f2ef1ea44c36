package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rojas22bt/diagamaIA-sub001/domain"
	"github.com/Rojas22bt/diagamaIA-sub001/hub"
)

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) events() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Envelope
	for _, raw := range m.sent {
		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockConn) eventTypes() []string {
	var types []string
	for _, env := range m.events() {
		types = append(types, env.Type)
	}
	return types
}

type tokenVerifier map[string]domain.Identity

func (v tokenVerifier) Verify(credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, domain.ErrMissingCredential
	}
	id, ok := v[credential]
	if !ok {
		return domain.Identity{}, domain.ErrInvalidCredential
	}
	return id, nil
}

type mockAccess struct {
	mu      sync.Mutex
	allowed map[[2]int64]bool
	err     error
}

func (m *mockAccess) Authorize(_ context.Context, userID, projectID int64) (domain.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Membership{}, m.err
	}
	if !m.allowed[[2]int64{userID, projectID}] {
		return domain.Membership{}, domain.ErrNoAccess
	}
	return domain.Membership{ID: userID*1000 + projectID, UserID: userID, ProjectID: projectID, Role: "editor"}, nil
}

type mockUsers struct {
	calls int
	users map[int64]domain.User
}

func (m *mockUsers) User(_ context.Context, userID int64) (domain.User, error) {
	m.calls++
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type fixture struct {
	hub     *hub.Hub
	access  *mockAccess
	users   *mockUsers
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub: hub.New(),
		access: &mockAccess{allowed: map[[2]int64]bool{
			{1, 100}: true, {2, 100}: true, {1, 200}: true, {2, 7}: true, {3, 7}: true,
		}},
		users: &mockUsers{users: map[int64]domain.User{
			1: {ID: 1, Email: "ana@example.com", Name: "Ana"},
			2: {ID: 2, Email: "bo@example.com", Name: "Bo"},
		}},
	}
	verifier := tokenVerifier{
		"tok-1": {UserID: 1, Email: "ana@example.com"},
		"tok-2": {UserID: 2, Email: "bo@example.com"},
		"tok-3": {UserID: 3, Email: "cy@example.com"},
	}
	m, err := NewManager(verifier, f.hub, f.access, f.users, Options{})
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) open(t *testing.T, token string) (*Session, *mockConn) {
	t.Helper()
	conn := &mockConn{id: "conn-" + token}
	s, err := f.manager.Open(context.Background(), conn, token)
	require.NoError(t, err)
	return s, conn
}

func TestManager_OpenRejects(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Open(context.Background(), &mockConn{id: "x"}, "")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = f.manager.Open(context.Background(), &mockConn{id: "y"}, "forged")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	rooms, clients := f.hub.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, clients)
}

func TestManager_OpenLoadsProfile(t *testing.T) {
	f := newFixture(t)

	s, _ := f.open(t, "tok-1")
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, domain.Identity{UserID: 1, Email: "ana@example.com"}, s.Identity())
	assert.Equal(t, "Ana", s.User().Name)

	f.open(t, "tok-1")
	assert.Equal(t, 1, f.users.calls, "profile served from cache")

	unknown, _ := f.open(t, "tok-3")
	assert.Equal(t, "cy@example.com", unknown.User().Name)
}

func TestManager_JoinNotifiesPeers(t *testing.T) {
	f := newFixture(t)
	a, connA := f.open(t, "tok-1")
	b, connB := f.open(t, "tok-2")

	require.NoError(t, f.manager.Join(context.Background(), a, 100))
	require.NoError(t, f.manager.Join(context.Background(), b, 100))

	assert.Equal(t, []string{domain.EventJoinedRoom, domain.EventUserJoined}, connA.eventTypes())
	assert.Equal(t, []string{domain.EventJoinedRoom}, connB.eventTypes())

	var joined domain.UserPresence
	require.NoError(t, json.Unmarshal(connA.events()[1].Data, &joined))
	assert.Equal(t, domain.UserPresence{
		ProjectID: 100, UserID: 2, Email: "bo@example.com", Name: "Bo", Message: "Bo joined the project",
	}, joined)

	var ack domain.JoinedRoom
	require.NoError(t, json.Unmarshal(connB.events()[0].Data, &ack))
	assert.Equal(t, int64(100), ack.ProjectID)
}

func TestManager_JoinTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, _ := f.open(t, "tok-1")
	b, connB := f.open(t, "tok-2")
	require.NoError(t, f.manager.Join(context.Background(), b, 100))

	require.NoError(t, f.manager.Join(context.Background(), a, 100))
	require.NoError(t, f.manager.Join(context.Background(), a, 100))

	assert.Len(t, f.hub.Members(100), 2)
	assert.Equal(t, []string{domain.EventJoinedRoom, domain.EventUserJoined}, connB.eventTypes())
}

func TestManager_JoinDenied(t *testing.T) {
	f := newFixture(t)
	c, connC := f.open(t, "tok-3")

	err := f.manager.Join(context.Background(), c, 42)

	assert.ErrorIs(t, err, domain.ErrNoAccess)
	assert.Equal(t, []string{domain.EventError}, connC.eventTypes())
	assert.Empty(t, f.hub.Members(42))
	_, inRoom := f.manager.Room(c)
	assert.False(t, inRoom)
}

func TestManager_JoinAccessFailure(t *testing.T) {
	f := newFixture(t)
	a, connA := f.open(t, "tok-1")
	f.access.err = errors.New("db down")

	err := f.manager.Join(context.Background(), a, 100)

	assert.Error(t, err)
	assert.Equal(t, []string{domain.EventError}, connA.eventTypes())
	assert.Empty(t, f.hub.Members(100))
}

func TestManager_JoinOtherRoomLeavesFirst(t *testing.T) {
	f := newFixture(t)
	a, _ := f.open(t, "tok-1")
	b, connB := f.open(t, "tok-2")
	require.NoError(t, f.manager.Join(context.Background(), b, 100))
	require.NoError(t, f.manager.Join(context.Background(), a, 100))

	require.NoError(t, f.manager.Join(context.Background(), a, 200))

	assert.Equal(t, []string{domain.EventJoinedRoom, domain.EventUserJoined, domain.EventUserLeft}, connB.eventTypes())
	room, ok := f.manager.Room(a)
	require.True(t, ok)
	assert.Equal(t, int64(200), room)
	assert.Equal(t, []string{b.ID()}, f.hub.Members(100))
}

func TestManager_Leave(t *testing.T) {
	f := newFixture(t)
	a, connA := f.open(t, "tok-1")
	b, connB := f.open(t, "tok-2")
	require.NoError(t, f.manager.Join(context.Background(), a, 100))
	require.NoError(t, f.manager.Join(context.Background(), b, 100))

	f.manager.Leave(b, 100)
	f.manager.Leave(b, 100)

	assert.Equal(t, []string{domain.EventJoinedRoom, domain.EventUserJoined, domain.EventUserLeft}, connA.eventTypes())
	assert.Equal(t, []string{domain.EventJoinedRoom}, connB.eventTypes())
	assert.Equal(t, []string{a.ID()}, f.hub.Members(100))
}

func TestManager_CloseNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	a, connA := f.open(t, "tok-2")
	b, _ := f.open(t, "tok-3")
	require.NoError(t, f.manager.Join(context.Background(), a, 7))
	require.NoError(t, f.manager.Join(context.Background(), b, 7))

	f.manager.Close(b)
	f.manager.Close(b)

	left := 0
	for _, typ := range connA.eventTypes() {
		if typ == domain.EventUserLeft {
			left++
		}
	}
	assert.Equal(t, 1, left)
	assert.Equal(t, StateTerminated, b.State())
	assert.Equal(t, []string{a.ID()}, f.hub.Members(7))
}

func TestSession_AllowPresence(t *testing.T) {
	f := newFixture(t)
	m, err := NewManager(tokenVerifier{"t": {UserID: 1}}, f.hub, f.access, nil, Options{PresenceRate: 1, PresenceBurst: 2})
	require.NoError(t, err)

	s, err := m.Open(context.Background(), &mockConn{id: "c"}, "t")
	require.NoError(t, err)

	assert.True(t, s.AllowPresence())
	assert.True(t, s.AllowPresence())
	assert.False(t, s.AllowPresence())
}
