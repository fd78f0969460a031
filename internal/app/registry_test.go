package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

type mockConn struct {
	mu       sync.Mutex
	received []core.Frame
	sendErr  error
	closed   bool
}

func (m *mockConn) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, f)
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockConn) getReceived() []core.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Frame(nil), m.received...)
}

func join(t *testing.T, r *Registry, conn, roomID, clientID string) *mockConn {
	t.Helper()
	c := &mockConn{}
	_, err := r.Join(domain.ConnID(conn), domain.RoomID(roomID), domain.NewMember(domain.ClientID(clientID), "user-"+clientID), c)
	require.NoError(t, err)
	return c
}

func TestRegistry_JoinReturnsExistingMembers(t *testing.T) {
	r := NewRegistry()

	existing, err := r.Join("c1", "r1", domain.NewMember("a1", "alice"), &mockConn{})
	require.NoError(t, err)
	assert.Empty(t, existing)

	existing, err = r.Join("c2", "r1", domain.NewMember("b1", "bob"), &mockConn{})
	require.NoError(t, err)
	assert.Equal(t, []domain.Member{{ClientID: "a1", Username: "alice"}}, existing)

	existing, err = r.Join("c3", "r2", domain.NewMember("x1", "xena"), &mockConn{})
	require.NoError(t, err)
	assert.Empty(t, existing, "rooms are isolated")
}

func TestRegistry_JoinRejectsBadInput(t *testing.T) {
	r := NewRegistry()

	_, err := r.Join("c1", "", domain.NewMember("a1", "alice"), &mockConn{})
	assert.ErrorIs(t, err, ErrEmptyRoomID)

	join(t, r, "c1", "r1", "a1")
	_, err = r.Join("c1", "r2", domain.NewMember("a1", "alice"), &mockConn{})
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	rooms, conns := r.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, conns)
}

func TestRegistry_LeaveLifecycle(t *testing.T) {
	r := NewRegistry()
	join(t, r, "c1", "r1", "a1")
	join(t, r, "c2", "r1", "b1")

	d, ok := r.Leave("c2")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("r1"), d.RoomID)
	assert.Equal(t, domain.ClientID("b1"), d.Member.ClientID)
	assert.Equal(t, 1, d.Remaining)

	info, ok := r.Room("r1")
	require.True(t, ok)
	assert.Equal(t, 1, info.ConnectedUsers)

	d, ok = r.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, 0, d.Remaining)

	_, ok = r.Room("r1")
	assert.False(t, ok)
	assert.Empty(t, r.Rooms())

	_, ok = r.Leave("c1")
	assert.False(t, ok, "double leave is a tolerated no-op")
	_, ok = r.Leave("never")
	assert.False(t, ok)
}

func TestRegistry_MemberCountMatchesJoinsMinusLeaves(t *testing.T) {
	tests := []struct {
		name   string
		joins  int
		leaves int
	}{
		{name: "all leave", joins: 3, leaves: 3},
		{name: "some leave", joins: 5, leaves: 2},
		{name: "none leave", joins: 4, leaves: 0},
		{name: "single", joins: 1, leaves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i := 0; i < tt.joins; i++ {
				join(t, r, fmt.Sprintf("c%d", i), "room", fmt.Sprintf("id%d", i))
			}
			for i := 0; i < tt.leaves; i++ {
				_, ok := r.Leave(domain.ConnID(fmt.Sprintf("c%d", i)))
				require.True(t, ok)
			}

			want := tt.joins - tt.leaves
			info, ok := r.Room("room")
			if want == 0 {
				assert.False(t, ok)
				assert.Empty(t, r.Rooms())
				return
			}
			require.True(t, ok)
			assert.Equal(t, want, info.ConnectedUsers)
		})
	}
}

func TestRegistry_FindByClientID(t *testing.T) {
	r := NewRegistry()
	a := join(t, r, "c1", "r1", "a1")
	join(t, r, "c2", "r2", "a1")

	got, ok := r.FindByClientID("r1", "a1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("c1"), got.ConnID)
	assert.Same(t, a, got.Conn)

	_, ok = r.FindByClientID("r1", "zz")
	assert.False(t, ok)
	_, ok = r.FindByClientID("nope", "a1")
	assert.False(t, ok)

	r.Leave("c1")
	_, ok = r.FindByClientID("r1", "a1")
	assert.False(t, ok)

	got, ok = r.FindByClientID("r2", "a1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("c2"), got.ConnID)
}

func TestRegistry_FindByClientIDMostRecentJoin(t *testing.T) {
	r := NewRegistry()
	join(t, r, "old", "r1", "dup")
	join(t, r, "new", "r1", "dup")

	got, ok := r.FindByClientID("r1", "dup")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("new"), got.ConnID)

	// The older holder leaving must not unmap the newer one.
	r.Leave("old")
	got, ok = r.FindByClientID("r1", "dup")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("new"), got.ConnID)

	r.Leave("new")
	_, ok = r.FindByClientID("r1", "dup")
	assert.False(t, ok)
}

func TestRegistry_Broadcast(t *testing.T) {
	tests := []struct {
		name        string
		members     int
		failing     int
		wantSent    int
		wantDropped int
	}{
		{name: "lone sender", members: 1, wantSent: 0},
		{name: "three members", members: 3, wantSent: 2},
		{name: "one failing recipient", members: 4, failing: 1, wantSent: 2, wantDropped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			conns := make([]*mockConn, tt.members)
			for i := range conns {
				conns[i] = join(t, r, fmt.Sprintf("c%d", i), "r1", fmt.Sprintf("id%d", i))
			}
			for i := 0; i < tt.failing; i++ {
				conns[i+1].sendErr = errors.New("backpressure")
			}

			res := r.Broadcast("r1", core.Frame("hello"), "c0")

			assert.Equal(t, tt.wantSent, res.SendTo)
			assert.Len(t, res.Dropped, tt.wantDropped)
			assert.Empty(t, conns[0].getReceived(), "sender is excluded")
			for i := 1 + tt.failing; i < tt.members; i++ {
				assert.Len(t, conns[i].getReceived(), 1)
			}
			if tt.failing > 0 {
				assert.Equal(t, domain.ConnID("c1"), res.Dropped[0].ConnID)
			}
		})
	}
}

func TestRegistry_BroadcastUnknownRoom(t *testing.T) {
	r := NewRegistry()
	res := r.Broadcast("ghost", core.Frame("x"), "")
	assert.Zero(t, res.SendTo)
	assert.Empty(t, res.Dropped)
}

func TestRegistry_RoomsSnapshot(t *testing.T) {
	r := NewRegistry()
	join(t, r, "c1", "b", "1")
	join(t, r, "c2", "a", "2")
	join(t, r, "c3", "a", "3")

	assert.Equal(t, []domain.RoomInfo{
		{RoomID: "a", ConnectedUsers: 2, IsActive: true},
		{RoomID: "b", ConnectedUsers: 1, IsActive: true},
	}, r.Rooms())
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			roomID := domain.RoomID(fmt.Sprintf("room-%d", w%3))
			for i := 0; i < rounds; i++ {
				connID := domain.ConnID(fmt.Sprintf("w%d-%d", w, i))
				_, err := r.Join(connID, roomID, domain.NewMember(domain.ClientID(connID), "u"), &mockConn{})
				if err != nil {
					t.Error(err)
					return
				}
				r.Broadcast(roomID, core.Frame("x"), connID)
				r.FindByClientID(roomID, domain.ClientID(connID))
				r.Rooms()
				if _, ok := r.Leave(connID); !ok {
					t.Errorf("leave %s: not found", connID)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	rooms, conns := r.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}
