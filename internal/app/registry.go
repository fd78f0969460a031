package app

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyRoomID   = errors.New("room id is empty")
	ErrAlreadyJoined = errors.New("connection already joined")
)

type memberEntry struct {
	meta domain.Member
	conn core.SignalConnection
}

// room is a threadsafe in-memory member set.
// It never closes adapter-owned resources.
type room struct {
	id       domain.RoomID
	mu       sync.RWMutex
	byConn   map[domain.ConnID]*memberEntry
	byClient map[domain.ClientID]domain.ConnID
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:       id,
		byConn:   make(map[domain.ConnID]*memberEntry),
		byClient: make(map[domain.ClientID]domain.ConnID),
	}
}

func (rm *room) count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.byConn)
}

// Departure describes a completed leave.
type Departure struct {
	RoomID    domain.RoomID
	Member    domain.Member
	Remaining int
}

// Registry maps rooms to member connections and connections to their room.
//
// The outer lock guards room existence and the connection index; each room
// has its own lock for membership reads. Join and Leave hold the outer lock
// for the whole mutation so both maps always agree, and a room is dropped
// in the same critical section that removes its last member. Joins and
// leaves in different rooms therefore serialize on the outer lock; the hold
// is a few map writes and never spans a send. Broadcast and FindByClientID
// take the outer lock only to look the room up, so delivery in one room
// never waits on another.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
	conns map[domain.ConnID]*room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*room),
		conns: make(map[domain.ConnID]*room),
	}
}

// Join adds conn to roomID, creating the room if needed, and returns the
// members that were present before it.
func (r *Registry) Join(
	connID domain.ConnID,
	roomID domain.RoomID,
	meta domain.Member,
	conn core.SignalConnection,
) ([]domain.Member, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return nil, ErrAlreadyJoined
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID)
		r.rooms[roomID] = rm
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room created")
	}

	rm.mu.Lock()
	existing := make([]domain.Member, 0, len(rm.byConn))
	for _, e := range rm.byConn {
		existing = append(existing, e.meta)
	}
	rm.byConn[connID] = &memberEntry{meta: meta, conn: conn}
	rm.byClient[meta.ClientID] = connID
	count := len(rm.byConn)
	rm.mu.Unlock()

	r.conns[connID] = rm

	log.Info().
		Str("module", "app.registry").
		Str("conn", string(connID)).
		Str("room", string(roomID)).
		Str("client_id", string(meta.ClientID)).
		Int("members", count).
		Msg("member joined")
	return existing, nil
}

// Leave removes connID from its room. ok is false when the connection was
// never joined or already left.
func (r *Registry) Leave(connID domain.ConnID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.conns[connID]
	if !ok {
		return Departure{}, false
	}
	delete(r.conns, connID)

	rm.mu.Lock()
	entry := rm.byConn[connID]
	delete(rm.byConn, connID)
	if entry != nil && rm.byClient[entry.meta.ClientID] == connID {
		delete(rm.byClient, entry.meta.ClientID)
	}
	remaining := len(rm.byConn)
	rm.mu.Unlock()

	if remaining == 0 {
		delete(r.rooms, rm.id)
		log.Info().Str("module", "app.registry").Str("room", string(rm.id)).Msg("room removed")
	}

	d := Departure{RoomID: rm.id, Remaining: remaining}
	if entry != nil {
		d.Member = entry.meta
	}
	log.Info().
		Str("module", "app.registry").
		Str("conn", string(connID)).
		Str("room", string(rm.id)).
		Int("members", remaining).
		Msg("member left")
	return d, true
}

func (r *Registry) room(roomID domain.RoomID) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// FindByClientID returns the member most recently joined with clientID.
func (r *Registry) FindByClientID(roomID domain.RoomID, clientID domain.ClientID) (core.Recipient, bool) {
	rm, ok := r.room(roomID)
	if !ok {
		return core.Recipient{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	connID, ok := rm.byClient[clientID]
	if !ok {
		return core.Recipient{}, false
	}
	e, ok := rm.byConn[connID]
	if !ok {
		return core.Recipient{}, false
	}
	return core.Recipient{ConnID: connID, Member: e.meta, Conn: e.conn}, true
}

// Broadcast sends data to every member of roomID except exclude.
// Members are snapshotted under the room lock and sent to outside of it;
// failed recipients are reported in Dropped, never as an error.
func (r *Registry) Broadcast(roomID domain.RoomID, data core.Frame, exclude domain.ConnID) core.PublishResult {
	rm, ok := r.room(roomID)
	if !ok {
		return core.PublishResult{}
	}

	rm.mu.RLock()
	targets := make([]core.Recipient, 0, len(rm.byConn))
	for connID, e := range rm.byConn {
		if connID == exclude {
			continue
		}
		targets = append(targets, core.Recipient{ConnID: connID, Member: e.meta, Conn: e.conn})
	}
	rm.mu.RUnlock()

	res := core.PublishResult{}
	for _, t := range targets {
		if err := t.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, t)
			continue
		}
		res.SendTo++
	}
	log.Debug().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("from", string(exclude)).
		Int("sent_to", res.SendTo).
		Int("dropped", len(res.Dropped)).
		Msg("broadcast result")
	return res
}

// Rooms lists every live room sorted by id.
func (r *Registry) Rooms() []domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, domain.RoomInfo{RoomID: id, ConnectedUsers: rm.count(), IsActive: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (r *Registry) Room(roomID domain.RoomID) (domain.RoomInfo, bool) {
	rm, ok := r.room(roomID)
	if !ok {
		return domain.RoomInfo{}, false
	}
	n := rm.count()
	if n == 0 {
		return domain.RoomInfo{}, false
	}
	return domain.RoomInfo{RoomID: roomID, ConnectedUsers: n, IsActive: true}, true
}

// Stats returns the number of rooms and joined connections.
func (r *Registry) Stats() (rooms, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.conns)
}
