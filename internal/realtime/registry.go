package realtime

import (
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
)

// Sender is the outbound half of a live connection. Send must not block:
// it returns false when the connection is gone or its queue is saturated,
// and the payload is dropped (best-effort delivery).
type Sender interface {
	Send(payload []byte) bool
}

// Member pairs a connection id with its sender for one fan-out pass.
type Member struct {
	ConnID string
	Sender Sender
}

const registryShards = 32

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

type connection struct {
	mu       sync.Mutex
	identity string
	rooms    map[string]struct{}
	sender   Sender
}

// Registry is the single source of truth for who is connected and in which
// rooms. Room membership is sharded by room key so unrelated rooms never
// contend on one lock; the connection table has its own lock.
type Registry struct {
	connMu sync.RWMutex
	conns  map[string]*connection

	shards [registryShards]*roomShard

	log *zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	r := &Registry{conns: make(map[string]*connection), log: logger}
	for i := range r.shards {
		r.shards[i] = &roomShard{rooms: make(map[string]map[string]struct{})}
	}
	return r
}

func (r *Registry) shardFor(roomKey string) *roomShard {
	h := fnv.New32a()
	h.Write([]byte(roomKey))
	return r.shards[h.Sum32()%registryShards]
}

// Register adds a connection with an empty room set and no identity.
// Re-registering an existing id replaces it and releases its old rooms.
func (r *Registry) Register(connID string, sender Sender) {
	r.connMu.Lock()
	prev := r.conns[connID]
	r.conns[connID] = &connection{rooms: make(map[string]struct{}), sender: sender}
	r.connMu.Unlock()

	if prev != nil {
		r.releaseRooms(connID, prev)
	}
}

// Authenticate attaches an identity to a registered connection. Racing a
// disconnect is expected: a missing connection is logged and absorbed.
func (r *Registry) Authenticate(connID, identity string) {
	c := r.lookup(connID)
	if c == nil {
		r.log.Debug().Str("conn_id", connID).Msg("authenticate on stale connection")
		return
	}
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// Identity reports the authenticated user id, if any.
func (r *Registry) Identity(connID string) (string, bool) {
	c := r.lookup(connID)
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.identity != ""
}

// Join adds the connection to a room. No-op if already joined or if the
// connection has been torn down.
func (r *Registry) Join(connID, roomKey string) {
	c := r.lookup(connID)
	if c == nil {
		r.log.Debug().Str("conn_id", connID).Str("room", roomKey).Msg("join on stale connection")
		return
	}

	c.mu.Lock()
	c.rooms[roomKey] = struct{}{}
	c.mu.Unlock()

	s := r.shardFor(roomKey)
	s.mu.Lock()
	members, ok := s.rooms[roomKey]
	if !ok {
		members = make(map[string]struct{})
		s.rooms[roomKey] = members
	}
	members[connID] = struct{}{}
	s.mu.Unlock()

	// An unregister may have raced in between the lookup above and the shard
	// insert; recheck so the membership never outlives the connection.
	if r.lookup(connID) == nil {
		r.dropMember(connID, roomKey)
	}
}

// Leave removes the connection from a room. Total over missing connections
// and rooms.
func (r *Registry) Leave(connID, roomKey string) {
	if c := r.lookup(connID); c != nil {
		c.mu.Lock()
		delete(c.rooms, roomKey)
		c.mu.Unlock()
	}
	r.dropMember(connID, roomKey)
}

// Unregister removes the connection entirely, releasing every room it
// joined. Idempotent: a second call for the same id is a no-op.
func (r *Registry) Unregister(connID string) {
	r.connMu.Lock()
	c := r.conns[connID]
	delete(r.conns, connID)
	r.connMu.Unlock()

	if c == nil {
		return
	}
	r.releaseRooms(connID, c)
}

// MembersOf returns a snapshot of current member connection ids. The
// returned slice is a copy; concurrent joins and disconnects cannot
// invalidate an iteration over it.
func (r *Registry) MembersOf(roomKey string) []string {
	s := r.shardFor(roomKey)
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.rooms[roomKey]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Snapshot returns the current members with their senders, for fan-out.
func (r *Registry) Snapshot(roomKey string) []Member {
	ids := r.MembersOf(roomKey)
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		if c := r.lookup(id); c != nil {
			out = append(out, Member{ConnID: id, Sender: c.sender})
		}
	}
	return out
}

func (r *Registry) lookup(connID string) *connection {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.conns[connID]
}

func (r *Registry) releaseRooms(connID string, c *connection) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	for _, k := range keys {
		r.dropMember(connID, k)
	}
}

func (r *Registry) dropMember(connID, roomKey string) {
	s := r.shardFor(roomKey)
	s.mu.Lock()
	if members, ok := s.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(s.rooms, roomKey)
		}
	}
	s.mu.Unlock()
}
