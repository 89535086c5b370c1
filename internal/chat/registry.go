package chat

import (
	"sync"

	"samvad-chat/pkg/logger"

	"github.com/google/uuid"
)

const roomShards = 64

// Subscriber is the transport side of a live connection.
// Deliver must not block: it either queues the payload or returns an error.
type Subscriber interface {
	Deliver(payload []byte) error
}

// Handle identifies a registered connection.
type Handle string

type connection struct {
	sub Subscriber

	mu     sync.Mutex
	groups map[int64]struct{}
	closed bool
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[int64]map[Handle]Subscriber
}

// Registry tracks live connections and the group rooms they joined, and fans
// payloads out to a room. Rooms are spread over shards keyed by group id, so
// joins and broadcasts on different groups rarely share a lock. A room exists
// only while it has at least one subscriber.
type Registry struct {
	mu     sync.RWMutex
	conns  map[Handle]*connection
	shards [roomShards]roomShard
}

func NewRegistry() *Registry {
	r := &Registry{conns: make(map[Handle]*connection)}
	for i := range r.shards {
		r.shards[i].rooms = make(map[int64]map[Handle]Subscriber)
	}
	return r
}

func (r *Registry) shard(groupID int64) *roomShard {
	return &r.shards[uint64(groupID)%roomShards]
}

func (r *Registry) lookup(h Handle) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[h]
}

// Register starts tracking sub and returns its handle.
func (r *Registry) Register(sub Subscriber) Handle {
	h := Handle(uuid.NewString())

	r.mu.Lock()
	r.conns[h] = &connection{sub: sub, groups: make(map[int64]struct{})}
	total := len(r.conns)
	r.mu.Unlock()

	logger.Debug("Connection %s registered. Total connections: %d", h, total)
	return h
}

// Join subscribes h to a group's room. Joining twice is a no-op, and an
// unknown or unregistered handle is ignored.
func (r *Registry) Join(h Handle, groupID int64) {
	c := r.lookup(h)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, ok := c.groups[groupID]; ok {
		return
	}
	c.groups[groupID] = struct{}{}

	s := r.shard(groupID)
	s.mu.Lock()
	room := s.rooms[groupID]
	if room == nil {
		room = make(map[Handle]Subscriber)
		s.rooms[groupID] = room
	}
	room[h] = c.sub
	s.mu.Unlock()

	logger.Debug("Connection %s joined group %d", h, groupID)
}

// Leave drops a single subscription. Unknown handles and groups are ignored.
func (r *Registry) Leave(h Handle, groupID int64) {
	c := r.lookup(h)
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.groups[groupID]; !ok {
		return
	}
	delete(c.groups, groupID)
	r.removeFromRoom(h, groupID)

	logger.Debug("Connection %s left group %d", h, groupID)
}

// Unregister removes h from every room it joined. Safe to call more than once.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	c, ok := r.conns[h]
	if ok {
		delete(r.conns, h)
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return
	}

	c.mu.Lock()
	c.closed = true
	groups := c.groups
	c.groups = make(map[int64]struct{})
	c.mu.Unlock()

	for groupID := range groups {
		r.removeFromRoom(h, groupID)
	}

	logger.Debug("Connection %s unregistered. Total connections: %d", h, total)
}

func (r *Registry) removeFromRoom(h Handle, groupID int64) {
	s := r.shard(groupID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[groupID]
	if !ok {
		return
	}
	delete(room, h)
	if len(room) == 0 {
		delete(s.rooms, groupID)
	}
}

type target struct {
	handle Handle
	sub    Subscriber
}

// Broadcast delivers payload once to every connection subscribed to groupID
// at the time of the call and returns the number of successful deliveries.
// A connection whose delivery fails is unregistered; other recipients are
// unaffected.
func (r *Registry) Broadcast(groupID int64, payload []byte) int {
	targets := r.snapshot(groupID)

	delivered := 0
	var failed []Handle
	for _, t := range targets {
		if err := t.sub.Deliver(payload); err != nil {
			logger.Debug("Delivery to %s in group %d failed: %v", t.handle, groupID, err)
			failed = append(failed, t.handle)
			continue
		}
		delivered++
	}

	for _, h := range failed {
		r.Unregister(h)
	}

	return delivered
}

func (r *Registry) snapshot(groupID int64) []target {
	s := r.shard(groupID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[groupID]
	targets := make([]target, 0, len(room))
	for h, sub := range room {
		targets = append(targets, target{handle: h, sub: sub})
	}
	return targets
}

// RoomSize returns the number of connections subscribed to groupID.
func (r *Registry) RoomSize(groupID int64) int {
	s := r.shard(groupID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[groupID])
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		total += len(s.rooms)
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Groups lists the rooms h is subscribed to.
func (r *Registry) Groups(h Handle) []int64 {
	c := r.lookup(h)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make([]int64, 0, len(c.groups))
	for groupID := range c.groups {
		groups = append(groups, groupID)
	}
	return groups
}
