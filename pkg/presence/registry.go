package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

// Member is a live connection that can receive events. Deliver must not
// block; it reports false when the member's send buffer is unavailable.
type Member interface {
	ID() string
	Deliver(ev model.Event) bool
}

// Session is the per-connection identity: who is on the other end and in
// what role. It lives exactly as long as the connection.
type Session struct {
	Role           model.SenderType
	DisplayName    string
	ConversationID string // customers only
	AgentID        string
	CustomerID     string
}

type entry struct {
	member  Member
	session Session
	rooms   map[string]bool
}

// Registry is the single ownership point for connection and room state. Both
// directions of the index live behind one mutex; callers get snapshot copies
// and never see the maps themselves.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*entry
	rooms   map[string]map[string]Member
	mirror  *redis.Client
	log     *logrus.Logger
}

func NewRegistry(log *logrus.Logger) *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		rooms: make(map[string]map[string]Member),
		log:   log,
	}
}

// WithMirror publishes room membership to Redis sets so other processes can
// read an online snapshot. Mirror failures are logged and otherwise ignored.
func (r *Registry) WithMirror(rdb *redis.Client) *Registry {
	r.mirror = rdb
	return r
}

// Register records a new connection. Joining rooms is separate because an
// agent connection exists before it has joined anything.
func (r *Registry) Register(m Member, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[m.ID()] = &entry{member: m, session: s, rooms: make(map[string]bool)}
}

// Join adds the connection to a room, creating the room lazily.
func (r *Registry) Join(m Member, room string) {
	r.mu.Lock()
	e, ok := r.conns[m.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.rooms[room] = true
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Member)
	}
	r.rooms[room][m.ID()] = m
	key := mirrorKey(e.session, m.ID())
	r.mu.Unlock()

	r.mirrorAdd(room, key)
}

// Leave removes the connection everywhere and returns its session along with
// the rooms it was in. Empty rooms are garbage-collected immediately;
// in-flight publishes operate on snapshots taken earlier, so nothing still
// references the room.
func (r *Registry) Leave(m Member) (Session, []string) {
	r.mu.Lock()
	e, ok := r.conns[m.ID()]
	if !ok {
		r.mu.Unlock()
		return Session{}, nil
	}
	delete(r.conns, m.ID())

	left := make([]string, 0, len(e.rooms))
	for room := range e.rooms {
		left = append(left, room)
		if members, ok := r.rooms[room]; ok {
			delete(members, m.ID())
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	s := e.session
	r.mu.Unlock()

	for _, room := range left {
		r.mirrorRem(room, mirrorKey(s, m.ID()))
	}
	return s, left
}

// RoomMembers returns a snapshot of the room at call time. The caller may
// iterate and send without holding any registry lock.
func (r *Registry) RoomMembers(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}

// Get returns the session registered for a connection id.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// InRoom reports whether the connection has joined the room.
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	return ok && e.rooms[room]
}

// OpenConversations lists the sessions of currently connected customers, one
// per conversation room. Conversation state itself lives in the store; this
// is only who is live right now.
func (r *Registry) OpenConversations() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Session
	for _, e := range r.conns {
		if e.session.Role != model.SenderCustomer {
			continue
		}
		if seen[e.session.ConversationID] {
			continue
		}
		seen[e.session.ConversationID] = true
		out = append(out, e.session)
	}
	return out
}

// mirrorKey is the set member for a session: the stable user identity, never
// the display name, so two users sharing a name cannot remove each other.
func mirrorKey(s Session, connID string) string {
	switch {
	case s.AgentID != "":
		return s.AgentID
	case s.CustomerID != "":
		return s.CustomerID
	}
	return connID
}

func (r *Registry) mirrorAdd(room, key string) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.mirror.SAdd(ctx, "room:"+room+":online", key).Err(); err != nil {
		r.log.WithError(err).WithField("room", room).Warn("presence mirror add failed")
	}
}

func (r *Registry) mirrorRem(room, key string) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.mirror.SRem(ctx, "room:"+room+":online", key).Err(); err != nil {
		r.log.WithError(err).WithField("room", room).Warn("presence mirror remove failed")
	}
}
