package relay

import (
	"time"

	"github.com/WorldSprites/websocket-server/domain"
)

// RoomNone marks a session that has not joined any room.
const RoomNone int64 = -1

// Session is the relay-side state of one live connection. Identity doubles
// as the registry key; it changes exactly once, when authentication
// promotes the bootstrap uuid. The unexported fields belong to the
// rate-limit and liveness machinery and are only touched under the relay
// lock.
type Session struct {
	Identity string
	Username string
	Room     int64
	Link     domain.Transport

	authenticated bool
	packets       int
	rateLimited   bool
	alive         bool
}

// Room holds an ordered member list; insertion order is join order and is
// preserved in userlist snapshots. Rooms are created lazily and retained
// until process exit, even when empty.
type Room struct {
	ID        int64
	CreatedAt time.Time
	members   []string
}

// Members returns the member identities in join order.
func (r *Room) Members() []string {
	return append([]string(nil), r.members...)
}

// registry owns the two process-wide maps. Its methods do not lock; the
// Relay serializes every mutation, preserving the run-to-completion
// atomicity of each command.
type registry struct {
	sessions map[string]*Session
	rooms    map[int64]*Room
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[int64]*Room),
	}
}

func (r *registry) add(s *Session) {
	r.sessions[s.Identity] = s
}

func (r *registry) remove(identity string) {
	delete(r.sessions, identity)
}

func (r *registry) lookup(identity string) (*Session, bool) {
	s, ok := r.sessions[identity]
	return s, ok
}

func (r *registry) usernameTaken(name string) bool {
	for _, s := range r.sessions {
		if s.Username == name {
			return true
		}
	}
	return false
}

func (r *registry) roomExists(id int64) bool {
	_, ok := r.rooms[id]
	return ok
}

func (r *registry) room(id int64) *Room {
	return r.rooms[id]
}

func (r *registry) ensureRoom(id int64, now time.Time) (*Room, bool) {
	if room, ok := r.rooms[id]; ok {
		return room, false
	}
	room := &Room{ID: id, CreatedAt: now}
	r.rooms[id] = room
	return room, true
}

// joinRoom moves s into the room with the given id, creating it if needed.
// It returns the previous room (nil if none), the destination, and whether
// the destination was created by this call.
func (r *registry) joinRoom(s *Session, id int64, now time.Time) (old, dest *Room, created bool) {
	old = r.leaveRoom(s)
	dest, created = r.ensureRoom(id, now)
	dest.members = append(dest.members, s.Identity)
	s.Room = id
	return old, dest, created
}

// leaveRoom removes s from its current room's member list and returns that
// room, or nil if s was not in one.
func (r *registry) leaveRoom(s *Session) *Room {
	if s.Room == RoomNone {
		return nil
	}
	room := r.rooms[s.Room]
	s.Room = RoomNone
	if room == nil {
		return nil
	}
	for i, id := range room.members {
		if id == s.Identity {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}
	return room
}

// rekey moves a session to a new identity without disturbing the rest of
// its state. Room membership lists store identities, so the entry is
// rewritten in place to keep join order.
func (r *registry) rekey(s *Session, identity string) {
	delete(r.sessions, s.Identity)
	if s.Room != RoomNone {
		if room := r.rooms[s.Room]; room != nil {
			for i, id := range room.members {
				if id == s.Identity {
					room.members[i] = identity
					break
				}
			}
		}
	}
	s.Identity = identity
	r.sessions[identity] = s
}

func (r *registry) userlist(room *Room) []domain.UserEntry {
	entries := make([]domain.UserEntry, 0, len(room.members))
	for _, id := range room.members {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		entries = append(entries, domain.UserEntry{Username: s.Username, UUID: s.Identity})
	}
	return entries
}

func (r *registry) counts() (rooms, sessions int) {
	return len(r.rooms), len(r.sessions)
}
