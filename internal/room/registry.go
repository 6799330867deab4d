package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRoomID is returned by Join for empty or whitespace-only room ids.
// It is checked before any registry state is touched.
var ErrInvalidRoomID = errors.New("invalid room id")

// Channel is the send half of a peer's transport connection. The registry
// stores the handle so the relay engine can deliver to room members; it never
// performs I/O on it itself.
type Channel interface {
	// Send marshals v and writes it to the peer. A failed Send means the
	// connection is dead; callers are expected to disconnect the member.
	Send(v any) error

	// Close sends a close frame with the given application close code and
	// tears down the underlying connection. Safe to call more than once.
	Close(code int, reason string) error
}

// Member is the registry's record of one connected peer.
type Member struct {
	ID       string
	RoomID   string
	Channel  Channel
	JoinedAt time.Time
}

// Info is the read-only room summary consumed by the HTTP inspection
// endpoint.
type Info struct {
	Exists    bool     `json:"exists"`
	RoomID    string   `json:"room_id,omitempty"`
	UserCount int      `json:"user_count,omitempty"`
	Users     []string `json:"users,omitempty"`
}

// Registry is the single source of truth for room membership.
//
// Rooms are created implicitly on first Join and destroyed inside the same
// Leave that removes their last member, so a room id is present in the
// registry iff it has at least one member. Member lists are ordered by join
// time; the first member of a room is the signaling initiator.
//
// One mutex guards all three maps. Join and Leave mutate them as atomic
// units, and no method performs channel I/O while holding the lock.
type Registry struct {
	mu      sync.Mutex
	members map[string]*Member  // identity -> record
	rooms   map[string][]string // room id -> identities, join order
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]*Member),
		rooms:   make(map[string][]string),
	}
}

// Join mints a fresh connection identity, creates the room if absent and
// appends the new member to it. The returned identity is never reused.
//
// size is the room's member count immediately after the join, observed inside
// the same critical section. size==1 identifies the member as the room's
// initiator; computing it atomically with the join prevents two concurrent
// first-joiners from both missing (or both claiming) the initiator role.
func (r *Registry) Join(roomID string, ch Channel) (id string, size int, err error) {
	if strings.TrimSpace(roomID) == "" {
		return "", 0, ErrInvalidRoomID
	}

	id = uuid.NewString()
	m := &Member{
		ID:       id,
		RoomID:   roomID,
		Channel:  ch,
		JoinedAt: time.Now(),
	}

	r.mu.Lock()
	r.members[id] = m
	r.rooms[roomID] = append(r.rooms[roomID], id)
	size = len(r.rooms[roomID])
	r.mu.Unlock()

	return id, size, nil
}

// Leave removes the member and, if its room became empty, the room entry.
// It returns the removed record and how many members remain in its room.
//
// Leave is idempotent: ok is false when the identity is unknown (already
// removed), which callers from concurrent failure paths rely on. Exactly one
// caller observes ok=true for a given identity, so the winner owns closing the
// member's channel and announcing the departure.
func (r *Registry) Leave(id string) (m *Member, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, found := r.members[id]
	if !found {
		return nil, 0, false
	}
	delete(r.members, id)

	roomID := m.RoomID
	ids := r.rooms[roomID]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = ids
	}

	return m, len(ids), true
}

// Member returns the record for a connection identity, or nil if it is not
// currently connected.
func (r *Registry) Member(id string) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[id]
}

// MembersOf returns a snapshot of a room's member identities in join order.
// Unknown rooms yield a nil slice.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.rooms[roomID]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// RoomSize returns the current member count of a room (0 if absent).
func (r *Registry) RoomSize(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// RoomInfo returns the inspection summary for a room.
func (r *Registry) RoomInfo(roomID string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, found := r.rooms[roomID]
	if !found {
		return Info{Exists: false}
	}
	users := make([]string, len(ids))
	copy(users, ids)
	return Info{
		Exists:    true,
		RoomID:    roomID,
		UserCount: len(ids),
		Users:     users,
	}
}
