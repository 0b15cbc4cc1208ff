package room

import "sync"

// Registry owns the mapping from room ID to room state plus membership
// tracking. Rooms are created lazily on first use and never destroyed;
// state is deliberately retained when membership drops to zero.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		members: make(map[string]map[string]struct{}),
	}
}

// GetOrCreate returns the room state for roomID, creating an empty one
// if absent. Never fails.
func (reg *Registry) GetOrCreate(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		r = NewRoom(roomID)
		reg.rooms[roomID] = r
	}
	return r
}

// MemberCount returns the number of connections currently joined to
// roomID. Unknown rooms count zero.
func (reg *Registry) MemberCount(roomID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.members[roomID])
}

// AddMember records connID as a member of roomID. Adding an existing
// member is a no-op.
func (reg *Registry) AddMember(roomID, connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	set, ok := reg.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		reg.members[roomID] = set
	}
	set[connID] = struct{}{}
}

// RemoveMember drops connID from roomID's membership. Removing a
// non-member is a no-op; room state is untouched.
func (reg *Registry) RemoveMember(roomID, connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	set, ok := reg.members[roomID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		// Keep the room, drop only the empty membership set
		delete(reg.members, roomID)
	}
}

// RoomCount returns how many rooms currently have at least one member
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.members)
}

// ActiveRooms returns member counts for every occupied room
func (reg *Registry) ActiveRooms() map[string]int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make(map[string]int, len(reg.members))
	for id, set := range reg.members {
		out[id] = len(set)
	}
	return out
}
