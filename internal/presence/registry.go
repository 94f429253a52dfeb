package presence

import (
	"sort"
	"sync"
)

// RoomID identifies a room; rooms are keyed by note identifier.
type RoomID uint

// Identity is the opaque per-browser user identifier.
type Identity string

// Viewer is one active membership of a room.
type Viewer struct {
	Identity    Identity
	DisplayName string
	Connection  string
}

// Update reports the viewer count of a room after a membership change.
type Update struct {
	Room  RoomID
	Count int
}

// Registry tracks which identities currently view which rooms.
//
// Rooms are created on first join and pruned once empty. Every mutation runs while
// the affected room is locked, and the optional announce callbacks run inside that
// same critical section, so announcements for one room are produced in the order of
// the mutations they describe. Callbacks must not block and must not call back into
// the registry.
type Registry struct {
	mu    sync.Mutex
	rooms map[RoomID]*room
}

type room struct {
	mu      sync.Mutex
	viewers map[Identity]Viewer
	retired bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[RoomID]*room)}
}

// Join inserts or overwrites the viewer entry for (roomID, viewer.Identity) and
// returns the resulting count.
func (r *Registry) Join(roomID RoomID, viewer Viewer, announce func(count int)) int {
	current := r.acquire(roomID, true)
	defer r.release(roomID, current)

	current.viewers[viewer.Identity] = viewer
	count := len(current.viewers)
	if announce != nil {
		announce(count)
	}
	return count
}

// Leave removes identity from the room. The boolean is false when the identity was
// not a viewer, in which case nothing is announced.
func (r *Registry) Leave(roomID RoomID, identity Identity, announce func(count int)) (int, bool) {
	current := r.acquire(roomID, false)
	if current == nil {
		return 0, false
	}
	defer r.release(roomID, current)

	if _, ok := current.viewers[identity]; !ok {
		return len(current.viewers), false
	}
	delete(current.viewers, identity)
	count := len(current.viewers)
	if announce != nil {
		announce(count)
	}
	return count, true
}

// LeaveAll removes identity from every room it currently views and returns one
// update per affected room. Order is unspecified.
func (r *Registry) LeaveAll(identity Identity, announce func(update Update)) []Update {
	var updates []Update
	for _, roomID := range r.roomIDs() {
		count, removed := r.Leave(roomID, identity, func(count int) {
			if announce != nil {
				announce(Update{Room: roomID, Count: count})
			}
		})
		if removed {
			updates = append(updates, Update{Room: roomID, Count: count})
		}
	}
	return updates
}

// Evict removes the room with every viewer in it and returns the removed viewers.
// Nothing is announced.
func (r *Registry) Evict(roomID RoomID) []Viewer {
	current := r.acquire(roomID, false)
	if current == nil {
		return nil
	}
	defer r.release(roomID, current)

	removed := make([]Viewer, 0, len(current.viewers))
	for identity, viewer := range current.viewers {
		removed = append(removed, viewer)
		delete(current.viewers, identity)
	}
	return removed
}

// Count returns the number of viewers in the room, 0 when the room is absent.
func (r *Registry) Count(roomID RoomID) int {
	current := r.acquire(roomID, false)
	if current == nil {
		return 0
	}
	defer r.release(roomID, current)
	return len(current.viewers)
}

// Viewers returns a snapshot of the room's viewers ordered by identity.
func (r *Registry) Viewers(roomID RoomID) []Viewer {
	current := r.acquire(roomID, false)
	if current == nil {
		return nil
	}
	defer r.release(roomID, current)

	viewers := make([]Viewer, 0, len(current.viewers))
	for _, viewer := range current.viewers {
		viewers = append(viewers, viewer)
	}
	sort.Slice(viewers, func(i, j int) bool {
		return viewers[i].Identity < viewers[j].Identity
	})
	return viewers
}

// Rooms returns the number of rooms with at least one viewer.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) roomIDs() []RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// acquire returns the room locked, or nil when it is absent and create is false.
// A room retired between lookup and locking is looked up again.
func (r *Registry) acquire(roomID RoomID, create bool) *room {
	for {
		r.mu.Lock()
		current := r.rooms[roomID]
		if current == nil && create {
			current = &room{viewers: make(map[Identity]Viewer)}
			r.rooms[roomID] = current
		}
		r.mu.Unlock()
		if current == nil {
			return nil
		}

		current.mu.Lock()
		if !current.retired {
			return current
		}
		current.mu.Unlock()
	}
}

// release prunes the room when empty and unlocks it.
func (r *Registry) release(roomID RoomID, current *room) {
	if len(current.viewers) == 0 {
		r.mu.Lock()
		if r.rooms[roomID] == current {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
		current.retired = true
	}
	current.mu.Unlock()
}
