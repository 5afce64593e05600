package core

import "github.com/vitalink/telecare/internal/domain"

// RoomTable maps a room id to the ordered set of joined connections.
// Insertion order determines initiator assignment, so members are kept
// in a slice; the index map exists for O(1) membership checks.
//
// Not safe for concurrent use: the hub loop is the only writer.
type RoomTable struct {
	members map[domain.RoomID][]ConnID
	index   map[domain.RoomID]map[ConnID]struct{}
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		members: make(map[domain.RoomID][]ConnID),
		index:   make(map[domain.RoomID]map[ConnID]struct{}),
	}
}

// Members returns the current member set in join order.
func (t *RoomTable) Members(room domain.RoomID) []ConnID {
	out := make([]ConnID, len(t.members[room]))
	copy(out, t.members[room])
	return out
}

func (t *RoomTable) Contains(room domain.RoomID, id ConnID) bool {
	_, ok := t.index[room][id]
	return ok
}

// Join appends id to the room's member set. Joining a room the
// connection is already in is a no-op.
func (t *RoomTable) Join(room domain.RoomID, id ConnID) {
	if t.Contains(room, id) {
		return
	}
	if t.index[room] == nil {
		t.index[room] = make(map[ConnID]struct{})
	}
	t.members[room] = append(t.members[room], id)
	t.index[room][id] = struct{}{}
}

// Leave removes id from the room. It returns the remaining members and
// whether id was actually a member. The room entry is deleted the
// instant its member set becomes empty.
func (t *RoomTable) Leave(room domain.RoomID, id ConnID) ([]ConnID, bool) {
	if !t.Contains(room, id) {
		return nil, false
	}
	delete(t.index[room], id)
	ms := t.members[room]
	for i, m := range ms {
		if m == id {
			t.members[room] = append(ms[:i], ms[i+1:]...)
			break
		}
	}
	if len(t.members[room]) == 0 {
		delete(t.members, room)
		delete(t.index, room)
		return nil, true
	}
	return t.Members(room), true
}

func (t *RoomTable) Count(room domain.RoomID) int {
	return len(t.members[room])
}

// Exists reports whether the room has any members. A room with no
// members has no entry at all.
func (t *RoomTable) Exists(room domain.RoomID) bool {
	_, ok := t.members[room]
	return ok
}

// Rooms lists every active room id.
func (t *RoomTable) Rooms() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(t.members))
	for room := range t.members {
		out = append(out, room)
	}
	return out
}
