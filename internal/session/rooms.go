package session

import (
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

// roomSet tracks the rooms this session intends to be a member of, in join
// order, so memberships can be replayed verbatim after a reconnect.
type roomSet struct {
	kinds map[string]protocol.RoomKind
	order []string
}

func newRoomSet() *roomSet {
	return &roomSet{kinds: make(map[string]protocol.RoomKind)}
}

// Add records a membership intent. Reports false when the room was already
// tracked, which makes duplicate joins a silent success.
func (r *roomSet) Add(roomID string, kind protocol.RoomKind) bool {
	if _, ok := r.kinds[roomID]; ok {
		return false
	}
	r.kinds[roomID] = kind
	r.order = append(r.order, roomID)
	return true
}

func (r *roomSet) Remove(roomID string) {
	if _, ok := r.kinds[roomID]; !ok {
		return
	}
	delete(r.kinds, roomID)
	for i, id := range r.order {
		if id == roomID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *roomSet) Contains(roomID string) bool {
	_, ok := r.kinds[roomID]
	return ok
}

func (r *roomSet) Len() int {
	return len(r.kinds)
}

// Replay lists memberships for re-join, the personal room first so presence
// comes back before conversation traffic.
func (r *roomSet) Replay() []protocol.JoinPayload {
	out := make([]protocol.JoinPayload, 0, len(r.order))
	for _, id := range r.order {
		if r.kinds[id] == protocol.RoomPersonal {
			out = append(out, protocol.JoinPayload{RoomID: id, RoomKind: protocol.RoomPersonal})
		}
	}
	for _, id := range r.order {
		if kind := r.kinds[id]; kind != protocol.RoomPersonal {
			out = append(out, protocol.JoinPayload{RoomID: id, RoomKind: kind})
		}
	}
	return out
}
