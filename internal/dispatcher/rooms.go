package dispatcher

import (
	"sync"

	"github.com/Reenniizz/StartupMatch-sub003/internal/connection"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

type room struct {
	mu      sync.RWMutex
	kind    protocol.RoomKind
	members map[string]struct{} // transport ids
}

type transportRooms struct {
	mu    sync.Mutex
	rooms map[string]struct{}
}

// RoomMultiplexer records which transports belong to which rooms and fans
// events out to members. Rooms lock individually; membership is the only
// authorization boundary enforced here.
type RoomMultiplexer struct {
	rooms      sync.Map // roomID -> *room
	transports sync.Map // transportID -> *transportRooms, reverse index for disconnects
}

func NewRoomMultiplexer() *RoomMultiplexer {
	return &RoomMultiplexer{}
}

// Join is idempotent: joining a room the transport already belongs to
// reports false with no side effects.
func (rm *RoomMultiplexer) Join(roomID string, kind protocol.RoomKind, transportID string) bool {
	value, _ := rm.rooms.LoadOrStore(roomID, &room{kind: kind, members: make(map[string]struct{})})
	r := value.(*room)

	r.mu.Lock()
	if _, ok := r.members[transportID]; ok {
		r.mu.Unlock()
		return false
	}
	r.members[transportID] = struct{}{}
	r.mu.Unlock()

	tv, _ := rm.transports.LoadOrStore(transportID, &transportRooms{rooms: make(map[string]struct{})})
	tr := tv.(*transportRooms)
	tr.mu.Lock()
	tr.rooms[roomID] = struct{}{}
	tr.mu.Unlock()

	logger.DebugF("[%s] Joined room %s (%s)", transportID, roomID, kind)
	return true
}

// Leave removes exactly one membership. Unknown rooms or non-members are
// no-ops.
func (rm *RoomMultiplexer) Leave(roomID string, transportID string) bool {
	value, ok := rm.rooms.Load(roomID)
	if !ok {
		return false
	}
	r := value.(*room)

	r.mu.Lock()
	_, member := r.members[transportID]
	if member {
		delete(r.members, transportID)
	}
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		rm.rooms.Delete(roomID)
	}

	if tv, ok := rm.transports.Load(transportID); ok {
		tr := tv.(*transportRooms)
		tr.mu.Lock()
		delete(tr.rooms, roomID)
		tr.mu.Unlock()
	}

	if member {
		logger.DebugF("[%s] Left room %s", transportID, roomID)
	}
	return member
}

// LeaveAll removes the transport from every room it joined and returns the
// room ids it was a member of. Called on disconnect; server-side membership
// never survives a transport change.
func (rm *RoomMultiplexer) LeaveAll(transportID string) []string {
	tv, ok := rm.transports.LoadAndDelete(transportID)
	if !ok {
		return nil
	}
	tr := tv.(*transportRooms)

	tr.mu.Lock()
	roomIDs := make([]string, 0, len(tr.rooms))
	for roomID := range tr.rooms {
		roomIDs = append(roomIDs, roomID)
	}
	tr.rooms = make(map[string]struct{})
	tr.mu.Unlock()

	for _, roomID := range roomIDs {
		if value, ok := rm.rooms.Load(roomID); ok {
			r := value.(*room)
			r.mu.Lock()
			delete(r.members, transportID)
			empty := len(r.members) == 0
			r.mu.Unlock()
			if empty {
				rm.rooms.Delete(roomID)
			}
		}
	}
	return roomIDs
}

// IsMember reports current membership.
func (rm *RoomMultiplexer) IsMember(roomID string, transportID string) bool {
	value, ok := rm.rooms.Load(roomID)
	if !ok {
		return false
	}
	r := value.(*room)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, member := r.members[transportID]
	return member
}

// Members returns a snapshot of the room's transport ids.
func (rm *RoomMultiplexer) Members(roomID string) []string {
	value, ok := rm.rooms.Load(roomID)
	if !ok {
		return nil
	}
	r := value.(*room)
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]string, 0, len(r.members))
	for transportID := range r.members {
		members = append(members, transportID)
	}
	return members
}

// Broadcast fans one event out to every member except the excluded
// transport. A member disconnecting mid-broadcast only logs.
func (rm *RoomMultiplexer) Broadcast(sender connection.EventSender, roomID string, eventType protocol.EventType, payload any, exceptTransportID string) {
	for _, transportID := range rm.Members(roomID) {
		if transportID == exceptTransportID {
			continue
		}
		if err := sender.SendEvent(transportID, eventType, payload); err != nil {
			logger.WarnF("[%s] Fail to deliver %s to room %s member, details: %v", transportID, eventType, roomID, err)
		}
	}
}

// EachTransport visits every transport currently holding at least one
// membership. Every authenticated connection holds its personal room, so
// this enumerates all connected clients.
func (rm *RoomMultiplexer) EachTransport(fn func(transportID string) bool) {
	rm.transports.Range(func(key, _ any) bool {
		return fn(key.(string))
	})
}
