package session

import (
	"testing"

	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

func TestRoomSetAddIsIdempotent(t *testing.T) {
	r := newRoomSet()
	if !r.Add("room-1", protocol.RoomGroup) {
		t.Fatal("first add should report true")
	}
	if r.Add("room-1", protocol.RoomGroup) {
		t.Fatal("duplicate add should report false")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 room, got %d", r.Len())
	}
}

func TestRoomSetRemove(t *testing.T) {
	r := newRoomSet()
	r.Add("a", protocol.RoomDirect)
	r.Add("b", protocol.RoomGroup)
	r.Remove("a")
	r.Remove("missing")

	if r.Contains("a") || !r.Contains("b") {
		t.Fatal("remove affected the wrong room")
	}
	if got := r.Replay(); len(got) != 1 || got[0].RoomID != "b" {
		t.Fatalf("unexpected replay after remove: %v", got)
	}
}

func TestRoomSetReplayPersonalFirst(t *testing.T) {
	r := newRoomSet()
	r.Add("conv-1", protocol.RoomDirect)
	r.Add("conv-2", protocol.RoomGroup)
	r.Add("user-1", protocol.RoomPersonal)

	replay := r.Replay()
	if len(replay) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(replay))
	}
	if replay[0].RoomID != "user-1" || replay[0].RoomKind != protocol.RoomPersonal {
		t.Fatalf("personal room must replay first, got %v", replay[0])
	}
	if replay[1].RoomID != "conv-1" || replay[2].RoomID != "conv-2" {
		t.Fatalf("conversation rooms must keep join order, got %v", replay[1:])
	}
}
