package dispatcher

import (
	"sync"
	"time"
)

type typingFlag struct {
	timer       *time.Timer
	transportID string // transport that set the flag, excluded from the false broadcast
}

// TypingTracker owns the short-lived typing flags for all rooms. Each flag
// carries its own expiry timer; the false broadcast fires exactly once per
// flag, from either an explicit stop or expiry, whichever comes first.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	flags   map[string]map[string]*typingFlag // roomID -> userID -> flag
	expired func(roomID, userID, transportID string)
}

// NewTypingTracker builds a tracker that calls expired whenever a flag is
// cleared. The callback runs without the tracker lock held.
func NewTypingTracker(ttl time.Duration, expired func(roomID, userID, transportID string)) *TypingTracker {
	return &TypingTracker{
		ttl:     ttl,
		flags:   make(map[string]map[string]*typingFlag),
		expired: expired,
	}
}

// Start sets or refreshes the flag and reports whether it is new. A refresh
// installs a fresh flag object: the old timer may already be running its
// callback, and that callback only removes the exact flag it was armed for,
// so a stale expiry can never clear a refreshed flag.
func (tt *TypingTracker) Start(roomID, userID, transportID string) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	users, ok := tt.flags[roomID]
	if !ok {
		users = make(map[string]*typingFlag)
		tt.flags[roomID] = users
	}

	prev, refresh := users[userID]
	if refresh {
		prev.timer.Stop()
	}
	flag := &typingFlag{transportID: transportID}
	flag.timer = tt.expiryTimer(roomID, userID, flag)
	users[userID] = flag
	return !refresh
}

// Stop clears the flag immediately. The expired callback fires if the flag
// existed; a stop racing an expiry results in a single notification because
// only the path that removes the flag from the map notifies.
func (tt *TypingTracker) Stop(roomID, userID string) {
	if flag, ok := tt.remove(roomID, userID, nil); ok {
		tt.expired(roomID, userID, flag.transportID)
	}
}

// StopAllForUser clears every flag the user holds, notifying per room.
// Called when a transport drops so no room is left with a stuck indicator.
func (tt *TypingTracker) StopAllForUser(userID string) {
	tt.mu.Lock()
	var cleared []*typingFlag
	var rooms []string
	for roomID, users := range tt.flags {
		if flag, ok := users[userID]; ok {
			flag.timer.Stop()
			delete(users, userID)
			if len(users) == 0 {
				delete(tt.flags, roomID)
			}
			rooms = append(rooms, roomID)
			cleared = append(cleared, flag)
		}
	}
	tt.mu.Unlock()

	for i, roomID := range rooms {
		tt.expired(roomID, userID, cleared[i].transportID)
	}
}

// IsTyping reports whether the flag is currently set.
func (tt *TypingTracker) IsTyping(roomID, userID string) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	users, ok := tt.flags[roomID]
	if !ok {
		return false
	}
	_, ok = users[userID]
	return ok
}

func (tt *TypingTracker) expiryTimer(roomID, userID string, flag *typingFlag) *time.Timer {
	return time.AfterFunc(tt.ttl, func() {
		if _, ok := tt.remove(roomID, userID, flag); ok {
			tt.expired(roomID, userID, flag.transportID)
		}
	})
}

// remove clears the flag and reports it. When expect is non-nil the removal
// only happens if that exact flag is still current, which makes a stale
// expiry callback a no-op after a refresh replaced the flag.
func (tt *TypingTracker) remove(roomID, userID string, expect *typingFlag) (*typingFlag, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	users, ok := tt.flags[roomID]
	if !ok {
		return nil, false
	}
	flag, ok := users[userID]
	if !ok {
		return nil, false
	}
	if expect != nil && flag != expect {
		return nil, false
	}
	flag.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(tt.flags, roomID)
	}
	return flag, true
}
