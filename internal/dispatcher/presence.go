package dispatcher

import (
	"sort"
	"sync"
)

// presenceEntry is the per-user reference count of live transports. Entries
// lock individually so unrelated users never serialize against each other.
type presenceEntry struct {
	mu      sync.Mutex
	count   int
	retired bool // set when the entry is removed from the map
}

// PresenceRegistry is the authoritative set of online users. A user is
// online while at least one transport holds a reference.
type PresenceRegistry struct {
	entries sync.Map // userID -> *presenceEntry
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{}
}

// Join adds one transport reference and reports whether the user just came
// online (count transitioned 0 -> 1).
func (pr *PresenceRegistry) Join(userID string) bool {
	for {
		value, _ := pr.entries.LoadOrStore(userID, &presenceEntry{})
		entry := value.(*presenceEntry)
		entry.mu.Lock()
		if entry.retired {
			entry.mu.Unlock()
			continue
		}
		entry.count++
		wentOnline := entry.count == 1
		entry.mu.Unlock()
		return wentOnline
	}
}

// Leave drops one transport reference and reports whether the user went
// offline (count reached 0). Extra leaves for an unknown user are no-ops so
// a double-reported disconnect can never drive the count negative.
func (pr *PresenceRegistry) Leave(userID string) bool {
	value, ok := pr.entries.Load(userID)
	if !ok {
		return false
	}
	entry := value.(*presenceEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.retired || entry.count == 0 {
		return false
	}
	entry.count--
	if entry.count == 0 {
		entry.retired = true
		pr.entries.Delete(userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live transport.
func (pr *PresenceRegistry) IsOnline(userID string) bool {
	value, ok := pr.entries.Load(userID)
	if !ok {
		return false
	}
	entry := value.(*presenceEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.count > 0
}

// Online returns a sorted snapshot of currently online users, sent to every
// connection that completes join-user.
func (pr *PresenceRegistry) Online() []string {
	var users []string
	pr.entries.Range(func(key, value any) bool {
		entry := value.(*presenceEntry)
		entry.mu.Lock()
		if entry.count > 0 {
			users = append(users, key.(string))
		}
		entry.mu.Unlock()
		return true
	})
	sort.Strings(users)
	return users
}
