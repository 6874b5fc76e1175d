package directory

import (
	"sync"
)

// MemoryStore keeps session records in process memory. Used when no database
// is configured and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*SessionRecord),
	}
}

func (ms *MemoryStore) Get(userID string) (*SessionRecord, error) {
	if userID == "" {
		return nil, ErrUserIdEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	record, ok := ms.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (ms *MemoryStore) Save(record *SessionRecord) error {
	if record.UserID == "" {
		return ErrUserIdEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	copied := *record
	ms.records[record.UserID] = &copied
	return nil
}

func (ms *MemoryStore) Delete(userID string) error {
	if userID == "" {
		return ErrUserIdEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.records, userID)
	return nil
}
