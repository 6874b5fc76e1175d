package session

import (
	"time"
)

// pendingState tracks where one optimistic send currently stands.
type pendingState int

const (
	pendingSending pendingState = iota
	pendingError
)

// PendingSend is one in-flight message awaiting its ack. Entries in the
// error state stay registered so a retry can reuse the original temp id.
type PendingSend struct {
	TempID string
	RoomID string
	Body   string
	SentAt time.Time
	state  pendingState
}

// Correlator owns the pending-send table. It is only touched from the
// session loop, so it carries no lock.
type Correlator struct {
	pending map[string]*PendingSend
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*PendingSend)}
}

// Register records a freshly written message.
func (c *Correlator) Register(tempID, roomID, body string, now time.Time) {
	c.pending[tempID] = &PendingSend{
		TempID: tempID,
		RoomID: roomID,
		Body:   body,
		SentAt: now,
		state:  pendingSending,
	}
}

// Resolve removes the entry for an acked temp id. A temp id resolves at most
// once: a late ack for an entry that already failed still removes it but
// reports false, so no second terminal event is emitted for it.
func (c *Correlator) Resolve(tempID string) bool {
	p, ok := c.pending[tempID]
	if !ok {
		return false
	}
	delete(c.pending, tempID)
	return p.state == pendingSending
}

// Fail moves the entry into the error state but keeps it so the caller can
// retry with the same temp id. Reports false for unknown or already-failed ids.
func (c *Correlator) Fail(tempID string) bool {
	p, ok := c.pending[tempID]
	if !ok || p.state == pendingError {
		return false
	}
	p.state = pendingError
	return true
}

// Retry returns a failed entry back to sending with a fresh timestamp and
// hands it out so the caller can rewrite it to the transport.
func (c *Correlator) Retry(tempID string, now time.Time) (*PendingSend, error) {
	p, ok := c.pending[tempID]
	if !ok {
		return nil, ErrUnknownTempID
	}
	p.state = pendingSending
	p.SentAt = now
	return p, nil
}

// Sweep fails every entry that has been sending for longer than timeout and
// returns their temp ids, oldest first not guaranteed.
func (c *Correlator) Sweep(now time.Time, timeout time.Duration) []string {
	var failed []string
	for id, p := range c.pending {
		if p.state == pendingSending && now.Sub(p.SentAt) >= timeout {
			p.state = pendingError
			failed = append(failed, id)
		}
	}
	return failed
}

// FailStale runs after a reconnect: anything that was already in flight for
// longer than threshold before the transport came back is failed rather than
// left waiting for an ack that will never arrive.
func (c *Correlator) FailStale(now time.Time, threshold time.Duration) []string {
	return c.Sweep(now, threshold)
}

// FailAll drains the whole table, used when the session closes for good.
func (c *Correlator) FailAll() []string {
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pending = make(map[string]*PendingSend)
	return ids
}

// Len reports the number of tracked sends, failed entries included.
func (c *Correlator) Len() int {
	return len(c.pending)
}

// Get looks up one entry.
func (c *Correlator) Get(tempID string) (*PendingSend, bool) {
	p, ok := c.pending[tempID]
	return p, ok
}
