// Package directory stores per-user session records: which transport last
// carried the user, how many devices are live, and when the user was last
// seen. Records back the "last seen" display for offline users and survive
// restarts when mongo is configured.
package directory

import (
	"errors"
	"time"
)

type SessionRecord struct {
	UserID          string    `bson:"user_id"`
	LastTransportID string    `bson:"last_transport_id"`
	DeviceCount     int       `bson:"device_count"`
	ConnectedAt     time.Time `bson:"connected_at"`
	LastSeenAt      time.Time `bson:"last_seen_at"`
}

type Store interface {
	Get(userID string) (*SessionRecord, error)
	Save(record *SessionRecord) error
	Delete(userID string) error
}

var (
	ErrRecordNotFound = errors.New("session record does not exist")
	ErrUserIdEmpty    = errors.New("user_id is empty")
)

func NewSessionRecord(userID string) *SessionRecord {
	return &SessionRecord{
		UserID: userID,
	}
}
