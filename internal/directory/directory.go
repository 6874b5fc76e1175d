package directory

import (
	"errors"
	"sync"
	"time"

	c "github.com/Reenniizz/StartupMatch-sub003/internal/config"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
)

// Directory wraps a Store with the read-modify-write operations the
// dispatcher needs. One instance is shared across all connections; the mutex
// keeps device counting correct when two devices of the same user race.
type Directory struct {
	mu    sync.Mutex
	store Store
}

func New(store Store) *Directory {
	return &Directory{store: store}
}

// NewFromConfig connects mongo when the database section is enabled and
// falls back to the in-memory store otherwise.
func NewFromConfig() (*Directory, error) {
	config, err := c.GetConfig()
	if err != nil {
		return nil, err
	}
	if !config.Database.Enabled {
		logger.Info("Session directory using in-memory store")
		return New(NewMemoryStore()), nil
	}
	if err := ConnectDatabase(); err != nil {
		return nil, err
	}
	logger.Info("Session directory using database store")
	return New(NewDatabaseStore()), nil
}

// MarkConnected records a new live transport for the user and returns the
// updated device count.
func (d *Directory) MarkConnected(userID, transportID string, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, err := d.store.Get(userID)
	if errors.Is(err, ErrRecordNotFound) {
		record = NewSessionRecord(userID)
		err = nil
	}
	if err != nil {
		return 0, err
	}

	record.DeviceCount++
	record.LastTransportID = transportID
	record.ConnectedAt = now
	record.LastSeenAt = now
	if err := d.store.Save(record); err != nil {
		return 0, err
	}
	return record.DeviceCount, nil
}

// MarkDisconnected drops one live transport and returns the remaining count.
// The count never goes below zero, even if a disconnect is reported twice.
func (d *Directory) MarkDisconnected(userID string, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, err := d.store.Get(userID)
	if errors.Is(err, ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if record.DeviceCount > 0 {
		record.DeviceCount--
	}
	record.LastSeenAt = now
	if err := d.store.Save(record); err != nil {
		return record.DeviceCount, err
	}
	return record.DeviceCount, nil
}

// Touch refreshes the user's last-seen timestamp. Called on heartbeats.
func (d *Directory) Touch(userID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, err := d.store.Get(userID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	record.LastSeenAt = now
	return d.store.Save(record)
}

// LastSeen reports when an offline user was last connected.
func (d *Directory) LastSeen(userID string) (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	record, err := d.store.Get(userID)
	if err != nil {
		return time.Time{}, err
	}
	return record.LastSeenAt, nil
}
