package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
)

// DBStore persists session records in mongo with an expiring read cache in
// front. The cache only serves Get; every write invalidates its entry.
type DBStore struct {
	cache *expirable.LRU[string, *SessionRecord]
}

func NewDatabaseStore() *DBStore {
	return &DBStore{
		cache: expirable.NewLRU[string, *SessionRecord](1024, nil, time.Hour),
	}
}

func (ds *DBStore) Get(userID string) (*SessionRecord, error) {
	if userID == "" {
		return nil, ErrUserIdEmpty
	}

	if record, ok := ds.cache.Get(userID); ok {
		copied := *record
		return &copied, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "user_id", Value: userID}}
	var record SessionRecord

	startTime := time.Now()
	err := SessionRecords.FindOne(ctx, filter).Decode(&record)
	logger.DebugF("session record query cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("database operation failed: %w", err)
	}

	ds.cache.Add(userID, &record)
	copied := record
	return &copied, nil
}

func (ds *DBStore) Save(record *SessionRecord) error {
	if record.UserID == "" {
		return ErrUserIdEmpty
	}

	ds.cache.Remove(record.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "user_id", Value: record.UserID}}
	opts := options.Replace().SetUpsert(true)

	result, err := SessionRecords.ReplaceOne(ctx, filter, record, opts)

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("unique key conflicts: %w", err)
		}
		return fmt.Errorf("database operation failed: %w", err)
	}

	logger.DebugF("session record saved, matched=%d modified=%d upserted=%d",
		result.MatchedCount, result.ModifiedCount, result.UpsertedCount)
	return nil
}

func (ds *DBStore) Delete(userID string) error {
	if userID == "" {
		return ErrUserIdEmpty
	}

	ds.cache.Remove(userID)

	ctx, cancel := context.WithTimeout(context.Background(), OperationTimeout)
	defer cancel()

	filter := bson.D{{Key: "user_id", Value: userID}}
	_, err := SessionRecords.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("database operation failed: %w", err)
	}
	return nil
}
