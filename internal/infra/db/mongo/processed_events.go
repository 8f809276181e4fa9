package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProcessedEvents records which relayed events one consumer has already
// delivered. Rows expire after Retention.
type ProcessedEvents struct {
	col       *mongo.Collection
	consumer  string
	Retention time.Duration
	Now       func() time.Time
}

func NewProcessedEvents(db *mongo.Database, consumer string) *ProcessedEvents {
	return &ProcessedEvents{col: db.Collection("processed_events"), consumer: consumer, Retention: 24 * time.Hour}
}

func (s *ProcessedEvents) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_key", Value: 1}, {Key: "consumer", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "received_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(s.retention().Seconds()))},
	})
	return err
}

// Seen inserts key and reports whether it was already present.
func (s *ProcessedEvents) Seen(ctx context.Context, key string) (bool, error) {
	doc := bson.M{"event_key": key, "consumer": s.consumer, "received_at": s.now()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, err
}

func (s *ProcessedEvents) retention() time.Duration {
	if s.Retention <= 0 {
		return 24 * time.Hour
	}
	return s.Retention
}

func (s *ProcessedEvents) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
