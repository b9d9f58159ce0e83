package cost

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoLog is the document-store DurableLog, selected when the durable
// log is configured for Mongo instead of the relational store. Records
// land in one append-only collection; idempotency uses an upsert keyed on
// (request_id, attempt_index) so a retried write is a no-op.
type MongoLog struct {
	coll *mongo.Collection
}

// NewMongoLog wires the log onto db's collection and ensures the
// idempotency index exists.
func NewMongoLog(ctx context.Context, db *mongo.Database, collection string) (*MongoLog, error) {
	if collection == "" {
		collection = "usage_records"
	}
	coll := db.Collection(collection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "request_id", Value: 1}, {Key: "attempt_index", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("cost: ensure mongo idempotency index: %w", err)
	}
	return &MongoLog{coll: coll}, nil
}

func (m *MongoLog) Append(ctx context.Context, rec Record) error {
	filter := bson.D{
		{Key: "request_id", Value: rec.RequestID},
		{Key: "attempt_index", Value: rec.AttemptIndex},
	}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "timestamp", Value: rec.Timestamp},
		{Key: "service_type", Value: rec.ServiceType},
		{Key: "provider", Value: rec.Provider},
		{Key: "user_id", Value: rec.UserID},
		{Key: "task_id", Value: rec.TaskID},
		{Key: "request_id", Value: rec.RequestID},
		{Key: "attempt_index", Value: rec.AttemptIndex},
		{Key: "cost_estimate", Value: rec.CostEstimate},
		{Key: "tokens", Value: rec.Tokens},
		{Key: "duration_seconds", Value: rec.DurationSeconds},
	}}}
	_, err := m.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cost: mongo append: %w", err)
	}
	return nil
}

func (m *MongoLog) SumSince(ctx context.Context, provider string, since time.Time) (Money, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "provider", Value: provider},
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$cost_estimate"}}},
		}}},
	}
	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("cost: mongo aggregate: %w", err)
	}
	defer cursor.Close(ctx)

	var out struct {
		Total float64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&out); err != nil {
			return 0, fmt.Errorf("cost: mongo decode: %w", err)
		}
	}
	return out.Total, nil
}
