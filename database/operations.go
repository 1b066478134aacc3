package database

import (
	"context"
	"fmt"
	"time"

	"realtime-canvas/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultHistoryLimit is used when a query does not name a limit.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 1000
)

// OperationStore is the append-only, room-scoped log of canvas operations.
type OperationStore struct {
	coll *mongo.Collection
}

func NewOperationStore(db *mongo.Database) *OperationStore {
	return &OperationStore{coll: db.Collection(OperationsCollection)}
}

// Append stores op and returns its durable id. A second append of the same
// (roomId, opId) fails with ErrDuplicateOperation and stores nothing.
func (s *OperationStore) Append(ctx context.Context, op *models.Operation) (primitive.ObjectID, error) {
	if op.ID.IsZero() {
		op.ID = primitive.NewObjectID()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, op); err != nil {
		return primitive.NilObjectID, fmt.Errorf("append operation %s: %w", op.OpID, classify(err, ErrDuplicateOperation))
	}
	return op.ID, nil
}

// Query returns up to limit operations of a room in ascending creation
// order. When since is set only operations created strictly after it are
// returned. A limit of zero or less means DefaultHistoryLimit.
func (s *OperationStore) Query(ctx context.Context, roomID primitive.ObjectID, since *time.Time, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	filter := bson.M{"roomId": roomID}
	if since != nil {
		filter["createdAt"] = bson.M{"$gt": *since}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", classify(err, ErrDuplicateKey))
	}
	defer cursor.Close(ctx)

	ops := make([]models.Operation, 0)
	if err := cursor.All(ctx, &ops); err != nil {
		return nil, fmt.Errorf("decode operations: %w", classify(err, ErrDuplicateKey))
	}
	return ops, nil
}

// All streams every operation of a room in creation order through fn.
func (s *OperationStore) All(ctx context.Context, roomID primitive.ObjectID, fn func(*models.Operation) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := s.coll.Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return fmt.Errorf("scan operations: %w", classify(err, ErrDuplicateKey))
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var op models.Operation
		if err := cursor.Decode(&op); err != nil {
			return fmt.Errorf("decode operation: %w", err)
		}
		if err := fn(&op); err != nil {
			return err
		}
	}
	return classify(cursor.Err(), ErrDuplicateKey)
}
