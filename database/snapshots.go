package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"realtime-canvas/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnapshotStore persists versioned canvas snapshots.
type SnapshotStore struct {
	coll *mongo.Collection
}

func NewSnapshotStore(db *mongo.Database) *SnapshotStore {
	return &SnapshotStore{coll: db.Collection(SnapshotsCollection)}
}

// Create stores snap with the next version number of its room. Concurrent
// creators race on the unique (roomId, version) index and retry.
func (s *SnapshotStore) Create(ctx context.Context, snap *models.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		latest, err := s.Latest(ctx, snap.RoomID)
		switch {
		case errors.Is(err, ErrNotFound):
			snap.Version = 1
		case err != nil:
			return err
		default:
			snap.Version = latest.Version + 1
		}
		snap.ID = primitive.NewObjectID()

		err = s.insert(ctx, snap)
		if !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
	return fmt.Errorf("create snapshot: version conflict after %d attempts", attempts)
}

// Latest returns the highest-versioned snapshot of a room.
func (s *SnapshotStore) Latest(ctx context.Context, roomID primitive.ObjectID) (*models.Snapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	return s.findOne(ctx, bson.M{"roomId": roomID}, opts)
}

// FindByID returns a snapshot only when it belongs to roomID.
func (s *SnapshotStore) FindByID(ctx context.Context, roomID, id primitive.ObjectID) (*models.Snapshot, error) {
	return s.findOne(ctx, bson.M{"_id": id, "roomId": roomID})
}

func (s *SnapshotStore) insert(ctx context.Context, snap *models.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, snap); err != nil {
		return classify(err, ErrDuplicateKey)
	}
	return nil
}

func (s *SnapshotStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var snap models.Snapshot
	if err := s.coll.FindOne(ctx, filter, opts...).Decode(&snap); err != nil {
		return nil, classify(err, ErrDuplicateKey)
	}
	return &snap, nil
}
