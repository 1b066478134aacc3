package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names.
const (
	UsersCollection      = "users"
	RoomsCollection      = "rooms"
	OperationsCollection = "canvasops"
	ChatCollection       = "chatmessages"
	SnapshotsCollection  = "canvassnapshots"
)

// opTimeout bounds a single database call.
const opTimeout = 5 * time.Second

// Mongo owns the client and the application database.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// ConnectMongoDB connects, pings the primary and returns the handle.
func ConnectMongoDB(ctx context.Context, uri, name string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logrus.WithField("database", name).Info("Connected to MongoDB")
	return &Mongo{Client: client, DB: client.Database(name)}, nil
}

// EnsureIndexes creates the indexes the stores rely on. The (roomId, opId)
// unique index is what makes operation appends idempotent.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[string][]mongo.IndexModel{
		OperationsCollection: {
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "opId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		ChatCollection: {
			{Keys: bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		SnapshotsCollection: {
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "version", Value: -1}}, Options: options.Index().SetUnique(true)},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		},
		RoomsCollection: {
			{Keys: bson.D{{Key: "owner", Value: 1}}},
			{Keys: bson.D{{Key: "members.user", Value: 1}}},
		},
	}

	for coll, idx := range specs {
		if _, err := m.DB.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	logrus.Info("MongoDB indexes ensured")
	return nil
}

// Ping reports whether the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.Client.Ping(ctx, readpref.Primary())
}

// Disconnect closes the client.
func (m *Mongo) Disconnect() {
	if m == nil || m.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := m.Client.Disconnect(ctx); err != nil {
		logrus.WithError(err).Error("Error disconnecting from MongoDB")
		return
	}
	logrus.Info("Disconnected from MongoDB")
}

// PurgeResult counts documents removed by PurgeRoomData.
type PurgeResult struct {
	Operations int64
	Messages   int64
	Snapshots  int64
}

// PurgeRoomData removes every operation, chat message and snapshot of a room.
// The room document itself is deleted by RoomStore.Delete.
func (m *Mongo) PurgeRoomData(ctx context.Context, roomID primitive.ObjectID) (PurgeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var res PurgeResult
	del := func(coll, field string, n *int64) error {
		r, err := m.DB.Collection(coll).DeleteMany(ctx, bson.M{field: roomID})
		if err != nil {
			return fmt.Errorf("purge %s: %w", coll, classify(err, ErrDuplicateKey))
		}
		*n = r.DeletedCount
		return nil
	}
	if err := del(OperationsCollection, "roomId", &res.Operations); err != nil {
		return res, err
	}
	if err := del(ChatCollection, "room", &res.Messages); err != nil {
		return res, err
	}
	if err := del(SnapshotsCollection, "roomId", &res.Snapshots); err != nil {
		return res, err
	}
	return res, nil
}
