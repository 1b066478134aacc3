package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"realtime-canvas/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChatHistoryLimit is the number of messages returned by a history request.
const ChatHistoryLimit = 100

// ChatStore persists room chat.
type ChatStore struct {
	coll *mongo.Collection
}

func NewChatStore(db *mongo.Database) *ChatStore {
	return &ChatStore{coll: db.Collection(ChatCollection)}
}

func (s *ChatStore) InsertChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert chat message: %w", classify(err, ErrDuplicateKey))
	}
	return nil
}

// RecentChatMessages returns the newest n messages of a room, oldest first.
func (s *ChatStore) RecentChatMessages(ctx context.Context, roomID primitive.ObjectID, n int) ([]models.ChatMessage, error) {
	if n <= 0 {
		n = ChatHistoryLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(n))

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.coll.Find(ctx, bson.M{"room": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find chat history: %w", classify(err, ErrDuplicateKey))
	}
	defer cursor.Close(ctx)

	messages := make([]models.ChatMessage, 0, n)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", classify(err, ErrDuplicateKey))
	}
	slices.Reverse(messages)
	return messages, nil
}
