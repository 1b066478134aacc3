// Package access decides whether a user may act inside a room.
package access

import (
	"context"
	"errors"
	"fmt"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrRoomNotFound  = errors.New("room not found")
	ErrAccessDenied  = errors.New("access denied")
)

//go:generate mockgen -destination=../mocks/mock_access.go -package=mocks realtime-canvas/backend/access RoomFinder

// RoomFinder loads a room by id.
type RoomFinder interface {
	FindRoomByID(ctx context.Context, id primitive.ObjectID) (*models.Room, error)
}

// Gate answers membership questions against room storage. It has no side
// effects and fails closed: any lookup failure denies access.
type Gate struct {
	rooms RoomFinder
}

func NewGate(rooms RoomFinder) *Gate {
	return &Gate{rooms: rooms}
}

// Authorize returns the room when userID is its owner or a listed member.
// The error wraps ErrInvalidRoomID, ErrRoomNotFound, ErrAccessDenied or,
// when storage failed, database.ErrStorageUnavailable.
func (g *Gate) Authorize(ctx context.Context, roomID string, userID primitive.ObjectID) (*models.Room, error) {
	id, err := ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}

	room, err := g.rooms.FindRoomByID(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, ErrRoomNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
	case !room.HasAccess(userID):
		return nil, ErrAccessDenied
	}
	return room, nil
}

// HasAccess is the boolean form of Authorize.
func (g *Gate) HasAccess(ctx context.Context, roomID string, userID primitive.ObjectID) bool {
	_, err := g.Authorize(ctx, roomID, userID)
	return err == nil
}

// ParseRoomID validates the textual form of a room id.
func ParseRoomID(roomID string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(roomID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	return id, nil
}
