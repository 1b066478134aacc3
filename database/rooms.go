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

// RoomStore persists rooms and their membership.
type RoomStore struct {
	coll *mongo.Collection
}

func NewRoomStore(db *mongo.Database) *RoomStore {
	return &RoomStore{coll: db.Collection(RoomsCollection)}
}

func (s *RoomStore) FindRoomByID(ctx context.Context, id primitive.ObjectID) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var room models.Room
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&room); err != nil {
		return nil, fmt.Errorf("find room %s: %w", id.Hex(), classify(err, ErrDuplicateKey))
	}
	return &room, nil
}

// Create inserts a room owned by room.Owner. Members are reset so the owner
// never appears as a listed member.
func (s *RoomStore) Create(ctx context.Context, room *models.Room) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	room.ID = primitive.NewObjectID()
	room.Members = []models.Member{}
	room.CreatedAt = now
	room.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, room); err != nil {
		return fmt.Errorf("create room: %w", classify(err, ErrDuplicateKey))
	}
	return nil
}

// ListForUser returns the rooms userID owns or belongs to, most recently updated first.
func (s *RoomStore) ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Room, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"owner": userID},
		bson.M{"members.user": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", classify(err, ErrDuplicateKey))
	}
	defer cursor.Close(ctx)

	rooms := make([]models.Room, 0)
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", classify(err, ErrDuplicateKey))
	}
	return rooms, nil
}

// Update applies the non-nil fields of req and returns the updated room.
func (s *RoomStore) Update(ctx context.Context, id primitive.ObjectID, req models.UpdateRoomRequest) (*models.Room, error) {
	set := bson.M{"updatedAt": time.Now().UTC().Truncate(time.Millisecond)}
	if req.Name != nil {
		set["name"] = *req.Name
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.IsPrivate != nil {
		set["isPrivate"] = *req.IsPrivate
	}
	return s.findAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

func (s *RoomStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete room: %w", classify(err, ErrDuplicateKey))
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember appends a member unless the user is the owner or already listed,
// in which case ErrMemberExists is returned.
func (s *RoomStore) AddMember(ctx context.Context, roomID primitive.ObjectID, member models.Member) (*models.Room, error) {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	filter := bson.M{
		"_id":          roomID,
		"owner":        bson.M{"$ne": member.User},
		"members.user": bson.M{"$ne": member.User},
	}
	update := bson.M{
		"$push": bson.M{"members": member},
		"$set":  bson.M{"updatedAt": member.JoinedAt},
	}

	room, err := s.findAndUpdate(ctx, filter, update)
	if errors.Is(err, ErrNotFound) {
		if _, lookupErr := s.FindRoomByID(ctx, roomID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrMemberExists
	}
	return room, err
}

// RemoveMember drops userID from the member list.
func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID primitive.ObjectID) (*models.Room, error) {
	filter := bson.M{"_id": roomID, "members.user": userID}
	update := bson.M{
		"$pull": bson.M{"members": bson.M{"user": userID}},
		"$set":  bson.M{"updatedAt": time.Now().UTC().Truncate(time.Millisecond)},
	}
	return s.findAndUpdate(ctx, filter, update)
}

// UpdateMemberRole changes the role of a listed member.
func (s *RoomStore) UpdateMemberRole(ctx context.Context, roomID, userID primitive.ObjectID, role models.Role) (*models.Room, error) {
	filter := bson.M{"_id": roomID, "members.user": userID}
	update := bson.M{"$set": bson.M{
		"members.$.role": role,
		"updatedAt":      time.Now().UTC().Truncate(time.Millisecond),
	}}
	return s.findAndUpdate(ctx, filter, update)
}

func (s *RoomStore) findAndUpdate(ctx context.Context, filter, update bson.M) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var room models.Room
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&room); err != nil {
		return nil, classify(err, ErrDuplicateKey)
	}
	return &room, nil
}
