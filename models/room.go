package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role is a member's permission level inside a room.
type Role string

const (
	RoleOwner  Role = "owner" // implicit, never stored on a member
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r can be assigned to a listed member.
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

// CanDraw reports whether the role may submit canvas operations.
func (r Role) CanDraw() bool {
	return r == RoleOwner || r == RoleEditor
}

// Member is a listed participant of a room. The owner is never a Member.
type Member struct {
	User     primitive.ObjectID `bson:"user" json:"user"`
	Role     Role               `bson:"role" json:"role"`
	JoinedAt time.Time          `bson:"joinedAt" json:"joinedAt"`
}

// Room is a named canvas with an owner and members.
type Room struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description" json:"description"`
	Owner       primitive.ObjectID `bson:"owner" json:"owner"`
	Members     []Member           `bson:"members" json:"members"`
	IsPrivate   bool               `bson:"isPrivate" json:"isPrivate"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsOwner reports whether userID owns the room.
func (r *Room) IsOwner(userID primitive.ObjectID) bool {
	return r.Owner == userID
}

// IsMember reports whether userID is a listed member.
func (r *Room) IsMember(userID primitive.ObjectID) bool {
	_, ok := r.memberRole(userID)
	return ok
}

// HasAccess reports whether userID is the owner or a listed member.
func (r *Room) HasAccess(userID primitive.ObjectID) bool {
	return r.IsOwner(userID) || r.IsMember(userID)
}

// RoleOf returns the effective role of userID, or false when the user has no access.
func (r *Room) RoleOf(userID primitive.ObjectID) (Role, bool) {
	if r.IsOwner(userID) {
		return RoleOwner, true
	}
	return r.memberRole(userID)
}

func (r *Room) memberRole(userID primitive.ObjectID) (Role, bool) {
	for _, m := range r.Members {
		if m.User == userID {
			return m.Role, true
		}
	}
	return "", false
}

// CreateRoomRequest is the body of POST /api/rooms.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
}

// UpdateRoomRequest is the body of PUT /api/rooms/{id}. Nil fields are left untouched.
type UpdateRoomRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsPrivate   *bool   `json:"isPrivate"`
}

// MemberRequest is the body of the member management endpoints.
type MemberRequest struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role,omitempty"`
}

// JoinRoomRequest is the body of POST /api/rooms/join.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}
