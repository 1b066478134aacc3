package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatMessage is a persisted room chat line. The author's name and email are
// copied at write time so history reads need no user lookup.
type ChatMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    primitive.ObjectID `bson:"room"`
	UserID    primitive.ObjectID `bson:"user"`
	UserName  string             `bson:"userName"`
	UserEmail string             `bson:"userEmail"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// ChatAuthor is the author block of a chat event.
type ChatAuthor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ChatEvent is the wire form of a chat message, used for live relay and history alike.
type ChatEvent struct {
	ID        string     `json:"_id"`
	RoomID    string     `json:"roomId"`
	Content   string     `json:"content"`
	User      ChatAuthor `json:"user"`
	Timestamp time.Time  `json:"timestamp"`
}

// Event converts m to its wire form.
func (m *ChatMessage) Event() ChatEvent {
	return ChatEvent{
		ID:      m.ID.Hex(),
		RoomID:  m.RoomID.Hex(),
		Content: m.Content,
		User: ChatAuthor{
			ID:    m.UserID.Hex(),
			Name:  m.UserName,
			Email: m.UserEmail,
		},
		Timestamp: m.CreatedAt,
	}
}

// MaxChatLength bounds a single chat message in bytes.
const MaxChatLength = 2000
