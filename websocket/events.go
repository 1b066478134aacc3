package websocket

import (
	"encoding/json"
	"time"

	"realtime-canvas/backend/models"
)

// Client to server events.
const (
	EventJoin               = "join"
	EventLeave              = "leave"
	EventOperation          = "operation"
	EventCursor             = "cursor"
	EventChat               = "chat"
	EventChatHistoryRequest = "chat-history-request"
)

// Server to client events. EventOperation, EventCursor and EventChat are
// also relayed under their own names.
const (
	EventConnected   = "connected"
	EventJoined      = "joined"
	EventLeft        = "left"
	EventPresence    = "presence"
	EventOpAck       = "op-ack"
	EventChatHistory = "chat-history"
	EventError       = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded client frame waiting for the connection's handler.
type Inbound struct {
	Event string
	Data  json.RawMessage
	// Throttled marks a frame that arrived over the connection's rate.
	Throttled bool
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

type JoinRequest struct {
	RoomID     string `json:"roomId"`
	Credential string `json:"credential"`
}

type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

type OperationRequest struct {
	OpID    string          `json:"opId"`
	OpType  models.OpType   `json:"opType"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CursorRequest struct {
	RoomID   string   `json:"roomId"`
	Position Position `json:"position"`
}

type ChatRequest struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type ChatHistoryRequest struct {
	RoomID string `json:"roomId"`
}

type ConnectedEvent struct {
	ChannelID string    `json:"channelId"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinedEvent struct {
	RoomID string              `json:"roomId"`
	User   models.PresenceUser `json:"user"`
	Role   models.Role         `json:"role"`
}

type LeftEvent struct {
	RoomID string `json:"roomId"`
}

type PresenceEvent struct {
	RoomID string                `json:"roomId"`
	Users  []models.PresenceUser `json:"users"`
}

// Ack statuses.
const (
	AckOK    = "ok"
	AckError = "error"
)

type OpAck struct {
	RoomID     string `json:"roomId,omitempty"`
	ClientOpID string `json:"clientOpId"`
	ServerOpID string `json:"serverOpId,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	// Persisted is false when a durable operation was relayed without
	// being stored because storage was unavailable.
	Persisted *bool `json:"persisted,omitempty"`
}

type CursorEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
}
