package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"realtime-canvas/backend/access"
	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"
	"realtime-canvas/backend/ratelimit"
	"realtime-canvas/backend/session"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

//go:generate mockgen -destination=../mocks/mock_websocket.go -package=mocks realtime-canvas/backend/websocket CredentialVerifier,UserFinder,AccessGate,OperationLog,ChatStore

// CredentialVerifier turns a join credential into a user id.
type CredentialVerifier interface {
	Verify(token string) (primitive.ObjectID, error)
}

type UserFinder interface {
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// AccessGate is satisfied by *access.Gate.
type AccessGate interface {
	Authorize(ctx context.Context, roomID string, userID primitive.ObjectID) (*models.Room, error)
}

// OperationLog is the append-only store of durable operations.
type OperationLog interface {
	Append(ctx context.Context, op *models.Operation) (primitive.ObjectID, error)
}

type ChatStore interface {
	InsertChatMessage(ctx context.Context, msg *models.ChatMessage) error
	RecentChatMessages(ctx context.Context, roomID primitive.ObjectID, n int) ([]models.ChatMessage, error)
}

// Dependencies are the collaborators a Protocol needs.
type Dependencies struct {
	Verifier   CredentialVerifier
	Users      UserFinder
	Gate       AccessGate
	Registry   session.Registry
	Operations OperationLog
	Chat       ChatStore
}

// Options tune a Protocol. Zero values select the defaults.
type Options struct {
	EventTimeout   time.Duration
	TouchInterval  time.Duration
	AllowedOrigins []string
	// NewLimiter builds the per-connection inbound limiter. Nil selects
	// ratelimit.NewDefault.
	NewLimiter func() *ratelimit.Limiter
}

const (
	defaultEventTimeout  = 5 * time.Second
	defaultTouchInterval = 30 * time.Second

	// throttleNoticeInterval spaces the rate limit errors sent for shed
	// frames that carry no operation id.
	throttleNoticeInterval = time.Second
)

const msgRateLimited = "rate limit exceeded"

// State is the lifecycle position of one connection.
type State int

const (
	StateUnauthenticated State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type joinedRoom struct {
	id   primitive.ObjectID
	role models.Role
}

// conn is the per-connection state. It is only touched by the goroutine
// running Serve for that connection.
type conn struct {
	client *Client
	user   *models.User
	rooms  map[string]*joinedRoom
	closed bool

	lastThrottleNotice time.Time
}

func (cs *conn) state() State {
	switch {
	case cs.closed:
		return StateClosed
	case len(cs.rooms) > 0:
		return StateJoined
	}
	return StateUnauthenticated
}

// Protocol runs the room protocol over hub clients.
type Protocol struct {
	hub  *Hub
	deps Dependencies

	eventTimeout  time.Duration
	touchInterval time.Duration
	newLimiter    func() *ratelimit.Limiter
	upgrader      *websocket.Upgrader
}

func NewProtocol(hub *Hub, deps Dependencies, opts Options) *Protocol {
	p := &Protocol{
		hub:           hub,
		deps:          deps,
		eventTimeout:  opts.EventTimeout,
		touchInterval: opts.TouchInterval,
		newLimiter:    opts.NewLimiter,
		upgrader:      NewUpgrader(opts.AllowedOrigins),
	}
	if p.eventTimeout <= 0 {
		p.eventTimeout = defaultEventTimeout
	}
	if p.touchInterval <= 0 {
		p.touchInterval = defaultTouchInterval
	}
	if p.newLimiter == nil {
		p.newLimiter = ratelimit.NewDefault
	}
	return p
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (p *Protocol) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to upgrade to websocket")
		return
	}

	client := newClient(p.hub, ws, p.newLimiter())
	p.hub.Register(client)
	go client.writePump()
	go client.readPump()

	p.Serve(client)
	p.hub.Unregister(client)
}

// Serve handles the client's inbound events one at a time until its
// inbound queue is closed, then releases its presence.
func (p *Protocol) Serve(client *Client) {
	cs := &conn{client: client, rooms: make(map[string]*joinedRoom)}
	p.send(cs, EventConnected, ConnectedEvent{ChannelID: client.ID, Timestamp: time.Now()})

	ticker := time.NewTicker(p.touchInterval)
	defer ticker.Stop()
	for {
		select {
		case in, ok := <-client.inbound:
			if !ok {
				p.disconnect(cs)
				return
			}
			p.dispatch(cs, in)
		case <-ticker.C:
			p.touch(cs)
		}
	}
}

func (p *Protocol) dispatch(cs *conn, in Inbound) {
	log := cs.client.log.WithField("event", in.Event)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic while handling event")
			p.sendError(cs, "", "internal error")
		}
	}()

	// Over the rate, transient operations are nacked and durable ones run.
	if in.Throttled && in.Event != EventOperation {
		p.throttleNotice(cs)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.eventTimeout)
	defer cancel()

	switch in.Event {
	case EventJoin:
		p.handleJoin(ctx, cs, in.Data)
	case EventLeave:
		p.handleLeave(ctx, cs, in.Data)
	case EventOperation:
		p.handleOperation(ctx, cs, in.Data, in.Throttled)
	case EventCursor:
		p.handleCursor(cs, in.Data)
	case EventChat:
		p.handleChat(ctx, cs, in.Data)
	case EventChatHistoryRequest:
		p.handleChatHistory(ctx, cs, in.Data)
	default:
		p.sendError(cs, "", fmt.Sprintf("unknown event %q", in.Event))
	}
}

func (p *Protocol) handleJoin(ctx context.Context, cs *conn, data json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendError(cs, "", "invalid join payload")
		return
	}
	if req.RoomID == "" {
		p.sendError(cs, "", "roomId is required")
		return
	}
	log := cs.client.log.WithField("room_id", req.RoomID)

	userID, err := p.deps.Verifier.Verify(req.Credential)
	if err != nil {
		log.WithError(err).Debug("Join rejected: bad credential")
		p.sendError(cs, req.RoomID, "authentication failed")
		return
	}
	if cs.user != nil && cs.user.ID != userID {
		p.sendError(cs, req.RoomID, "credential does not match connection user")
		return
	}

	user, err := p.deps.Users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.sendError(cs, req.RoomID, "user not found")
		} else {
			log.WithError(err).Error("Join failed: user lookup")
			p.sendError(cs, req.RoomID, "authentication failed")
		}
		return
	}

	room, err := p.deps.Gate.Authorize(ctx, req.RoomID, userID)
	if err != nil {
		log.WithError(err).Info("Join denied")
		p.sendError(cs, req.RoomID, accessMessage(err))
		return
	}
	role, _ := room.RoleOf(userID)

	presenceUser := presenceOf(user)
	users, regErr := p.deps.Registry.Join(ctx, req.RoomID, cs.client.ID, presenceUser)
	if regErr != nil {
		log.WithError(regErr).Warn("Presence registry unavailable on join")
	}

	cs.user = user
	cs.rooms[req.RoomID] = &joinedRoom{id: room.ID, role: role}
	p.hub.Bind(cs.client, req.RoomID)

	p.send(cs, EventJoined, JoinedEvent{RoomID: req.RoomID, User: presenceUser, Role: role})
	if regErr != nil {
		// the rest of the room keeps its last known list
		p.send(cs, EventPresence, PresenceEvent{RoomID: req.RoomID, Users: []models.PresenceUser{presenceUser}})
	} else {
		p.broadcast(req.RoomID, EventPresence, PresenceEvent{RoomID: req.RoomID, Users: users}, nil)
	}
	log.WithFields(logrus.Fields{"user_id": presenceUser.ID, "role": role}).Info("Joined room")
}

func (p *Protocol) handleLeave(ctx context.Context, cs *conn, data json.RawMessage) {
	var req LeaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendError(cs, "", "invalid leave payload")
		return
	}
	if _, ok := cs.rooms[req.RoomID]; !ok {
		p.sendError(cs, req.RoomID, "not joined to room")
		return
	}
	p.leaveRoom(ctx, cs, req.RoomID)
	p.send(cs, EventLeft, LeftEvent{RoomID: req.RoomID})
}

// leaveRoom drops the binding and announces the new presence list. It
// never fails; registry errors are logged.
func (p *Protocol) leaveRoom(ctx context.Context, cs *conn, roomID string) {
	delete(cs.rooms, roomID)
	p.hub.Unbind(cs.client, roomID)

	users, err := p.deps.Registry.Leave(ctx, roomID, cs.client.ID)
	if err != nil {
		cs.client.log.WithError(err).WithField("room_id", roomID).Warn("Presence registry unavailable on leave")
		return
	}
	p.broadcast(roomID, EventPresence, PresenceEvent{RoomID: roomID, Users: users}, cs.client)
}

func (p *Protocol) disconnect(cs *conn) {
	ctx, cancel := context.WithTimeout(context.Background(), p.eventTimeout)
	defer cancel()
	for roomID := range cs.rooms {
		p.leaveRoom(ctx, cs, roomID)
	}
	cs.closed = true
	cs.client.log.Debug("Connection closed")
}

func (p *Protocol) touch(cs *conn) {
	if len(cs.rooms) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.eventTimeout)
	defer cancel()
	user := presenceOf(cs.user)
	for roomID := range cs.rooms {
		if err := p.deps.Registry.Touch(ctx, roomID, cs.client.ID, user); err != nil {
			cs.client.log.WithError(err).WithField("room_id", roomID).Debug("Presence touch failed")
		}
	}
}

// throttleNotice reports shed frames, at most once per interval.
func (p *Protocol) throttleNotice(cs *conn) {
	now := time.Now()
	if now.Sub(cs.lastThrottleNotice) < throttleNoticeInterval {
		return
	}
	cs.lastThrottleNotice = now
	p.sendError(cs, "", msgRateLimited)
}

func (p *Protocol) handleOperation(ctx context.Context, cs *conn, data json.RawMessage, throttled bool) {
	var req OperationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.ack(cs, OpAck{Status: AckError, Message: "invalid operation payload"})
		return
	}
	nack := func(msg string) {
		p.ack(cs, OpAck{RoomID: req.RoomID, ClientOpID: req.OpID, Status: AckError, Message: msg})
	}

	room, ok := cs.rooms[req.RoomID]
	if !ok {
		nack("not joined to room")
		return
	}
	if !room.role.CanDraw() {
		nack("read-only access")
		return
	}
	if !req.OpType.IsValid() {
		nack(fmt.Sprintf("unknown operation type %q", req.OpType))
		return
	}
	payload, err := models.DecodePayload(req.OpType, req.Payload)
	if err != nil {
		nack(err.Error())
		return
	}
	op := &models.Operation{
		RoomID:    room.id,
		OpID:      req.OpID,
		Type:      req.OpType,
		Payload:   payload,
		CreatedBy: cs.user.ID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := op.Validate(); err != nil {
		nack(err.Error())
		return
	}

	log := cs.client.log.WithFields(logrus.Fields{"room_id": req.RoomID, "op_id": op.OpID, "op_type": op.Type})

	if op.Type.IsTransient() {
		if throttled {
			nack(msgRateLimited)
			return
		}
		p.broadcast(req.RoomID, EventOperation, op, cs.client)
		p.ack(cs, OpAck{RoomID: req.RoomID, ClientOpID: op.OpID, Status: AckOK})
		return
	}

	id, err := p.deps.Operations.Append(ctx, op)
	switch {
	case err == nil:
		p.relayOperation(cs, req.RoomID, op)
		p.ack(cs, OpAck{RoomID: req.RoomID, ClientOpID: op.OpID, ServerOpID: id.Hex(), Status: AckOK})
	case errors.Is(err, database.ErrDuplicateOperation):
		log.Debug("Duplicate operation ignored")
		nack("duplicate operation")
	case errors.Is(err, database.ErrStorageUnavailable):
		op.ID = primitive.NilObjectID
		p.hub.ephemeral.Add(1)
		log.WithError(err).WithField("persistence", "ephemeral").Warn("Storage unavailable, relaying operation without persisting")
		p.relayOperation(cs, req.RoomID, op)
		persisted := false
		p.ack(cs, OpAck{RoomID: req.RoomID, ClientOpID: op.OpID, Status: AckOK, Persisted: &persisted})
	default:
		log.WithError(err).Error("Failed to persist operation")
		nack("failed to persist operation")
	}
}

// relayOperation sends op to the rest of the room. A clear also goes back
// to the sender.
func (p *Protocol) relayOperation(cs *conn, roomID string, op *models.Operation) {
	exclude := cs.client
	if op.Type == models.OpClear {
		exclude = nil
	}
	p.broadcast(roomID, EventOperation, op, exclude)
}

func (p *Protocol) handleCursor(cs *conn, data json.RawMessage) {
	var req CursorRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendError(cs, "", "invalid cursor payload")
		return
	}
	if _, ok := cs.rooms[req.RoomID]; !ok {
		p.sendError(cs, req.RoomID, "not joined to room")
		return
	}
	p.broadcast(req.RoomID, EventCursor, CursorEvent{
		RoomID:    req.RoomID,
		UserID:    cs.user.ID.Hex(),
		UserName:  cs.user.Name,
		Position:  req.Position,
		Timestamp: time.Now(),
	}, cs.client)
}

func (p *Protocol) handleChat(ctx context.Context, cs *conn, data json.RawMessage) {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendError(cs, "", "invalid chat payload")
		return
	}
	content := strings.TrimSpace(req.Content)
	switch {
	case content == "":
		p.sendError(cs, req.RoomID, "message content is required")
		return
	case len(content) > models.MaxChatLength:
		p.sendError(cs, req.RoomID, fmt.Sprintf("message exceeds %d characters", models.MaxChatLength))
		return
	}
	room, ok := p.recheck(ctx, cs, req.RoomID)
	if !ok {
		return
	}

	msg := &models.ChatMessage{
		RoomID:    room.id,
		UserID:    cs.user.ID,
		UserName:  cs.user.Name,
		UserEmail: cs.user.Email,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := p.deps.Chat.InsertChatMessage(ctx, msg); err != nil {
		log := cs.client.log.WithError(err).WithField("room_id", req.RoomID)
		if !errors.Is(err, database.ErrStorageUnavailable) {
			log.Error("Failed to save chat message")
			p.sendError(cs, req.RoomID, "failed to send message")
			return
		}
		msg.ID = primitive.NewObjectID()
		p.hub.ephemeral.Add(1)
		log.WithField("persistence", "ephemeral").Warn("Storage unavailable, relaying chat without persisting")
	}
	p.broadcast(req.RoomID, EventChat, msg.Event(), nil)
}

func (p *Protocol) handleChatHistory(ctx context.Context, cs *conn, data json.RawMessage) {
	var req ChatHistoryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.sendError(cs, "", "invalid chat history payload")
		return
	}
	room, ok := p.recheck(ctx, cs, req.RoomID)
	if !ok {
		return
	}
	messages, err := p.deps.Chat.RecentChatMessages(ctx, room.id, database.ChatHistoryLimit)
	if err != nil {
		cs.client.log.WithError(err).WithField("room_id", req.RoomID).Error("Failed to load chat history")
		p.sendError(cs, req.RoomID, "failed to load chat history")
		return
	}
	events := make([]models.ChatEvent, 0, len(messages))
	for i := range messages {
		events = append(events, messages[i].Event())
	}
	p.send(cs, EventChatHistory, events)
}

// recheck re-validates room access for chat. A definitive denial also
// removes the connection from the room.
func (p *Protocol) recheck(ctx context.Context, cs *conn, roomID string) (*joinedRoom, bool) {
	room, ok := cs.rooms[roomID]
	if !ok {
		p.sendError(cs, roomID, "not joined to room")
		return nil, false
	}
	r, err := p.deps.Gate.Authorize(ctx, roomID, cs.user.ID)
	if err != nil {
		cs.client.log.WithError(err).WithField("room_id", roomID).Info("Access re-check failed")
		if errors.Is(err, access.ErrRoomNotFound) || (errors.Is(err, access.ErrAccessDenied) && !errors.Is(err, database.ErrStorageUnavailable)) {
			p.leaveRoom(ctx, cs, roomID)
		}
		p.sendError(cs, roomID, accessMessage(err))
		return nil, false
	}
	if role, ok := r.RoleOf(cs.user.ID); ok {
		room.role = role
	}
	return room, true
}

func presenceOf(u *models.User) models.PresenceUser {
	return models.PresenceUser{ID: u.ID.Hex(), Name: u.Name, Email: u.Email}
}

func accessMessage(err error) string {
	switch {
	case errors.Is(err, access.ErrInvalidRoomID):
		return "invalid room id"
	case errors.Is(err, access.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, database.ErrStorageUnavailable):
		return "room access check unavailable"
	}
	return "access denied"
}

func (p *Protocol) send(cs *conn, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		cs.client.log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return
	}
	p.hub.SendTo(cs.client, frame)
}

func (p *Protocol) broadcast(roomID, event string, data any, exclude *Client) {
	frame, err := encode(event, data)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return
	}
	p.hub.Broadcast(roomID, frame, exclude)
}

func (p *Protocol) ack(cs *conn, a OpAck) {
	p.send(cs, EventOpAck, a)
}

func (p *Protocol) sendError(cs *conn, roomID, message string) {
	p.send(cs, EventError, ErrorEvent{Message: message, RoomID: roomID})
}
