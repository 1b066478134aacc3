// Package canvasclient speaks the room channel protocol from Go. A Client
// joins one room, mirrors its canvas in a canvas.Board and tracks its own
// operations until the server acknowledges them.
package canvasclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"realtime-canvas/backend/canvas"
	"realtime-canvas/backend/models"
	ws "realtime-canvas/backend/websocket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const writeWait = 10 * time.Second

var (
	ErrClosed        = errors.New("canvasclient: connection closed")
	ErrNotJoined     = errors.New("canvasclient: not joined to a room")
	ErrNothingToUndo = errors.New("canvasclient: nothing to undo")
	ErrNothingToRedo = errors.New("canvasclient: nothing to redo")
)

// ServerError is an error event sent by the server.
type ServerError struct {
	RoomID  string
	Message string
}

func (e *ServerError) Error() string {
	return "canvasclient: server error: " + e.Message
}

// Rejection is a negative op-ack.
type Rejection struct {
	OpID    string
	Message string
}

// Client is one connection to the channel endpoint.
type Client struct {
	conn       *websocket.Conn
	credential string
	log        *logrus.Entry
	writeMu    sync.Mutex

	mu        sync.Mutex
	changed   chan struct{}
	done      chan struct{}
	err       error
	channelID string
	roomID    string
	self      models.PresenceUser
	role      models.Role
	board     *canvas.Board
	pending   map[string]*models.Operation
	rejected  []Rejection
	ephemeral int
	presence  []models.PresenceUser
	cursors   map[string]ws.CursorEvent
	chat      []models.ChatEvent
	errs      []ServerError
}

// Dial connects to url (ws:// or wss://) and waits for the server greeting.
// credential is presented on every join.
func Dial(ctx context.Context, url, credential string, header http.Header) (*Client, error) {
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:       conn,
		credential: credential,
		log:        logrus.WithField("component", "canvasclient"),
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
		board:      canvas.NewBoard(),
		pending:    make(map[string]*models.Operation),
		cursors:    make(map[string]ws.CursorEvent),
	}
	go c.readLoop()

	if err := c.wait(ctx, func() bool { return c.channelID != "" }); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Close ends the connection and waits for the reader to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		c.notifyLocked()
		c.mu.Unlock()
		close(c.done)
	}()
	for {
		var env ws.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.err = fmt.Errorf("%w: %w", ErrClosed, err)
				c.mu.Unlock()
			}
			return
		}
		if err := c.handle(env); err != nil {
			c.log.WithError(err).WithField("event", env.Event).Warn("Dropping malformed frame")
		}
	}
}

func (c *Client) handle(env ws.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.notifyLocked()

	switch env.Event {
	case ws.EventConnected:
		var ev ws.ConnectedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.channelID = ev.ChannelID
	case ws.EventJoined:
		var ev ws.JoinedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if ev.RoomID != c.roomID {
			c.board = canvas.NewBoard()
			clear(c.pending)
		}
		c.roomID, c.self, c.role = ev.RoomID, ev.User, ev.Role
	case ws.EventPresence:
		var ev ws.PresenceEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if ev.RoomID == c.roomID {
			c.presence = ev.Users
		}
	case ws.EventOperation:
		var op models.Operation
		if err := json.Unmarshal(env.Data, &op); err != nil {
			return err
		}
		c.board.Apply(&op)
	case ws.EventOpAck:
		var ack ws.OpAck
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return err
		}
		op := c.pending[ack.ClientOpID]
		delete(c.pending, ack.ClientOpID)
		if ack.Status == ws.AckError {
			c.rejected = append(c.rejected, Rejection{OpID: ack.ClientOpID, Message: ack.Message})
			c.rollbackLocked(op)
		} else if ack.Persisted != nil && !*ack.Persisted {
			c.ephemeral++
		}
	case ws.EventCursor:
		var ev ws.CursorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.cursors[ev.UserID] = ev
	case ws.EventChat:
		var ev models.ChatEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.chat = append(c.chat, ev)
	case ws.EventChatHistory:
		var history []models.ChatEvent
		if err := json.Unmarshal(env.Data, &history); err != nil {
			return err
		}
		c.chat = history
	case ws.EventLeft:
		c.roomID = ""
		c.presence = nil
	case ws.EventError:
		var ev ws.ErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.errs = append(c.errs, ServerError{RoomID: ev.RoomID, Message: ev.Message})
	}
	return nil
}

// rollbackLocked takes a rejected operation back off the board so it
// matches what the rest of the room saw. Rejected moves are left alone; the
// stroke's draw:end carries every point. c.mu must be held.
func (c *Client) rollbackLocked(op *models.Operation) {
	if op == nil {
		return
	}
	switch op.Type {
	case models.OpDrawStart, models.OpShapeStart, models.OpTextAdd, models.OpImageAdd:
		c.board.Revert(op.OpID)
	case models.OpUndo, models.OpRedo:
		t, ok := op.Payload.(*models.TargetPayload)
		if !ok {
			return
		}
		inverse := models.OpRedo
		if op.Type == models.OpRedo {
			inverse = models.OpUndo
		}
		c.board.Apply(&models.Operation{OpID: op.OpID, Type: inverse, Payload: &models.TargetPayload{TargetOpID: t.TargetOpID}})
	}
}

// notifyLocked wakes every waiter. c.mu must be held.
func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// wait blocks until cond holds. cond runs with c.mu held.
func (c *Client) wait(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		if cond() {
			c.mu.Unlock()
			return nil
		}
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return err
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitFor blocks until cond holds. cond is re-evaluated after every inbound
// frame and may call the client's accessors.
func (c *Client) WaitFor(ctx context.Context, cond func(*Client) bool) error {
	for {
		c.mu.Lock()
		changed, closed := c.changed, c.err
		c.mu.Unlock()

		if cond(c) {
			return nil
		}
		if closed != nil {
			return closed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) emit(event string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{event, data}); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Join enters roomID and returns once the server confirmed it. A client is
// in at most one room; joining another leaves the first.
func (c *Client) Join(ctx context.Context, roomID string) error {
	c.mu.Lock()
	current, seenErrs := c.roomID, len(c.errs)
	c.mu.Unlock()
	if current == roomID {
		return nil
	}
	if current != "" {
		if err := c.Leave(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		seenErrs = len(c.errs)
		c.mu.Unlock()
	}

	if err := c.emit(ws.EventJoin, ws.JoinRequest{RoomID: roomID, Credential: c.credential}); err != nil {
		return err
	}
	var failure *ServerError
	err := c.wait(ctx, func() bool {
		for _, e := range c.errs[seenErrs:] {
			if e.RoomID == roomID {
				failure = &e
				return true
			}
		}
		return c.roomID == roomID
	})
	if err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	return nil
}

// Leave exits the current room.
func (c *Client) Leave(ctx context.Context) error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	if err := c.emit(ws.EventLeave, ws.LeaveRequest{RoomID: roomID}); err != nil {
		return err
	}
	return c.wait(ctx, func() bool { return c.roomID != roomID })
}

// Replay folds persisted history, typically fetched from the REST history
// endpoint, into the board of the joined room. Operations already seen
// live are skipped by the board.
func (c *Client) Replay(ops []models.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range ops {
		c.board.Apply(&ops[i])
	}
}

func (c *Client) room() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return "", ErrNotJoined
	}
	return c.roomID, nil
}

// submit records op as pending and sends it. With local set the op is
// applied to the board first.
func (c *Client) submit(op *models.Operation, local bool) error {
	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	roomID := c.roomID
	if op.OpID == "" {
		op.OpID = uuid.NewString()
	}
	if id, err := primitive.ObjectIDFromHex(c.self.ID); err == nil {
		op.CreatedBy = id
	}
	if local {
		c.board.Apply(op)
	}
	c.pending[op.OpID] = op
	c.mu.Unlock()

	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return err
	}
	return c.emit(ws.EventOperation, ws.OperationRequest{
		OpID:    op.OpID,
		OpType:  op.Type,
		RoomID:  roomID,
		Payload: payload,
	})
}

// Sync waits until every submitted operation has been acknowledged.
func (c *Client) Sync(ctx context.Context) error {
	return c.wait(ctx, func() bool { return len(c.pending) == 0 })
}
