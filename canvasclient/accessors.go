package canvasclient

import (
	"maps"
	"slices"

	"realtime-canvas/backend/canvas"
	"realtime-canvas/backend/models"
	ws "realtime-canvas/backend/websocket"
)

func (c *Client) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// RoomID returns the joined room, or "".
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) Self() models.PresenceUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Elements returns the visible canvas.
func (c *Client) Elements() []canvas.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Elements()
}

// Depth returns the sizes of the undo and redo stacks.
func (c *Client) Depth() (applied, undone int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Depth()
}

// Pending returns the number of operations awaiting an op-ack.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Rejected returns the operations the server refused.
func (c *Client) Rejected() []Rejection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rejected)
}

// Ephemeral counts operations acknowledged without being persisted.
func (c *Client) Ephemeral() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ephemeral
}

func (c *Client) Presence() []models.PresenceUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.presence)
}

// Cursors returns the latest cursor of every other participant by user id.
func (c *Client) Cursors() map[string]ws.CursorEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.cursors)
}

func (c *Client) Messages() []models.ChatEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.chat)
}

// Errors returns the error events received so far.
func (c *Client) Errors() []ServerError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errs)
}
