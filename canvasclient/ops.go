package canvasclient

import (
	"context"
	"slices"

	"realtime-canvas/backend/canvas"
	"realtime-canvas/backend/models"
	ws "realtime-canvas/backend/websocket"

	"github.com/google/uuid"
)

// MoveBatch is the number of points Draw packs into one draw:move.
const MoveBatch = 32

// Draw sends a freehand stroke through points (a flat x,y list) as
// draw:start, draw:move frames of up to MoveBatch points and a finalizing
// draw:end. It returns the stroke's element id.
func (c *Client) Draw(points []float64, brush models.Brush) (string, error) {
	if len(points) < 2 || len(points)%2 != 0 {
		return "", models.ErrInvalidPayload
	}
	id := uuid.NewString()
	start := &models.Operation{Type: models.OpDrawStart, Payload: &models.StrokePayload{ID: id, Points: slices.Clone(points[:2]), Brush: brush}}
	if err := c.submit(start, true); err != nil {
		return "", err
	}
	for batch := range slices.Chunk(points[2:], 2*MoveBatch) {
		move := &models.Operation{Type: models.OpDrawMove, Payload: &models.StrokePayload{ID: id, Points: slices.Clone(batch)}}
		if err := c.submit(move, true); err != nil {
			return "", err
		}
	}
	end := &models.Operation{Type: models.OpDrawEnd, Payload: &models.StrokePayload{ID: id, Points: slices.Clone(points), Brush: brush}}
	return id, c.submit(end, true)
}

// Shape places a finished vector shape.
func (c *Client) Shape(shape models.Shape) (string, error) {
	id := uuid.NewString()
	if err := c.submit(&models.Operation{Type: models.OpShapeStart, Payload: &models.ShapePayload{ID: id, Shape: shape}}, true); err != nil {
		return "", err
	}
	return id, c.submit(&models.Operation{Type: models.OpShapeEnd, Payload: &models.ShapePayload{ID: id, Shape: shape}}, true)
}

func (c *Client) Text(text models.Text) (string, error) {
	id := uuid.NewString()
	return id, c.submit(&models.Operation{Type: models.OpTextAdd, Payload: &models.TextPayload{ID: id, Text: text}}, true)
}

func (c *Client) Image(image models.Image) (string, error) {
	id := uuid.NewString()
	return id, c.submit(&models.Operation{Type: models.OpImageAdd, Payload: &models.ImagePayload{ID: id, Image: image}}, true)
}

// Undo reverts this participant's board's latest applied operation.
func (c *Client) Undo() error {
	return c.history(ErrNothingToUndo, (*canvas.Board).Undo)
}

func (c *Client) Redo() error {
	return c.history(ErrNothingToRedo, (*canvas.Board).Redo)
}

func (c *Client) history(empty error, step func(*canvas.Board) (*models.Operation, bool)) error {
	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	op, ok := step(c.board)
	if !ok {
		c.mu.Unlock()
		return empty
	}
	target := op.Payload.(*models.TargetPayload).TargetOpID
	c.mu.Unlock()

	return c.submit(&models.Operation{OpID: op.OpID, Type: op.Type, Payload: &models.TargetPayload{TargetOpID: target}}, false)
}

// Clear wipes the canvas for everyone. The local board is cleared when the
// server echoes the operation back.
func (c *Client) Clear() error {
	return c.submit(&models.Operation{Type: models.OpClear, Payload: &models.ClearPayload{}}, false)
}

func (c *Client) Chat(content string) error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	return c.emit(ws.EventChat, ws.ChatRequest{RoomID: roomID, Content: content})
}

// RequestChatHistory asks for the room's recent messages; they replace
// Messages when they arrive.
func (c *Client) RequestChatHistory() error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	return c.emit(ws.EventChatHistoryRequest, ws.ChatHistoryRequest{RoomID: roomID})
}

func (c *Client) Cursor(x, y float64) error {
	roomID, err := c.room()
	if err != nil {
		return err
	}
	return c.emit(ws.EventCursor, ws.CursorRequest{RoomID: roomID, Position: ws.Position{X: x, Y: y}})
}

// ChatAndWait sends content and waits for its echo.
func (c *Client) ChatAndWait(ctx context.Context, content string) error {
	c.mu.Lock()
	seen := len(c.chat)
	c.mu.Unlock()
	if err := c.Chat(content); err != nil {
		return err
	}
	return c.wait(ctx, func() bool {
		for _, m := range c.chat[min(seen, len(c.chat)):] {
			if m.Content == content && m.User.ID == c.self.ID {
				return true
			}
		}
		return false
	})
}
