package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"realtime-canvas/backend/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer. Strokes carry point arrays.
	maxMessageSize = 256 * 1024

	sendBufferSize    = 256
	inboundBufferSize = 64
)

// NewUpgrader returns an upgrader accepting the given origins. An empty
// list accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// Client is one websocket connection. Its frames are decoded by readPump
// and handled one at a time by the protocol, so a connection's events are
// processed in arrival order.
type Client struct {
	ID      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	inbound chan Inbound
	limiter *ratelimit.Limiter
	log     *logrus.Entry
}

func newClient(hub *Hub, conn *websocket.Conn, limiter *ratelimit.Limiter) *Client {
	id := uuid.NewString()
	return &Client{
		ID:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		inbound: make(chan Inbound, inboundBufferSize),
		limiter: limiter,
		log:     logrus.WithFields(logrus.Fields{"component": "websocket", "channel_id": id}),
	}
}

// readPump decodes frames into the inbound queue until the connection
// fails or the peer exhausts its rate limit violation budget. Frames over
// the rate are still queued, marked Throttled, so the protocol can shed
// them with a proper reply.
func (c *Client) readPump() {
	defer close(c.inbound)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("Unexpected websocket close")
			} else {
				c.log.Debug("Client disconnected")
			}
			return
		}

		throttled := false
		if c.limiter != nil {
			allowed, exhausted := c.limiter.Allow()
			if exhausted {
				c.log.WithField("violations", c.limiter.Violations()).Warn("Rate limit exhausted, closing connection")
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
					time.Now().Add(writeWait))
				return
			}
			throttled = !allowed
		}

		var env Envelope
		if err := json.Unmarshal(p, &env); err != nil || env.Event == "" {
			c.reject("malformed frame")
			continue
		}
		c.inbound <- Inbound{Event: env.Event, Data: env.Data, Throttled: throttled}
	}
}

func (c *Client) reject(message string) {
	data, err := encode(EventError, ErrorEvent{Message: message})
	if err != nil {
		return
	}
	c.hub.SendTo(c, data)
}

// writePump forwards hub frames to the connection and keeps it alive with
// pings. It exits when the hub closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("Error writing message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
