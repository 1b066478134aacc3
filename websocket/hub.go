package websocket

import (
	"sync"
	"sync/atomic"
)

// Message is a frame addressed either to one client (Target) or to every
// client bound to RoomID except Exclude.
type Message struct {
	RoomID  string
	Data    []byte
	Exclude *Client
	Target  *Client
}

type binding struct {
	client *Client
	roomID string
	join   bool
}

// Hub owns the set of live clients and their room bindings. All mutation
// happens on the Run goroutine; frames enqueued by one goroutine are
// delivered in the order they were enqueued.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	bindings   chan binding
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex // guards reads of clients/rooms from Stats
	relayed atomic.Uint64
	dropped atomic.Uint64
	// ephemeral counts operations and chat messages relayed without being stored
	ephemeral atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bindings:   make(chan binding),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			client.log.Debug("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case b := <-h.bindings:
			h.mu.Lock()
			if h.clients[b.client] {
				if b.join {
					if _, ok := h.rooms[b.roomID]; !ok {
						h.rooms[b.roomID] = make(map[*Client]bool)
					}
					h.rooms[b.roomID][b.client] = true
				} else {
					h.unbind(b.client, b.roomID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg)
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) deliver(msg Message) {
	if msg.Target != nil {
		if h.clients[msg.Target] {
			h.push(msg.Target, msg.Data)
		}
		return
	}
	for client := range h.rooms[msg.RoomID] {
		if client == msg.Exclude {
			continue
		}
		h.push(client, msg.Data)
	}
	h.relayed.Add(1)
}

// push never blocks the hub; a client whose buffer is full is dropped.
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.dropped.Add(1)
		client.log.Warn("Client send buffer full, dropping connection")
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for roomID := range h.rooms {
		h.unbind(client, roomID)
	}
	close(client.send)
	client.log.Debug("Client unregistered")
}

func (h *Hub) unbind(client *Client, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Stop ends Run and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Bind(c *Client, roomID string) {
	select {
	case h.bindings <- binding{client: c, roomID: roomID, join: true}:
	case <-h.done:
	}
}

func (h *Hub) Unbind(c *Client, roomID string) {
	select {
	case h.bindings <- binding{client: c, roomID: roomID}:
	case <-h.done:
	}
}

// Broadcast sends data to every client in roomID except exclude.
func (h *Hub) Broadcast(roomID string, data []byte, exclude *Client) {
	h.enqueue(Message{RoomID: roomID, Data: data, Exclude: exclude})
}

// SendTo sends data to a single client.
func (h *Hub) SendTo(c *Client, data []byte) {
	h.enqueue(Message{Data: data, Target: c})
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Clients             int    `json:"clients"`
	Rooms               int    `json:"rooms"`
	Relayed             uint64 `json:"relayed"`
	DroppedClients      uint64 `json:"droppedClients"`
	EphemeralOperations uint64 `json:"ephemeralOperations"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Clients:             len(h.clients),
		Rooms:               len(h.rooms),
		Relayed:             h.relayed.Load(),
		DroppedClients:      h.dropped.Load(),
		EphemeralOperations: h.ephemeral.Load(),
	}
}

// RoomSize returns the number of clients bound to roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
