package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := newClient(h, nil, nil)
	h.Register(c)
	return c
}

// next returns the next frame queued for c.
func next(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Envelope{}
}

// waitFor skips frames until one carries event.
func waitFor(t *testing.T, c *Client, event string) Envelope {
	t.Helper()
	for {
		env := next(t, c)
		if env.Event == event {
			return env
		}
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubBroadcastRespectsRoomsAndExclude(t *testing.T) {
	h := startHub(t)
	a, b, other := attach(t, h), attach(t, h), attach(t, h)
	h.Bind(a, "r1")
	h.Bind(b, "r1")
	h.Bind(other, "r2")

	frame, err := encode(EventCursor, CursorEvent{RoomID: "r1"})
	require.NoError(t, err)
	h.Broadcast("r1", frame, a)

	assert.Equal(t, EventCursor, next(t, b).Event)
	expectNothing(t, a)
	expectNothing(t, other)
}

func TestHubSendToUnknownClientIsIgnored(t *testing.T) {
	h := startHub(t)
	stray := newClient(h, nil, nil)
	h.SendTo(stray, []byte(`{"event":"error"}`))
	expectNothing(t, stray)
}

func TestHubUnbindAndUnregister(t *testing.T) {
	h := startHub(t)
	a := attach(t, h)
	h.Bind(a, "r1")
	require.Eventually(t, func() bool { return h.RoomSize("r1") == 1 }, time.Second, 10*time.Millisecond)

	h.Unbind(a, "r1")
	require.Eventually(t, func() bool { return h.RoomSize("r1") == 0 }, time.Second, 10*time.Millisecond)

	h.Unregister(a)
	require.Eventually(t, func() bool { return h.Stats().Clients == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-a.send
	assert.False(t, ok, "send channel should be closed")

	// Unregistering twice is harmless.
	h.Unregister(a)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := newClient(h, nil, nil)
	slow.send = make(chan []byte) // never has room
	h.Register(slow)
	fast := attach(t, h)
	h.Bind(slow, "r1")
	h.Bind(fast, "r1")

	h.Broadcast("r1", []byte(`{"event":"operation"}`), nil)

	assert.Equal(t, EventOperation, next(t, fast).Event)
	require.Eventually(t, func() bool { return h.Stats().DroppedClients == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.RoomSize("r1"))
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestHubStopClosesClients(t *testing.T) {
	h := NewHub()
	go h.Run()
	c := attach(t, h)
	h.Stop()

	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on stop")
	}
	// Calls after stop return instead of blocking.
	h.Broadcast("r1", nil, nil)
	h.Bind(c, "r1")
}
