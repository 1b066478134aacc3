package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"realtime-canvas/backend/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	stats := websocket.Stats{Clients: 3, Rooms: 2, Relayed: 40, EphemeralOperations: 1}

	tests := []struct {
		name     string
		db       Pinger
		status   string
		database string
	}{
		{"healthy", fakePinger{}, "ok", "connected"},
		{"database down", fakePinger{err: errors.New("no reachable servers")}, "degraded", "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", tt.db, fakeHub{stats: stats})
			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rr.Code)
			resp := decodeBody[HealthResponse](t, rr)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.database, resp.Database)
			assert.Equal(t, "test", resp.Environment)
			assert.Equal(t, stats, resp.Hub)
		})
	}
}

func TestHealthIsPublic(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/health", "/api/health"} {
		rr := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
