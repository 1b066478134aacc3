package handlers

import (
	"context"
	"net/http"
	"time"

	"realtime-canvas/backend/websocket"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HubStats interface {
	Stats() websocket.Stats
}

type HealthHandler struct {
	started time.Time
	env     string
	db      Pinger
	hub     HubStats
}

func NewHealthHandler(env string, db Pinger, hub HubStats) *HealthHandler {
	return &HealthHandler{started: time.Now(), env: env, db: db, hub: hub}
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Environment string          `json:"environment"`
	Uptime      string          `json:"uptime"`
	Database    string          `json:"database"`
	Hub         websocket.Stats `json:"hub"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Health handles GET /health. A database outage is reported as degraded
// with status 200.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "ok",
		Environment: h.env,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Database:    "connected",
		Hub:         h.hub.Stats(),
		Timestamp:   time.Now().UTC(),
	}
	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
	}
	sendJSON(w, http.StatusOK, resp)
}
