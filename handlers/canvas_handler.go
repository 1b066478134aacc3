package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"realtime-canvas/backend/access"
	"realtime-canvas/backend/canvas"
	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxSnapshotBody = 10 << 20

// RoomAuthorizer is satisfied by *access.Gate.
type RoomAuthorizer interface {
	Authorize(ctx context.Context, roomID string, userID primitive.ObjectID) (*models.Room, error)
}

// OperationReader is satisfied by *database.OperationStore.
type OperationReader interface {
	Query(ctx context.Context, roomID primitive.ObjectID, since *time.Time, limit int) ([]models.Operation, error)
	All(ctx context.Context, roomID primitive.ObjectID, fn func(*models.Operation) error) error
}

// SnapshotStore is satisfied by *database.SnapshotStore.
type SnapshotStore interface {
	Create(ctx context.Context, snap *models.Snapshot) error
	Latest(ctx context.Context, roomID primitive.ObjectID) (*models.Snapshot, error)
	FindByID(ctx context.Context, roomID, id primitive.ObjectID) (*models.Snapshot, error)
}

type CanvasHandler struct {
	gate      RoomAuthorizer
	ops       OperationReader
	snapshots SnapshotStore
}

func NewCanvasHandler(gate RoomAuthorizer, ops OperationReader, snapshots SnapshotStore) *CanvasHandler {
	return &CanvasHandler{gate: gate, ops: ops, snapshots: snapshots}
}

// CanvasState is the replayed visible content of a room.
type CanvasState struct {
	RoomID     string           `json:"roomId"`
	Elements   []canvas.Element `json:"elements"`
	Operations int              `json:"operations"`
}

// authorize checks the caller against {roomId}.
func (h *CanvasHandler) authorize(ctx context.Context, w http.ResponseWriter, r *http.Request) (*models.Room, primitive.ObjectID, bool) {
	userID, ok := callerID(w, r)
	if !ok {
		return nil, userID, false
	}
	room, err := h.gate.Authorize(ctx, mux.Vars(r)["roomId"], userID)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrInvalidRoomID):
			sendJSONError(w, "Invalid room ID format", http.StatusBadRequest)
		case errors.Is(err, access.ErrRoomNotFound):
			sendJSONError(w, "Room not found", http.StatusNotFound)
		case errors.Is(err, database.ErrStorageUnavailable):
			sendJSONError(w, "Storage unavailable", http.StatusServiceUnavailable)
		default:
			sendJSONError(w, "Access denied", http.StatusForbidden)
		}
		return nil, userID, false
	}
	return room, userID, true
}

// GetHistory handles GET /api/canvas/{roomId}/history?since=<unix ms>&limit=.
func (h *CanvasHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since *time.Time
	if raw := q.Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			sendJSONError(w, "since must be a unix timestamp in milliseconds", http.StatusBadRequest)
			return
		}
		t := time.UnixMilli(ms).UTC()
		since = &t
	}
	limit := database.DefaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, database.MaxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, _, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	ops, err := h.ops.Query(ctx, room.ID, since, limit)
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	sendJSON(w, http.StatusOK, ops)
}

// GetState handles GET /api/canvas/{roomId}/state by replaying the room's
// whole log, so clears, undos and redos are already folded in.
func (h *CanvasHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	room, _, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	board := canvas.NewBoard()
	count := 0
	err := h.ops.All(ctx, room.ID, func(op *models.Operation) error {
		board.Apply(op)
		count++
		return nil
	})
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	sendJSON(w, http.StatusOK, CanvasState{RoomID: room.ID.Hex(), Elements: board.Elements(), Operations: count})
}

// CreateSnapshot handles POST /api/canvas/{roomId}/snapshots.
func (h *CanvasHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, userID, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	if role, _ := room.RoleOf(userID); !role.CanDraw() {
		sendJSONError(w, "Read-only access", http.StatusForbidden)
		return
	}

	var req models.CreateSnapshotRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBody)).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ImageData == "" {
		sendJSONError(w, "imageData is required", http.StatusBadRequest)
		return
	}

	snap := &models.Snapshot{
		RoomID:      room.ID,
		ImageData:   req.ImageData,
		Thumbnail:   req.ThumbnailData,
		Description: req.Description,
		CreatedBy:   userID,
	}
	if err := h.snapshots.Create(ctx, snap); err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID.Hex(), "version": snap.Version}).Info("Snapshot created")
	sendJSON(w, http.StatusCreated, snap)
}

// GetLatestSnapshot handles GET /api/canvas/{roomId}/snapshots/latest. A
// room without snapshots yields null.
func (h *CanvasHandler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, _, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	snap, err := h.snapshots.Latest(ctx, room.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		sendJSON(w, http.StatusOK, nil)
	case err != nil:
		sendStoreError(w, err, "Snapshot not found")
	default:
		sendJSON(w, http.StatusOK, snap)
	}
}

// GetSnapshot handles GET /api/canvas/{roomId}/snapshots/{snapshotId}.
func (h *CanvasHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshotID, ok := parseObjectID(w, mux.Vars(r)["snapshotId"], "snapshot")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, _, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	snap, err := h.snapshots.FindByID(ctx, room.ID, snapshotID)
	if err != nil {
		sendStoreError(w, err, "Snapshot not found")
		return
	}
	sendJSON(w, http.StatusOK, snap)
}
