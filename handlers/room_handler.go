package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"
	"realtime-canvas/backend/tasks"
	"realtime-canvas/backend/utils"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxRoomNameLength = 100

// RoomStore is satisfied by *database.RoomStore.
type RoomStore interface {
	FindRoomByID(ctx context.Context, id primitive.ObjectID) (*models.Room, error)
	Create(ctx context.Context, room *models.Room) error
	ListForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Room, error)
	Update(ctx context.Context, id primitive.ObjectID, req models.UpdateRoomRequest) (*models.Room, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	AddMember(ctx context.Context, roomID primitive.ObjectID, member models.Member) (*models.Room, error)
	RemoveMember(ctx context.Context, roomID, userID primitive.ObjectID) (*models.Room, error)
	UpdateMemberRole(ctx context.Context, roomID, userID primitive.ObjectID, role models.Role) (*models.Room, error)
}

type RoomHandler struct {
	rooms  RoomStore
	users  UserStore
	purger tasks.Purger
}

func NewRoomHandler(rooms RoomStore, users UserStore, purger tasks.Purger) *RoomHandler {
	return &RoomHandler{rooms: rooms, users: users, purger: purger}
}

func parseObjectID(w http.ResponseWriter, raw, what string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		sendJSONError(w, "Invalid "+what+" ID format", http.StatusBadRequest)
		return primitive.NilObjectID, false
	}
	return id, true
}

func callerID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return primitive.NilObjectID, false
	}
	return userID, true
}

// loadRoom resolves the {id} path variable. With ownerOnly it also rejects
// non-owners; otherwise any member passes.
func (h *RoomHandler) loadRoom(ctx context.Context, w http.ResponseWriter, r *http.Request, userID primitive.ObjectID, ownerOnly bool) (*models.Room, bool) {
	roomID, ok := parseObjectID(w, mux.Vars(r)["id"], "room")
	if !ok {
		return nil, false
	}
	room, err := h.rooms.FindRoomByID(ctx, roomID)
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return nil, false
	}
	switch {
	case ownerOnly && !room.IsOwner(userID):
		sendJSONError(w, "Only the room owner can do this", http.StatusForbidden)
		return nil, false
	case !room.HasAccess(userID):
		sendJSONError(w, "Access denied", http.StatusForbidden)
		return nil, false
	}
	return room, true
}

// CreateRoom handles POST /api/rooms.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxRoomNameLength {
		sendJSONError(w, "Room name is required and must be at most 100 characters", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room := &models.Room{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Owner:       userID,
		IsPrivate:   req.IsPrivate,
	}
	if err := h.rooms.Create(ctx, room); err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	logrus.WithFields(logrus.Fields{"room_id": room.ID.Hex(), "user_id": userID.Hex()}).Info("Room created")
	sendJSON(w, http.StatusCreated, room)
}

// ListRooms handles GET /api/rooms.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rooms, err := h.rooms.ListForUser(ctx, userID)
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	sendJSON(w, http.StatusOK, rooms)
}

// GetRoom handles GET /api/rooms/{id}.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, false)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, room)
}

// UpdateRoom handles PUT /api/rooms/{id}.
func (h *RoomHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req models.UpdateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > maxRoomNameLength {
			sendJSONError(w, "Room name must be 1 to 100 characters", http.StatusBadRequest)
			return
		}
		req.Name = &name
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, true)
	if !ok {
		return
	}
	updated, err := h.rooms.Update(ctx, room.ID, req)
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// DeleteRoom handles DELETE /api/rooms/{id}. The room's canvas and chat
// are purged afterwards.
func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, true)
	if !ok {
		return
	}
	if err := h.rooms.Delete(ctx, room.ID); err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}

	log := logrus.WithField("room_id", room.ID.Hex())
	if err := h.purger.PurgeRoom(ctx, room.ID); err != nil {
		log.WithError(err).Error("Failed to purge room data")
	}
	log.Info("Room deleted")
	sendJSON(w, http.StatusOK, map[string]string{"message": "Room deleted"})
}

// AddMember handles POST /api/rooms/{id}/members.
func (h *RoomHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req models.MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	memberID, ok := parseObjectID(w, req.UserID, "user")
	if !ok {
		return
	}
	if req.Role == "" {
		req.Role = models.RoleEditor
	}
	if !req.Role.Valid() {
		sendJSONError(w, "Role must be editor or viewer", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, true)
	if !ok {
		return
	}
	if room.IsOwner(memberID) {
		sendJSONError(w, "The owner cannot be added as a member", http.StatusBadRequest)
		return
	}
	if _, err := h.users.FindUserByID(ctx, memberID); err != nil {
		sendStoreError(w, err, "User not found")
		return
	}

	updated, err := h.rooms.AddMember(ctx, room.ID, models.Member{User: memberID, Role: req.Role})
	if err != nil {
		if errors.Is(err, database.ErrMemberExists) {
			sendJSONError(w, "User already has access to room", http.StatusConflict)
			return
		}
		sendStoreError(w, err, "Room not found")
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// RemoveMember handles DELETE /api/rooms/{id}/members/{userId}. Owners may
// remove anyone; members may remove themselves.
func (h *RoomHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	memberID, ok := parseObjectID(w, mux.Vars(r)["userId"], "user")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, memberID != userID)
	if !ok {
		return
	}
	updated, err := h.rooms.RemoveMember(ctx, room.ID, memberID)
	if err != nil {
		sendStoreError(w, err, "Member not found")
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// UpdateMemberRole handles PUT /api/rooms/{id}/members/{userId}.
func (h *RoomHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	memberID, ok := parseObjectID(w, mux.Vars(r)["userId"], "user")
	if !ok {
		return
	}
	var req models.MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Role.Valid() {
		sendJSONError(w, "Role must be editor or viewer", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, ok := h.loadRoom(ctx, w, r, userID, true)
	if !ok {
		return
	}
	updated, err := h.rooms.UpdateMemberRole(ctx, room.ID, memberID, req.Role)
	if err != nil {
		sendStoreError(w, err, "Member not found")
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// JoinRoom handles POST /api/rooms/join. The caller becomes an editor of a
// public room; private rooms only admit users the owner added.
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req models.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	roomID, ok := parseObjectID(w, req.RoomID, "room")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	room, err := h.rooms.FindRoomByID(ctx, roomID)
	if err != nil {
		sendStoreError(w, err, "Room not found")
		return
	}
	if room.HasAccess(userID) {
		sendJSON(w, http.StatusOK, room)
		return
	}
	if room.IsPrivate {
		sendJSONError(w, "This room is private", http.StatusForbidden)
		return
	}

	updated, err := h.rooms.AddMember(ctx, roomID, models.Member{User: userID, Role: models.RoleEditor})
	switch {
	case errors.Is(err, database.ErrMemberExists):
		sendJSON(w, http.StatusOK, room)
	case err != nil:
		sendStoreError(w, err, "Room not found")
	default:
		logrus.WithFields(logrus.Fields{"room_id": roomID.Hex(), "user_id": userID.Hex()}).Info("User joined room")
		sendJSON(w, http.StatusOK, updated)
	}
}
