package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func logOp(room primitive.ObjectID, seq int, opID string, t models.OpType, p models.Payload) models.Operation {
	return models.Operation{
		ID:        primitive.NewObjectID(),
		RoomID:    room,
		OpID:      opID,
		Type:      t,
		Payload:   p,
		CreatedAt: epoch.Add(time.Duration(seq) * time.Second),
	}
}

func textOp(room primitive.ObjectID, seq int, id string) models.Operation {
	return logOp(room, seq, "op-"+id, models.OpTextAdd, &models.TextPayload{ID: id, Text: models.Text{Content: id}})
}

// canvasRoom creates a room owned by a fresh user and returns its id with the owner's token.
func (e *env) canvasRoom(t *testing.T) (primitive.ObjectID, string) {
	t.Helper()
	_, token := e.user(t, "owner")
	room := e.createRoom(t, token, models.CreateRoomRequest{Name: "Board"})
	return room.ID, token
}

func TestGetHistory(t *testing.T) {
	e := newEnv(t)
	roomID, token := e.canvasRoom(t)
	other := primitive.NewObjectID()
	for i := range 5 {
		e.ops.ops = append(e.ops.ops, textOp(roomID, i, fmt.Sprint("t", i)))
	}
	e.ops.ops = append(e.ops.ops, textOp(other, 9, "elsewhere"))
	base := "/api/canvas/" + roomID.Hex() + "/history"

	rr := e.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ops := decodeBody[[]models.Operation](t, rr)
	require.Len(t, ops, 5)
	assert.Equal(t, "op-t0", ops[0].OpID)
	assert.IsType(t, &models.TextPayload{}, ops[0].Payload)

	since := epoch.Add(2 * time.Second).UnixMilli()
	rr = e.do(t, http.MethodGet, fmt.Sprintf("%s?since=%d&limit=1", base, since), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	ops = decodeBody[[]models.Operation](t, rr)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-t3", ops[0].OpID)

	for _, q := range []string{"?since=yesterday", "?since=-5", "?limit=0", "?limit=lots"} {
		rr = e.do(t, http.MethodGet, base+q, token, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestCanvasAccessErrors(t *testing.T) {
	e := newEnv(t)
	roomID, _ := e.canvasRoom(t)
	_, stranger := e.user(t, "stranger")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"bad id", "/api/canvas/xyz/history", http.StatusBadRequest},
		{"unknown room", "/api/canvas/" + primitive.NewObjectID().Hex() + "/history", http.StatusNotFound},
		{"not a member", "/api/canvas/" + roomID.Hex() + "/state", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodGet, tt.path, stranger, nil)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	rr := e.do(t, http.MethodGet, "/api/canvas/"+roomID.Hex()+"/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetHistoryStorageUnavailable(t *testing.T) {
	e := newEnv(t)
	roomID, token := e.canvasRoom(t)
	e.ops.err = database.ErrStorageUnavailable

	rr := e.do(t, http.MethodGet, "/api/canvas/"+roomID.Hex()+"/history", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetStateReplaysLog(t *testing.T) {
	e := newEnv(t)
	roomID, token := e.canvasRoom(t)
	undo := func(seq int, target string) models.Operation {
		return logOp(roomID, seq, fmt.Sprint("undo-", seq), models.OpUndo, &models.TargetPayload{TargetOpID: target})
	}
	e.ops.ops = []models.Operation{
		textOp(roomID, 0, "gone"),
		logOp(roomID, 1, "wipe", models.OpClear, &models.ClearPayload{}),
		textOp(roomID, 2, "a"),
		textOp(roomID, 3, "b"),
		textOp(roomID, 4, "c"),
		undo(5, "op-b"),
	}

	rr := e.do(t, http.MethodGet, "/api/canvas/"+roomID.Hex()+"/state", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	type element struct {
		ID   string `json:"id"`
		OpID string `json:"opId"`
	}
	state := decodeBody[struct {
		RoomID     string    `json:"roomId"`
		Elements   []element `json:"elements"`
		Operations int       `json:"operations"`
	}](t, rr)
	assert.Equal(t, roomID.Hex(), state.RoomID)
	assert.Equal(t, 6, state.Operations)
	assert.Equal(t, []element{{"a", "op-a"}, {"c", "op-c"}}, state.Elements)
}

func TestSnapshots(t *testing.T) {
	e := newEnv(t)
	owner, token := e.user(t, "owner")
	viewer, viewerTok := e.user(t, "viewer")
	room := e.createRoom(t, token, models.CreateRoomRequest{Name: "Board"})
	rr := e.do(t, http.MethodPost, "/api/rooms/"+room.ID.Hex()+"/members", token, models.MemberRequest{UserID: viewer.ID.Hex(), Role: models.RoleViewer})
	require.Equal(t, http.StatusOK, rr.Code)
	base := "/api/canvas/" + room.ID.Hex() + "/snapshots"

	rr = e.do(t, http.MethodGet, base+"/latest", viewerTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "null\n", rr.Body.String())

	rr = e.do(t, http.MethodPost, base, viewerTok, models.CreateSnapshotRequest{ImageData: "data:image/png;base64,AA"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, base, token, models.CreateSnapshotRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var created []models.Snapshot
	for _, img := range []string{"first", "second"} {
		rr = e.do(t, http.MethodPost, base, token, models.CreateSnapshotRequest{ImageData: img, Description: img})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		created = append(created, decodeBody[models.Snapshot](t, rr))
	}
	assert.Equal(t, 1, created[0].Version)
	assert.Equal(t, 2, created[1].Version)
	assert.Equal(t, owner.ID, created[1].CreatedBy)

	rr = e.do(t, http.MethodGet, base+"/latest", viewerTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "second", decodeBody[models.Snapshot](t, rr).ImageData)

	rr = e.do(t, http.MethodGet, base+"/"+created[0].ID.Hex(), viewerTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decodeBody[models.Snapshot](t, rr).Version)

	rr = e.do(t, http.MethodGet, base+"/"+primitive.NewObjectID().Hex(), viewerTok, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = e.do(t, http.MethodGet, base+"/nope", viewerTok, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
