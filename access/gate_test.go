package access

import (
	"context"
	"errors"
	"testing"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/mocks"
	"realtime-canvas/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"
)

func TestAuthorize(t *testing.T) {
	owner, member, stranger := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	room := &models.Room{
		ID:      primitive.NewObjectID(),
		Owner:   owner,
		Members: []models.Member{{User: member, Role: models.RoleViewer}},
	}

	ctrl := gomock.NewController(t)
	finder := mocks.NewMockRoomFinder(ctrl)
	finder.EXPECT().FindRoomByID(gomock.Any(), room.ID).Return(room, nil).AnyTimes()
	gate := NewGate(finder)
	ctx := context.Background()

	got, err := gate.Authorize(ctx, room.ID.Hex(), owner)
	require.NoError(t, err)
	assert.Same(t, room, got)

	assert.True(t, gate.HasAccess(ctx, room.ID.Hex(), member))

	_, err = gate.Authorize(ctx, room.ID.Hex(), stranger)
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthorizeFailsClosed(t *testing.T) {
	userID := primitive.NewObjectID()
	missing, broken := primitive.NewObjectID(), primitive.NewObjectID()

	ctrl := gomock.NewController(t)
	finder := mocks.NewMockRoomFinder(ctrl)
	finder.EXPECT().FindRoomByID(gomock.Any(), missing).Return(nil, database.ErrNotFound)
	finder.EXPECT().FindRoomByID(gomock.Any(), broken).
		Return(nil, errors.Join(database.ErrStorageUnavailable, errors.New("server selection timeout")))
	gate := NewGate(finder)
	ctx := context.Background()

	_, err := gate.Authorize(ctx, "not-an-object-id", userID)
	assert.ErrorIs(t, err, ErrInvalidRoomID)

	_, err = gate.Authorize(ctx, missing.Hex(), userID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = gate.Authorize(ctx, broken.Hex(), userID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, err, database.ErrStorageUnavailable)
}

func TestHasAccessIsStableAcrossReads(t *testing.T) {
	member := primitive.NewObjectID()
	room := &models.Room{ID: primitive.NewObjectID(), Owner: primitive.NewObjectID(),
		Members: []models.Member{{User: member, Role: models.RoleEditor}}}

	ctrl := gomock.NewController(t)
	finder := mocks.NewMockRoomFinder(ctrl)
	finder.EXPECT().FindRoomByID(gomock.Any(), room.ID).Return(room, nil).Times(3)
	gate := NewGate(finder)

	for i := 0; i < 3; i++ {
		assert.True(t, gate.HasAccess(context.Background(), room.ID.Hex(), member))
	}
	assert.Len(t, room.Members, 1)
}
