package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"realtime-canvas/backend/database"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStore struct {
	purged []primitive.ObjectID
	err    error
}

func (s *fakeStore) PurgeRoomData(_ context.Context, roomID primitive.ObjectID) (database.PurgeResult, error) {
	if s.err != nil {
		return database.PurgeResult{}, s.err
	}
	s.purged = append(s.purged, roomID)
	return database.PurgeResult{Operations: 3, Messages: 2, Snapshots: 1}, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: purgeQueue, Type: task.Type()}, nil
}

func TestNewRoomPurgeTask(t *testing.T) {
	roomID := primitive.NewObjectID()
	task, err := NewRoomPurgeTask(roomID)
	require.NoError(t, err)
	assert.Equal(t, TypeRoomPurge, task.Type())

	var payload RoomPurgePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, roomID.Hex(), payload.RoomID)
}

func TestAsynqPurgerEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	roomID := primitive.NewObjectID()

	require.NoError(t, NewAsynqPurger(enq).PurgeRoom(context.Background(), roomID))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeRoomPurge, enq.tasks[0].Type())
}

func TestPurgeHandlerProcessesTask(t *testing.T) {
	store := &fakeStore{}
	roomID := primitive.NewObjectID()
	task, err := NewRoomPurgeTask(roomID)
	require.NoError(t, err)

	require.NoError(t, NewPurgeHandler(store).ProcessTask(context.Background(), task))
	assert.Equal(t, []primitive.ObjectID{roomID}, store.purged)
}

func TestPurgeHandlerSkipsRetryOnBadPayload(t *testing.T) {
	h := NewPurgeHandler(&fakeStore{})

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeRoomPurge, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeRoomPurge, []byte(`{"roomId":"nope"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPurgeHandlerRetriesStorageErrors(t *testing.T) {
	store := &fakeStore{err: database.ErrStorageUnavailable}
	task, err := NewRoomPurgeTask(primitive.NewObjectID())
	require.NoError(t, err)

	err = NewPurgeHandler(store).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestInlinePurger(t *testing.T) {
	store := &fakeStore{}
	roomID := primitive.NewObjectID()
	require.NoError(t, NewInlinePurger(store).PurgeRoom(context.Background(), roomID))
	assert.Len(t, store.purged, 1)
}

func TestWorkerMuxRoutesPurge(t *testing.T) {
	store := &fakeStore{}
	ws := NewWorkerServer(asynq.RedisClientOpt{Addr: "localhost:6379"}, store)
	task, err := NewRoomPurgeTask(primitive.NewObjectID())
	require.NoError(t, err)

	require.NoError(t, ws.Mux().ProcessTask(context.Background(), task))
	assert.Len(t, store.purged, 1)
}
