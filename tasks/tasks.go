// Package tasks defines background jobs and the ways they are dispatched.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realtime-canvas/backend/database"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// TypeRoomPurge removes the operations, chat and snapshots of a deleted room.
	TypeRoomPurge = "room:purge"

	purgeQueue    = "low"
	purgeMaxRetry = 5
	purgeTimeout  = 2 * time.Minute
)

type RoomPurgePayload struct {
	RoomID string `json:"roomId"`
}

// NewRoomPurgeTask builds a purge task for roomID.
func NewRoomPurgeTask(roomID primitive.ObjectID) (*asynq.Task, error) {
	payload, err := json.Marshal(RoomPurgePayload{RoomID: roomID.Hex()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomPurge, payload,
		asynq.Queue(purgeQueue),
		asynq.MaxRetry(purgeMaxRetry),
		asynq.Timeout(purgeTimeout),
	), nil
}

// RoomDataPurger deletes everything stored under a room. *database.Mongo
// satisfies it.
type RoomDataPurger interface {
	PurgeRoomData(ctx context.Context, roomID primitive.ObjectID) (database.PurgeResult, error)
}

// Purger schedules removal of a deleted room's data.
type Purger interface {
	PurgeRoom(ctx context.Context, roomID primitive.ObjectID) error
}

// Enqueuer is the subset of *asynq.Client used to dispatch tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPurger hands purges to the worker through Redis.
type AsynqPurger struct {
	client Enqueuer
}

func NewAsynqPurger(client Enqueuer) *AsynqPurger {
	return &AsynqPurger{client: client}
}

func (p *AsynqPurger) PurgeRoom(ctx context.Context, roomID primitive.ObjectID) error {
	task, err := NewRoomPurgeTask(roomID)
	if err != nil {
		return fmt.Errorf("build purge task: %w", err)
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue purge task: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"component": "tasks",
		"room_id":   roomID.Hex(),
		"task_id":   info.ID,
		"queue":     info.Queue,
	}).Info("Room purge enqueued")
	return nil
}

// InlinePurger purges synchronously. It is used when no Redis is configured.
type InlinePurger struct {
	store RoomDataPurger
}

func NewInlinePurger(store RoomDataPurger) *InlinePurger {
	return &InlinePurger{store: store}
}

func (p *InlinePurger) PurgeRoom(ctx context.Context, roomID primitive.ObjectID) error {
	res, err := p.store.PurgeRoomData(ctx, roomID)
	if err != nil {
		return err
	}
	logPurge(logrus.WithField("component", "tasks"), roomID, res)
	return nil
}

// PurgeHandler processes TypeRoomPurge tasks.
type PurgeHandler struct {
	store RoomDataPurger
}

func NewPurgeHandler(store RoomDataPurger) *PurgeHandler {
	return &PurgeHandler{store: store}
}

func (h *PurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload RoomPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode purge payload: %v: %w", err, asynq.SkipRetry)
	}
	roomID, err := primitive.ObjectIDFromHex(payload.RoomID)
	if err != nil {
		return fmt.Errorf("invalid room id %q: %w", payload.RoomID, asynq.SkipRetry)
	}

	log := logrus.WithFields(logrus.Fields{"component": "worker", "task_type": t.Type()})
	if rw := t.ResultWriter(); rw != nil {
		log = log.WithField("task_id", rw.TaskID())
	}

	res, err := h.store.PurgeRoomData(ctx, roomID)
	if err != nil {
		log.WithError(err).WithField("room_id", payload.RoomID).Warn("Room purge failed")
		return err
	}
	logPurge(log, roomID, res)
	return nil
}

func logPurge(log *logrus.Entry, roomID primitive.ObjectID, res database.PurgeResult) {
	log.WithFields(logrus.Fields{
		"room_id":    roomID.Hex(),
		"operations": res.Operations,
		"messages":   res.Messages,
		"snapshots":  res.Snapshots,
	}).Info("Room data purged")
}
