package tasks

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// WorkerServer runs the asynq server that processes background tasks.
type WorkerServer struct {
	server *asynq.Server
	store  RoomDataPurger
	log    *logrus.Entry
}

func NewWorkerServer(redisOpt asynq.RedisConnOpt, store RoomDataPurger) *WorkerServer {
	log := logrus.WithField("component", "worker_server")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 3,
			purgeQueue: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.WithFields(logrus.Fields{
				"task_type": task.Type(),
				"retries":   retried,
				"max_retry": maxRetry,
			}).WithError(err).Error("Task failed")
		}),
	})
	return &WorkerServer{server: server, store: store, log: log}
}

// Mux returns the task routes served by the worker.
func (ws *WorkerServer) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRoomPurge, NewPurgeHandler(ws.store))
	return mux
}

// Start launches the worker's processors and returns. Signal handling is
// left to the caller, which stops the worker with Shutdown.
func (ws *WorkerServer) Start() error {
	ws.log.Info("Worker server starting")
	if err := ws.server.Start(ws.Mux()); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server")
	ws.server.Shutdown()
}
