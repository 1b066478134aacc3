package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-canvas/backend/access"
	"realtime-canvas/backend/config"
	"realtime-canvas/backend/database"
	"realtime-canvas/backend/handlers"
	"realtime-canvas/backend/middleware"
	"realtime-canvas/backend/session"
	"realtime-canvas/backend/tasks"
	"realtime-canvas/backend/utils"
	"realtime-canvas/backend/websocket"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetupLogger(cfg.AppEnv, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	proxies, err := middleware.ParseProxyList(cfg.TrustedProxies)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid TRUSTED_PROXIES")
	}

	ctx := context.Background()
	mongo, err := database.ConnectMongoDB(ctx, cfg.MongoDBURI, cfg.DBName)
	if err != nil {
		logrus.WithError(err).Fatal("Could not connect to MongoDB")
	}
	defer mongo.Disconnect()
	if err := mongo.EnsureIndexes(ctx); err != nil {
		logrus.WithError(err).Fatal("Could not create indexes")
	}

	users := database.NewUserStore(mongo.DB)
	rooms := database.NewRoomStore(mongo.DB)
	operations := database.NewOperationStore(mongo.DB)
	gate := access.NewGate(rooms)
	verifier := utils.NewTokenVerifier(cfg.JWTSecret)

	// Redis backs presence, rate limiting and background purges. Without it
	// every concern falls back to its in-process variant.
	var (
		registry  session.Registry = session.NewMemoryRegistry()
		purger    tasks.Purger     = tasks.NewInlinePurger(mongo)
		rateLimit func(http.Handler) http.Handler
		worker    *tasks.WorkerServer
		queue     *asynq.Client
	)
	if rdb := connectRedis(ctx, cfg.RedisURL); rdb != nil {
		defer rdb.Close()
		registry = session.NewRedisRegistry(rdb, cfg.RedisKeyPrefix, cfg.PresenceTTL)
		rateLimit = middleware.RateLimit(rdb, cfg.RedisKeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow, proxies)

		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logrus.WithError(err).Fatal("Invalid REDIS_URL for task queue")
		}
		queue = asynq.NewClient(redisOpt)
		purger = tasks.NewAsynqPurger(queue)
		worker = tasks.NewWorkerServer(redisOpt, mongo)
		if err := worker.Start(); err != nil {
			logrus.WithError(err).Fatal("Could not start worker server")
		}
	}

	hub := websocket.NewHub()
	go hub.Run()

	protocol := websocket.NewProtocol(hub, websocket.Dependencies{
		Verifier:   verifier,
		Users:      users,
		Gate:       gate,
		Registry:   registry,
		Operations: operations,
		Chat:       database.NewChatStore(mongo.DB),
	}, websocket.Options{AllowedOrigins: []string{cfg.ClientURL}})

	auth := handlers.NewAuthHandler(users, cfg.JWTSecret, cfg.JWTExpiry)
	routes := handlers.Routes{
		Auth:      auth,
		Rooms:     handlers.NewRoomHandler(rooms, users, purger),
		Canvas:    handlers.NewCanvasHandler(gate, operations, database.NewSnapshotStore(mongo.DB)),
		Health:    handlers.NewHealthHandler(cfg.AppEnv, mongo, hub),
		WebSocket: protocol,
		Protect:   middleware.JWTMiddleware(verifier),
		RateLimit: rateLimit,
	}
	if cfg.GoogleOAuthEnabled() {
		routes.OAuth = handlers.NewGoogleOAuthHandler(auth, cfg.GoogleClientID, cfg.GoogleClientSecret,
			cfg.GoogleCallbackURL, cfg.ClientURL, cfg.IsProduction())
	}

	router := mux.NewRouter()
	handlers.Register(router, routes)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.ClientURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(middleware.RequestLogger(proxies)(router))

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logrus.WithFields(logrus.Fields{"addr": serverAddr, "env": cfg.AppEnv}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatalf("Could not listen on %s", serverAddr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logrus.WithField("signal", sig.String()).Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	hub.Stop()
	if worker != nil {
		worker.Shutdown()
	}
	if queue != nil {
		_ = queue.Close()
	}

	logrus.Info("Server exited gracefully")
}

// connectRedis returns a client for url, or nil when url is empty or the
// server cannot be reached.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logrus.Info("REDIS_URL not set, using in-process presence and purges")
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid REDIS_URL")
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable, using in-process presence and purges")
		_ = rdb.Close()
		return nil
	}
	logrus.Info("Connected to Redis")
	return rdb
}
