package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lienzo/internal/config"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/pkg/shutdown"
	"lienzo/internal/storage"
	"lienzo/internal/worker"
	"lienzo/internal/worker/engine"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("LIENZO_CONFIG"))
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "lienzo-worker",
		AddSource:   cfg.Logging.AddSource,
	})

	if cfg.Database.URL == "" {
		log.Error("missing required configuration", "key", "database.url")
		os.Exit(1)
	}

	// The stream client id scopes engine events to this worker. A fresh id
	// per process keeps parallel workers from seeing each other's events.
	clientID := cfg.Stream.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	log.Info("starting lienzo worker",
		"version", "0.1.0",
		"engine_host", cfg.Engine.Host,
		"client_id", clientID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	// Initialize storage provider
	sp, err := storage.NewProvider(cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	if sp != nil {
		log.Info("storage provider initialized", "provider", sp.Provider())
	} else {
		log.Info("no storage provider configured, artifacts will be returned inline")
	}

	eng := engine.NewClient(cfg.Engine.Host, log)

	// Best effort snapshot of the engine environment for the startup log.
	if stats, err := eng.SystemStats(ctx); err == nil {
		log.Info("engine system stats", "stats", stats)
	} else {
		log.Warn("engine system stats unavailable", "error", err.Error())
	}

	// A signal cancels the loop context; resources close on the way out.
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)
	shutdownMgr.Register("worker-loop", func(context.Context) error {
		cancel()
		return nil
	})
	go shutdownMgr.Wait()

	deps := worker.Deps{
		Pool:     pool,
		RDB:      rdb,
		Engine:   eng,
		SP:       sp,
		Cfg:      cfg,
		ClientID: clientID,
		Log:      log,
	}

	if err := worker.Run(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
		log.LogFatal("worker loop failed", err)
	}
	log.Info("worker stopped")
}
