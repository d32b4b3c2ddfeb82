package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lienzo/internal/pkg/logger"
	"lienzo/internal/repositories"
	"lienzo/internal/worker/queue"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	QueueName string
	Log       *logger.Logger
}

type Handler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	q    *queue.RedisQueue
	jobs *repositories.JobRepository
	log  *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	return &Handler{
		pool: d.Pool,
		rdb:  d.RDB,
		q:    queue.NewRedisQueue(d.RDB, d.QueueName),
		jobs: repositories.NewJobRepository(d.Pool),
		log:  log.WithComponent("httpapi"),
	}
}
