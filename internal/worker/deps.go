package worker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lienzo/internal/config"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/ports"
	"lienzo/internal/worker/engine"
)

type Deps struct {
	Pool     *pgxpool.Pool
	RDB      *redis.Client
	Engine   *engine.Client
	SP       ports.StorageProvider
	Cfg      *config.Config
	ClientID string
	Log      *logger.Logger
}
