package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lienzo/internal/config"
	"lienzo/internal/httpapi/handlers"
	"lienzo/internal/httpkit"
	"lienzo/internal/pkg/logger"
	"lienzo/internal/pkg/middleware"
)

type Deps struct {
	Pool *pgxpool.Pool
	RDB  *redis.Client
	Cfg  *config.Config
	Log  *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Timeout(60 * time.Second))

	// ---- CORS (frontend futuro) ----
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   splitCSV(d.Cfg.API.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Pool:      d.Pool,
		RDB:       d.RDB,
		QueueName: d.Cfg.Queue.Name,
		Log:       log,
	})

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- JOBS ----
	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)

	// ---- ARTIFACTS ----
	r.Get("/jobs/{jobId}/artifacts", h.ListJobArtifacts)
	r.Get("/jobs/{jobId}/artifacts/{filename}", h.GetJobArtifact)

	return r
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
