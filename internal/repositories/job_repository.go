package repositories

import (
	"context"
	"errors"
	"strings"

	"lienzo/internal/httpkit"
	"lienzo/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFound = errors.New("job not found")
var ErrJobExists = errors.New("job id already exists")

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO jobs (id, name, status, params_json, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, j.ID, nullIfEmpty(j.Name), j.Status, j.ParamsJSON, j.CreatedAt)

	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return ErrJobExists
		}
		return err
	}
	return nil
}

func (r *JobRepository) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	var (
		rows pgxRows
		err  error
	)

	if status != "" {
		rows, err = r.db.Query(ctx, `
			SELECT id, COALESCE(name,''), status, created_at, started_at, finished_at
			FROM jobs WHERE status=$1
			ORDER BY created_at DESC
			LIMIT $2
		`, status, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT id, COALESCE(name,''), status, created_at, started_at, finished_at
			FROM jobs
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Job, 0, limit)
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Name, &j.Status, &j.CreatedAt, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	err := r.db.QueryRow(ctx, `
		SELECT id, COALESCE(name,''), status, params_json,
		       COALESCE(result_json,''), COALESCE(error_text,''),
		       created_at, started_at, finished_at
		FROM jobs
		WHERE id=$1
	`, id).Scan(
		&j.ID,
		&j.Name,
		&j.Status,
		&j.ParamsJSON,
		&j.ResultJSON,
		&j.ErrorText,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if err != nil {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

type pgxRows interface {
	Close()
	Next() bool
	Scan(dest ...any) error
}
