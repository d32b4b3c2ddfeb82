package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lienzo/internal/httpapi/util"
	"lienzo/internal/httpkit"
	"lienzo/internal/models"
	"lienzo/internal/repositories"
)

type CreateJobRequest struct {
	Name     string          `json:"name"`
	Workflow json.RawMessage `json:"workflow"`
	Images   json.RawMessage `json:"images"`
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}
	if len(req.Workflow) == 0 || string(req.Workflow) == "null" {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "Missing 'workflow' parameter", map[string]any{"field": "workflow"})
		return
	}

	params := map[string]json.RawMessage{"workflow": req.Workflow}
	if len(req.Images) > 0 && string(req.Images) != "null" {
		params["images"] = req.Images
	}
	paramsBytes, _ := json.Marshal(params)

	job := &models.Job{
		ID:         util.NewID("job"),
		Name:       strings.TrimSpace(req.Name),
		Status:     "QUEUED",
		ParamsJSON: string(paramsBytes),
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, repositories.ErrJobExists) {
			httpkit.WriteErr(w, 409, "JOB_EXISTS", "job id already exists", map[string]any{"job_id": job.ID})
			return
		}
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db insert failed", nil)
		return
	}

	if err := h.q.Push(ctx, job.ID); err != nil {
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "queue push failed", nil)
		return
	}

	h.log.FromContext(ctx).Info("job queued", "job_id", job.ID)

	httpkit.WriteJSON(w, 201, map[string]any{
		"job": map[string]any{
			"id":         job.ID,
			"name":       job.Name,
			"status":     job.Status,
			"created_at": job.CreatedAt,
		},
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limitStr := strings.TrimSpace(r.URL.Query().Get("limit"))
	limit := 50
	if limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	jobs, err := h.jobs.List(ctx, status, limit)
	if err != nil {
		// A missing jobs table just means nothing has been created yet.
		if httpkit.IsUndefinedTable(err) {
			httpkit.WriteJSON(w, 200, map[string]any{"jobs": []models.Job{}})
			return
		}
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "db query failed", nil)
		return
	}

	httpkit.WriteJSON(w, 200, map[string]any{"jobs": jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
		return
	}

	var params map[string]any
	_ = json.Unmarshal([]byte(job.ParamsJSON), &params)

	resp := map[string]any{
		"id":          job.ID,
		"name":        job.Name,
		"status":      job.Status,
		"params":      params,
		"created_at":  job.CreatedAt,
		"started_at":  job.StartedAt,
		"finished_at": job.FinishedAt,
	}
	if job.ResultJSON != "" {
		var result any
		_ = json.Unmarshal([]byte(job.ResultJSON), &result)
		resp["result"] = result
	}
	if job.ErrorText != "" {
		resp["error"] = job.ErrorText
	}

	httpkit.WriteJSON(w, 200, map[string]any{"job": resp})
}
