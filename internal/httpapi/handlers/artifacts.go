package handlers

import (
	"encoding/base64"
	"encoding/json"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	v0 "lienzo/internal/contracts/render/v0"
	"lienzo/internal/httpkit"
)

func (h *Handler) ListJobArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
		return
	}
	if job.Status != "DONE" {
		httpkit.WriteErr(w, 409, "JOB_NOT_FINISHED", "job has no result yet", map[string]any{"job_id": jobID, "status": job.Status})
		return
	}

	var res v0.Result
	_ = json.Unmarshal([]byte(job.ResultJSON), &res)

	type item struct {
		Filename string `json:"filename"`
		Type     string `json:"type"`
	}

	out := make([]item, 0, len(res.Images))
	for _, a := range res.Images {
		out = append(out, item{Filename: a.Filename, Type: a.Type})
	}

	httpkit.WriteJSON(w, 200, map[string]any{
		"job_id":    jobID,
		"artifacts": out,
		"errors":    res.Errors,
	})
}

func (h *Handler) GetJobArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")
	filename := chi.URLParam(r, "filename")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		httpkit.WriteErr(w, 404, "JOB_NOT_FOUND", "job not found", map[string]any{"job_id": jobID})
		return
	}
	if job.Status != "DONE" {
		httpkit.WriteErr(w, 409, "JOB_NOT_FINISHED", "job has no result yet", map[string]any{"job_id": jobID, "status": job.Status})
		return
	}

	var res v0.Result
	_ = json.Unmarshal([]byte(job.ResultJSON), &res)

	for _, a := range res.Images {
		if a.Filename == filename {
			h.serveArtifact(w, r, a)
			return
		}
	}

	httpkit.WriteErr(w, 404, "ARTIFACT_NOT_FOUND", "artifact not found", map[string]any{"job_id": jobID, "filename": filename})
}

// serveArtifact resolves the two storage shapes a collected artifact can
// have: an uploaded location (URL or local path) or inline base64 bytes.
func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, a v0.Artifact) {
	if a.Type == "s3_url" {
		if strings.HasPrefix(a.Data, "http://") || strings.HasPrefix(a.Data, "https://") {
			http.Redirect(w, r, a.Data, http.StatusFound)
			return
		}
		http.ServeFile(w, r, a.Data)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		httpkit.WriteErr(w, 500, "INTERNAL_ERROR", "artifact payload is not valid base64", map[string]any{"filename": a.Filename})
		return
	}

	ct := mime.TypeByExtension(filepath.Ext(a.Filename))
	if ct == "" {
		ct = http.DetectContentType(raw)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	_, _ = w.Write(raw)
}
