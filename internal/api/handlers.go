// Package api exposes crawl jobs and their datasets over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/shelf-crawler/internal/jobs"
	"github.com/maltedev/shelf-crawler/internal/models"
)

// JobService is the part of the job manager the handlers drive.
type JobService interface {
	Create(ctx context.Context, startURLs []string) (*models.Job, error)
	Start(job *models.Job)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	Stats(ctx context.Context) (*jobs.Stats, error)
	Stop(id string) bool
}

// DatasetReader reads back what a sink has stored.
type DatasetReader interface {
	Records(ctx context.Context, dataset string) ([]json.RawMessage, error)
}

type Handlers struct {
	jobs     JobService
	datasets DatasetReader
	logger   *slog.Logger
}

func NewHandlers(svc JobService, datasets DatasetReader, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:     svc,
		datasets: datasets,
		logger:   logger.With("component", "api"),
	}
}

// CreateJobRequest starts a crawl over one or more category urls.
type CreateJobRequest struct {
	StartURLs []string `json:"start_urls"`
}

type CreateJobResponse struct {
	JobID   string           `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// CreateJob stores a job and starts it in the background.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.StartURLs) == 0 {
		h.respondError(w, http.StatusBadRequest, "start_urls is required")
		return
	}

	job, err := h.jobs.Create(r.Context(), req.StartURLs)
	if err != nil {
		if errors.Is(err, jobs.ErrNoStartURLs) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusBadRequest, "failed to create job: "+err.Error())
		return
	}
	h.jobs.Start(job)

	h.respondJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	all, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if all == nil {
		all = []*models.Job{}
	}
	h.respondJSON(w, http.StatusOK, all)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// StopJob cancels a running job. Units in flight still finish.
func (h *Handlers) StopJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.jobs.Stop(jobID) {
		h.respondError(w, http.StatusConflict, "job is not running")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "message": "Job stopping"})
}

// GetJobRecords returns the detail records a job has written so far.
func (h *Handlers) GetJobRecords(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.datasets == nil {
		h.respondError(w, http.StatusNotImplemented, "sink does not support reads")
		return
	}

	records, err := h.datasets.Records(r.Context(), models.DetailsDataset(job.ID))
	if err != nil {
		h.logger.Error("failed to read records", "job_id", job.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read records")
		return
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return nil, false
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return job, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
