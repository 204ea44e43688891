package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mediaconv/api/dto"
	"mediaconv/api/middleware"
	"mediaconv/api/validation"
	"mediaconv/artifacts"
	"mediaconv/kafka"
	"mediaconv/models"
)

// JobManager is the lifecycle slice the handler needs.
type JobManager interface {
	Create(ctx context.Context, in models.NewJob) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	Fail(ctx context.Context, id, message string) (*models.Job, error)
	MarkDownloaded(ctx context.Context, id string) error
}

// ProgressReader serves the polling read path.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (*models.ProgressRecord, error)
}

// CompletionVerifier re-verifies the durable record before downloads.
type CompletionVerifier interface {
	AwaitCompletion(ctx context.Context, jobID string) (*models.Job, error)
}

// ArtifactStore is the object-storage slice the handler needs.
type ArtifactStore interface {
	Put(ctx context.Context, ref models.ObjectRef, r io.Reader, size int64, contentType string) (models.ObjectRef, error)
	Fetch(ctx context.Context, ref models.ObjectRef) (io.ReadCloser, error)
}

type JobHandlerConfig struct {
	Manager       JobManager
	Progress      ProgressReader
	Completion    CompletionVerifier
	Artifacts     ArtifactStore
	Producer      kafka.Producer
	Topic         string
	UploadBucket  string
	MaxUploadSize int64
	Logger        *zap.Logger
}

type JobHandler struct {
	manager       JobManager
	progress      ProgressReader
	completion    CompletionVerifier
	artifacts     ArtifactStore
	producer      kafka.Producer
	topic         string
	uploadBucket  string
	maxUploadSize int64
	logger        *zap.Logger
}

func NewJobHandler(cfg JobHandlerConfig) *JobHandler {
	return &JobHandler{
		manager:       cfg.Manager,
		progress:      cfg.Progress,
		completion:    cfg.Completion,
		artifacts:     cfg.Artifacts,
		producer:      cfg.Producer,
		topic:         cfg.Topic,
		uploadBucket:  cfg.UploadBucket,
		maxUploadSize: cfg.MaxUploadSize,
		logger:        cfg.Logger,
	}
}

// Convert accepts a multipart upload, stores the input, creates the job
// and dispatches it to the worker fleet.
func (h *JobHandler) Convert(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Media file is required", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	format := strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if !models.SupportedFormat(format) {
		h.handleError(w, "Unsupported target format", validation.ErrUnsupportedFormat, traceID, http.StatusBadRequest)
		return
	}

	quality := strings.TrimSpace(r.FormValue("quality"))
	if err := validation.ValidateQuality(quality); err != nil {
		h.handleError(w, "Invalid quality", err, traceID, http.StatusBadRequest)
		return
	}

	mediaType, err := validation.ValidateUpload(header, file, h.maxUploadSize)
	if err != nil {
		h.handleError(w, "Invalid file", err, traceID, http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("uploads/%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(header.Filename)))
	stored, err := h.artifacts.Put(r.Context(),
		models.ObjectRef{Bucket: h.uploadBucket, Key: key},
		file, header.Size, mediaType.ContentType())
	if err != nil {
		h.handleError(w, "Failed to store upload", err, traceID, http.StatusInternalServerError)
		return
	}

	job, err := h.manager.Create(r.Context(), models.NewJob{
		SourceName: sanitizeFilename(header.Filename),
		Format:     format,
		Quality:    quality,
		Input:      stored,
	})
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			h.handleError(w, "Invalid request", err, traceID, http.StatusBadRequest)
			return
		}
		h.handleError(w, "Failed to create job", err, traceID, http.StatusInternalServerError)
		return
	}

	msg := &kafka.ConvertMessage{
		JobID:      job.ID,
		TraceID:    traceID,
		Bucket:     stored.Bucket,
		Key:        stored.Key,
		SourceName: job.SourceName,
		Format:     job.Format,
		Quality:    job.Quality,
	}
	if err := h.producer.SendConvertMessage(r.Context(), h.topic, msg); err != nil {
		// The record exists but no worker will ever see it. Fail it durably
		// so pollers get a terminal answer instead of an eternal "created".
		if _, ferr := h.manager.Fail(r.Context(), job.ID, "dispatch failed"); ferr != nil {
			h.logger.Error("Failed to mark undispatched job failed",
				zap.String("trace_id", traceID),
				zap.String("job_id", job.ID),
				zap.Error(ferr),
			)
		}
		h.handleError(w, "Failed to dispatch conversion", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Conversion job accepted",
		zap.String("trace_id", traceID),
		zap.String("job_id", job.ID),
		zap.String("format", job.Format),
		zap.Int64("size", header.Size),
	)

	h.respondJSON(w, http.StatusCreated, dto.NewJobResponse(job))
}

// GetJob returns the durable job record.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	jobID := mux.Vars(r)["id"]

	job, err := h.manager.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get job", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.NewJobResponse(job))
}

// Progress serves the polling endpoint: cache-backed when possible,
// derived from the durable record otherwise.
func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	jobID := mux.Vars(r)["id"]

	rec, err := h.progress.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get progress", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.NewProgressResponse(rec))
}

// Download re-verifies completion against the durable store, then streams
// the output artifact. A cache that says 100% buys nothing here: only the
// durable record admits a download.
func (h *JobHandler) Download(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	jobID := mux.Vars(r)["id"]

	job, err := h.completion.AwaitCompletion(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.handleError(w, "Job not found", err, traceID, http.StatusNotFound)
			return
		}
		var cerr *models.ConsistencyError
		if errors.As(err, &cerr) {
			w.Header().Set("Retry-After", "2")
			h.handleError(w, "Conversion not yet visible, try again shortly", err, traceID, http.StatusServiceUnavailable)
			return
		}
		h.handleError(w, "Failed to verify completion", err, traceID, http.StatusInternalServerError)
		return
	}

	if job.Status == models.StatusFailed {
		h.handleError(w, "Conversion failed: "+job.ErrorMessage, nil, traceID, http.StatusConflict)
		return
	}
	if job.Output == nil {
		h.handleError(w, "Job has no output", nil, traceID, http.StatusInternalServerError)
		return
	}

	body, err := h.artifacts.Fetch(r.Context(), *job.Output)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			h.handleError(w, "Output no longer available", err, traceID, http.StatusGone)
			return
		}
		h.handleError(w, "Failed to fetch output", err, traceID, http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", models.ContentTypeForFormat(job.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job)))
	if job.Output.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(job.Output.Size, 10))
	}

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Download stream interrupted",
			zap.String("trace_id", traceID),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	if err := h.manager.MarkDownloaded(r.Context(), job.ID); err != nil {
		h.logger.Warn("Failed to mark job downloaded",
			zap.String("trace_id", traceID),
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

func sanitizeFilename(filename string) string {
	return filepath.Base(filename)
}

// downloadName derives the attachment name from the original upload,
// swapping in the target extension.
func downloadName(job *models.Job) string {
	base := strings.TrimSuffix(job.SourceName, filepath.Ext(job.SourceName))
	if base == "" || base == "." {
		base = job.ID
	}
	return base + "." + job.Format
}

func (h *JobHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *JobHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
