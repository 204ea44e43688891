package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mediaconv/api/dto"
	"mediaconv/api/middleware"
	"mediaconv/jobs"
	"mediaconv/models"
)

// SweepRunner is the cleanup slice exposed on the admin surface.
type SweepRunner interface {
	SweepExpired(ctx context.Context, opts jobs.SweepOptions) (jobs.SweepReport, error)
	SweepOrphans(ctx context.Context, opts jobs.SweepOptions) (jobs.SweepReport, error)
	Stats(ctx context.Context) (*models.JobStats, error)
}

type AdminHandler struct {
	sweeper SweepRunner
	logger  *zap.Logger
}

func NewAdminHandler(sweeper SweepRunner, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, logger: logger}
}

// Cleanup triggers both sweeps on demand. An empty body runs with the
// configured policy; the request can narrow or widen one run.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.handleError(w, "Failed to parse request", err, traceID, http.StatusBadRequest)
		return
	}

	opts := jobs.SweepOptions{
		DryRun:    req.DryRun,
		MaxAge:    time.Duration(req.MaxAgeHours) * time.Hour,
		BatchSize: req.BatchSize,
	}

	expired, err := h.sweeper.SweepExpired(r.Context(), opts)
	if err != nil {
		h.handleError(w, "Expired sweep failed", err, traceID, http.StatusInternalServerError)
		return
	}
	orphans, err := h.sweeper.SweepOrphans(r.Context(), opts)
	if err != nil {
		h.handleError(w, "Orphan sweep failed", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Cleanup run finished",
		zap.String("trace_id", traceID),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("cleaned", expired.Cleaned+orphans.Cleaned),
		zap.Int64("freed_bytes", expired.FreedBytes+orphans.FreedBytes),
	)

	h.respondJSON(w, http.StatusOK, dto.NewCleanupResponse(opts.DryRun, expired, orphans))
}

// Stats reports live-work counters for dashboards and the cleanup CLI.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	stats, err := h.sweeper.Stats(r.Context())
	if err != nil {
		h.handleError(w, "Failed to get stats", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.StatsResponse{
		ActiveJobCount:      stats.ActiveJobs,
		OldestJobAgeSeconds: int64(stats.OldestAge.Seconds()),
		NewestJobAgeSeconds: int64(stats.NewestAge.Seconds()),
	})
}

func (h *AdminHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
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

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
