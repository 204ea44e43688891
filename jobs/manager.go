package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediaconv/models"
	"mediaconv/repository"
)

// DefaultQuality is applied when the caller leaves quality unset.
const DefaultQuality = "192k"

// Manager owns the durable job lifecycle: creation, reads and the
// created -> processing -> {completed, failed} transitions. It is the sole
// writer of Status, UpdatedAt and ErrorMessage. Cross-instance safety
// comes from the store's guarded updates, not from in-process locks.
type Manager struct {
	store     repository.JobStore
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewManager(store repository.JobStore, retention time.Duration, logger *zap.Logger) *Manager {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Manager{store: store, retention: retention, logger: logger, now: time.Now}
}

// Create validates the write-once parameters, assigns the job ID and the
// expiry instant, and persists the record.
func (m *Manager) Create(ctx context.Context, in models.NewJob) (*models.Job, error) {
	if in.Input.Bucket == "" || in.Input.Key == "" {
		return nil, models.NewValidationError("input.location", "required")
	}
	format := strings.ToLower(strings.TrimSpace(in.Format))
	if format == "" {
		return nil, models.NewValidationError("format", "required")
	}
	if !models.SupportedFormat(format) {
		return nil, models.NewValidationError("format", "unsupported: "+format)
	}
	quality := in.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	now := m.now().UTC()
	job := &models.Job{
		ID:         uuid.New().String(),
		Status:     models.StatusCreated,
		SourceName: in.SourceName,
		Format:     format,
		Quality:    quality,
		Input:      in.Input,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Unix() + int64(m.retention/time.Second),
	}

	if err := m.store.Put(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("format", job.Format),
		zap.Int64("expires_at", job.ExpiresAt))
	return job, nil
}

// Get returns the live record; absent and expired both read as not found.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// MarkProcessing moves a created job into processing. Under message
// redelivery the call converges: a job already processing is returned as
// is, without touching the record.
func (m *Manager) MarkProcessing(ctx context.Context, id string) (*models.Job, error) {
	return m.transition(ctx, id,
		[]models.JobStatus{models.StatusCreated},
		repository.StatusUpdate{Status: models.StatusProcessing})
}

// Complete records the durable terminal success. The write is acknowledged
// by the store before Complete returns; nothing may signal completion
// elsewhere until then.
func (m *Manager) Complete(ctx context.Context, id string, output models.ObjectRef, preview *models.ObjectRef) (*models.Job, error) {
	if output.IsZero() {
		return nil, models.NewValidationError("output.location", "required")
	}
	return m.transition(ctx, id,
		[]models.JobStatus{models.StatusProcessing},
		repository.StatusUpdate{Status: models.StatusCompleted, Output: &output, Preview: preview})
}

// Fail records the durable terminal failure with a diagnostic message.
func (m *Manager) Fail(ctx context.Context, id, message string) (*models.Job, error) {
	return m.transition(ctx, id,
		[]models.JobStatus{models.StatusCreated, models.StatusProcessing},
		repository.StatusUpdate{Status: models.StatusFailed, ErrorMessage: message})
}

// MarkDownloaded stamps the first successful download. The sweeper uses it
// to tell collected outputs from abandoned ones.
func (m *Manager) MarkDownloaded(ctx context.Context, id string) error {
	return m.store.MarkDownloaded(ctx, id, m.now().UTC())
}

func (m *Manager) transition(ctx context.Context, id string, from []models.JobStatus, upd repository.StatusUpdate) (*models.Job, error) {
	job, applied, err := m.store.UpdateStatus(ctx, id, from, upd)
	if err != nil {
		return nil, err
	}
	if applied {
		m.logger.Info("job status updated",
			zap.String("job_id", id),
			zap.String("status", string(upd.Status)))
		return job, nil
	}
	// Guard did not match. A record already carrying the requested status
	// means a duplicate caller: converge on the stored record. Anything
	// else is an illegal transition.
	if job.Status == upd.Status {
		return job, nil
	}
	return nil, models.NewValidationError("status",
		fmt.Sprintf("illegal transition %s -> %s", job.Status, upd.Status))
}
