package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mediaconv/models"
)

// ProgressStore is the fast-cache port the tracker writes through. It is
// best-effort: an error here degrades visibility, never correctness.
type ProgressStore interface {
	Set(ctx context.Context, rec *models.ProgressRecord) error
	Get(ctx context.Context, jobID string) (*models.ProgressRecord, error)
	Delete(ctx context.Context, jobID string) error
}

// JobGetter is the durable fallback for progress reads.
type JobGetter interface {
	Get(ctx context.Context, id string) (*models.Job, error)
}

const throttleHighWater = 4096

// Tracker coalesces progress writes and serves reads with a mandatory
// durable fallback. cache may be nil when no fast cache is configured; the
// tracker then serves synthetic records only.
type Tracker struct {
	cache       ProgressStore
	durable     JobGetter
	minInterval time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

func NewTracker(cache ProgressStore, durable JobGetter, minInterval time.Duration, logger *zap.Logger) *Tracker {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Tracker{
		cache:       cache,
		durable:     durable,
		minInterval: minInterval,
		logger:      logger,
		now:         time.Now,
		lastWrite:   make(map[string]time.Time),
	}
}

// Report writes one progress update. Intermediate updates are coalesced to
// at most one write per job within the configured interval; updates that
// end the job (completed, failed, or 100%) always go through.
func (t *Tracker) Report(ctx context.Context, jobID string, percent int, stage string, etaSeconds int) {
	rec := &models.ProgressRecord{
		JobID:      jobID,
		Percent:    percent,
		Stage:      stage,
		ETASeconds: etaSeconds,
		UpdatedAt:  t.now().UTC(),
	}
	t.report(ctx, rec)
}

// ReportFailure writes the terminal failure record, carrying the sentinel
// percent and the diagnostic message. Never throttled.
func (t *Tracker) ReportFailure(ctx context.Context, jobID, message string) {
	rec := &models.ProgressRecord{
		JobID:     jobID,
		Percent:   models.PercentFailed,
		Stage:     models.StageFailed,
		Message:   message,
		UpdatedAt: t.now().UTC(),
	}
	t.report(ctx, rec)
}

func (t *Tracker) report(ctx context.Context, rec *models.ProgressRecord) {
	final := rec.Terminal() || rec.Percent >= 100
	if !final && !t.admit(rec.JobID, rec.UpdatedAt) {
		return
	}
	if final {
		t.forget(rec.JobID)
	}
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, rec); err != nil {
		if !final {
			// A write that never landed must not consume the throttle
			// window, or the next update would be dropped with nothing
			// in the cache.
			t.forget(rec.JobID)
		}
		t.logger.Warn("progress cache write failed",
			zap.String("job_id", rec.JobID),
			zap.String("stage", rec.Stage),
			zap.Error(err))
	}
}

// Get serves the polling read path: cache first, then a synthetic record
// derived from the durable store. The fallback is mandatory, so a cache
// outage degrades progress granularity without breaking the endpoint.
func (t *Tracker) Get(ctx context.Context, jobID string) (*models.ProgressRecord, error) {
	if t.cache != nil {
		rec, err := t.cache.Get(ctx, jobID)
		if err != nil {
			t.logger.Warn("progress cache read failed, falling back to durable store",
				zap.String("job_id", jobID),
				zap.Error(err))
		} else if rec != nil {
			return rec, nil
		}
	}

	job, err := t.durable.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return deriveProgress(job), nil
}

// admit decides whether an intermediate update may be written now. The map
// is per-instance bookkeeping only: losing it (restart, second instance)
// merely lets an extra write through.
func (t *Tracker) admit(jobID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastWrite[jobID]; ok && at.Sub(last) < t.minInterval {
		return false
	}
	t.lastWrite[jobID] = at
	t.pruneLocked(at)
	return true
}

func (t *Tracker) forget(jobID string) {
	t.mu.Lock()
	delete(t.lastWrite, jobID)
	t.mu.Unlock()
}

// pruneLocked drops stale throttle entries once the map grows past the
// high-water mark, so abandoned jobs cannot pin memory on a long-lived
// instance.
func (t *Tracker) pruneLocked(now time.Time) {
	if len(t.lastWrite) < throttleHighWater {
		return
	}
	horizon := now.Add(-10 * t.minInterval)
	for id, at := range t.lastWrite {
		if at.Before(horizon) {
			delete(t.lastWrite, id)
		}
	}
}

// deriveProgress maps a durable record onto the progress contract. Fine
// percent is unknowable mid-flight from the durable record alone, so it
// reports zero until the job lands.
func deriveProgress(job *models.Job) *models.ProgressRecord {
	rec := &models.ProgressRecord{JobID: job.ID, UpdatedAt: job.UpdatedAt}
	switch job.Status {
	case models.StatusCreated:
		rec.Stage = models.StageQueued
	case models.StatusProcessing:
		rec.Stage = models.StageConverting
	case models.StatusCompleted:
		rec.Percent = 100
		rec.Stage = models.StageCompleted
	case models.StatusFailed:
		rec.Percent = models.PercentFailed
		rec.Stage = models.StageFailed
		rec.Message = job.ErrorMessage
	}
	return rec
}
