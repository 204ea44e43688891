package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mediaconv/models"
	"mediaconv/repository"
)

// ArtifactRemover is the slice of the artifact store the sweeper needs.
// Remove reports the bytes freed; removing a missing object is (0, nil).
type ArtifactRemover interface {
	Remove(ctx context.Context, ref models.ObjectRef) (int64, error)
}

// SweepOptions tune one sweep run.
type SweepOptions struct {
	DryRun bool
	// MaxAge overrides the configured abandonment threshold for the orphan
	// sweep when positive. The expired sweep always follows record expiry.
	MaxAge    time.Duration
	BatchSize int
}

// SweepReport summarizes one sweep run. Failed counts items skipped after
// an error; a failed item never aborts the rest of the batch.
type SweepReport struct {
	Scanned    int
	Cleaned    int
	Failed     int
	FreedBytes int64
}

const defaultSweepBatch = 100

// Sweeper reclaims expired records and abandoned artifacts. It runs on
// demand; scheduling belongs to the caller.
type Sweeper struct {
	store     repository.JobStore
	artifacts ArtifactRemover
	progress  ProgressStore
	grace     time.Duration
	abandon   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper wires the sweeper. progress may be nil when no fast cache is
// configured.
func NewSweeper(store repository.JobStore, artifacts ArtifactRemover, progress ProgressStore, grace, abandon time.Duration, logger *zap.Logger) *Sweeper {
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	if abandon <= 0 {
		abandon = 30 * time.Minute
	}
	return &Sweeper{
		store:     store,
		artifacts: artifacts,
		progress:  progress,
		grace:     grace,
		abandon:   abandon,
		logger:    logger,
		now:       time.Now,
	}
}

// SweepExpired deletes records past their expiry instant together with
// their stored artifacts. A record is deleted only after its artifacts are
// gone, so a partial failure leaves the record for the next sweep instead
// of leaking blobs.
func (s *Sweeper) SweepExpired(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	var report SweepReport

	expired, err := s.store.ScanExpired(ctx, s.now().Unix(), batchSize(opts))
	if err != nil {
		return report, fmt.Errorf("scan expired: %w", err)
	}
	report.Scanned = len(expired)

	for _, job := range expired {
		if opts.DryRun {
			report.Cleaned++
			report.FreedBytes += refSizes(job)
			continue
		}

		freed, err := s.removeRefs(ctx, &job.Input, job.Output, job.Preview)
		report.FreedBytes += freed
		if err != nil {
			report.Failed++
			s.logger.Warn("expired sweep: artifact removal failed, keeping record",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}
		if err := s.store.Delete(ctx, job.ID); err != nil {
			report.Failed++
			s.logger.Warn("expired sweep: record delete failed",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}
		s.releaseProgress(ctx, job.ID)
		report.Cleaned++
	}

	s.logger.Info("expired sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("cleaned", report.Cleaned),
		zap.Int("failed", report.Failed),
		zap.Int64("freed_bytes", report.FreedBytes),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// SweepOrphans reclaims output artifacts nobody downloaded: terminal jobs
// idle past the grace window and any job older than the abandonment
// threshold. Records and inputs stay in place for the expired sweep.
func (s *Sweeper) SweepOrphans(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	var report SweepReport

	abandon := s.abandon
	if opts.MaxAge > 0 {
		abandon = opts.MaxAge
	}
	now := s.now().UTC()

	orphans, err := s.store.ScanOrphans(ctx, now.Add(-s.grace), now.Add(-abandon), batchSize(opts))
	if err != nil {
		return report, fmt.Errorf("scan orphans: %w", err)
	}
	report.Scanned = len(orphans)

	for _, job := range orphans {
		if opts.DryRun {
			report.Cleaned++
			report.FreedBytes += refSize(job.Output) + refSize(job.Preview)
			continue
		}

		freed, err := s.removeRefs(ctx, job.Output, job.Preview)
		report.FreedBytes += freed
		if err != nil {
			report.Failed++
			s.logger.Warn("orphan sweep: artifact removal failed",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}
		s.releaseProgress(ctx, job.ID)
		report.Cleaned++
	}

	s.logger.Info("orphan sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("cleaned", report.Cleaned),
		zap.Int("failed", report.Failed),
		zap.Int64("freed_bytes", report.FreedBytes),
		zap.Bool("dry_run", opts.DryRun))
	return report, nil
}

// Stats summarizes live work for the operational surface.
func (s *Sweeper) Stats(ctx context.Context) (*models.JobStats, error) {
	return s.store.Stats(ctx)
}

// removeRefs deletes each non-empty ref, reporting bytes freed. It keeps
// going after a failure so one stuck object cannot shield the rest.
func (s *Sweeper) removeRefs(ctx context.Context, refs ...*models.ObjectRef) (int64, error) {
	var freed int64
	var firstErr error
	for _, ref := range refs {
		if ref == nil || ref.IsZero() {
			continue
		}
		n, err := s.artifacts.Remove(ctx, *ref)
		freed += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return freed, firstErr
}

func (s *Sweeper) releaseProgress(ctx context.Context, jobID string) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Delete(ctx, jobID); err != nil {
		s.logger.Debug("progress key release failed",
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}

func batchSize(opts SweepOptions) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return defaultSweepBatch
}

func refSize(ref *models.ObjectRef) int64 {
	if ref == nil {
		return 0
	}
	return ref.Size
}

func refSizes(job *models.Job) int64 {
	return job.Input.Size + refSize(job.Output) + refSize(job.Preview)
}
