package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mediaconv/models"
)

// VerifyPolicy bounds the download-side completion verification.
type VerifyPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{Attempts: 8, BaseDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}
}

// Coordinator owns the completion hand-off between the durable store and
// the progress cache. The ordering is fixed: the durable record must be
// confirmed terminal before the cache may say so, and downloads re-verify
// against the durable store rather than trusting the cache's 100%.
type Coordinator struct {
	manager *Manager
	tracker *Tracker
	policy  VerifyPolicy
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(manager *Manager, tracker *Tracker, policy VerifyPolicy, logger *zap.Logger) *Coordinator {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultVerifyPolicy().Attempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultVerifyPolicy().BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = DefaultVerifyPolicy().MaxDelay
	}
	return &Coordinator{
		manager: manager,
		tracker: tracker,
		policy:  policy,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Complete finishes a job: the durable write first, awaited through the
// store's retry layer, and only then the terminal progress record.
// Reversing this order reopens the download-before-ready race.
func (c *Coordinator) Complete(ctx context.Context, jobID string, output models.ObjectRef, preview *models.ObjectRef) error {
	if _, err := c.manager.Complete(ctx, jobID, output, preview); err != nil {
		return err
	}
	c.tracker.Report(ctx, jobID, 100, models.StageCompleted, 0)
	return nil
}

// Fail mirrors Complete for the failure path: durable first, cache second.
func (c *Coordinator) Fail(ctx context.Context, jobID, message string) error {
	if _, err := c.manager.Fail(ctx, jobID, message); err != nil {
		return err
	}
	c.tracker.ReportFailure(ctx, jobID, message)
	return nil
}

// AwaitCompletion re-verifies the durable record before a download may be
// served, polling with growing delays to absorb read-after-write lag. It
// returns the record once it is terminal; a still-running job after the
// full budget surfaces a *models.ConsistencyError. Absence is
// authoritative and returns immediately.
func (c *Coordinator) AwaitCompletion(ctx context.Context, jobID string) (*models.Job, error) {
	delay := c.policy.BaseDelay
	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		job, err := c.manager.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if attempt == c.policy.Attempts {
			break
		}
		c.logger.Debug("completion not yet visible",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
			zap.Int("attempt", attempt))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
		if delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
	}
	return nil, &models.ConsistencyError{JobID: jobID, Attempts: c.policy.Attempts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
