package repository

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mediaconv/models"
)

// RetryPolicy bounds retries against the durable store. Only failures
// marked transient are retried; the delay doubles after each attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// RetryingStore decorates a JobStore with the retry policy. Non-transient
// errors pass through untouched; once the budget is spent the last failure
// is surfaced wrapped in a *models.PersistenceError.
type RetryingStore struct {
	inner  JobStore
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryingStore(inner JobStore, policy RetryPolicy, logger *zap.Logger) *RetryingStore {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 100 * time.Millisecond
	}
	return &RetryingStore{inner: inner, policy: policy, logger: logger, sleep: sleepCtx}
}

func (s *RetryingStore) Put(ctx context.Context, job *models.Job) error {
	return s.do(ctx, "put", func() error { return s.inner.Put(ctx, job) })
}

func (s *RetryingStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := s.do(ctx, "get", func() error {
		var err error
		job, err = s.inner.Get(ctx, id)
		return err
	})
	return job, err
}

func (s *RetryingStore) UpdateStatus(ctx context.Context, id string, from []models.JobStatus, upd StatusUpdate) (*models.Job, bool, error) {
	var job *models.Job
	var applied bool
	err := s.do(ctx, "update status", func() error {
		var err error
		job, applied, err = s.inner.UpdateStatus(ctx, id, from, upd)
		return err
	})
	return job, applied, err
}

func (s *RetryingStore) MarkDownloaded(ctx context.Context, id string, at time.Time) error {
	return s.do(ctx, "mark downloaded", func() error { return s.inner.MarkDownloaded(ctx, id, at) })
}

func (s *RetryingStore) ScanExpired(ctx context.Context, cutoff int64, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.do(ctx, "scan expired", func() error {
		var err error
		jobs, err = s.inner.ScanExpired(ctx, cutoff, limit)
		return err
	})
	return jobs, err
}

func (s *RetryingStore) ScanOrphans(ctx context.Context, terminalBefore, abandonedBefore time.Time, limit int) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.do(ctx, "scan orphans", func() error {
		var err error
		jobs, err = s.inner.ScanOrphans(ctx, terminalBefore, abandonedBefore, limit)
		return err
	})
	return jobs, err
}

func (s *RetryingStore) Delete(ctx context.Context, id string) error {
	return s.do(ctx, "delete", func() error { return s.inner.Delete(ctx, id) })
}

func (s *RetryingStore) Stats(ctx context.Context) (*models.JobStats, error) {
	var stats *models.JobStats
	err := s.do(ctx, "stats", func() error {
		var err error
		stats, err = s.inner.Stats(ctx)
		return err
	})
	return stats, err
}

func (s *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	attempts := s.policy.MaxRetries + 1
	delay := s.policy.BaseDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !models.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("transient store failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if serr := s.sleep(ctx, delay); serr != nil {
			return &models.PersistenceError{Op: op, Attempts: attempt, Err: serr}
		}
		delay *= 2
	}
	return &models.PersistenceError{Op: op, Attempts: attempts, Err: err}
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
