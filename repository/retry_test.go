package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediaconv/models"
)

// flakyStore fails with scripted errors before succeeding.
type flakyStore struct {
	errs  []error
	calls int
}

func (s *flakyStore) next() error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *flakyStore) Put(context.Context, *models.Job) error { return s.next() }

func (s *flakyStore) Get(_ context.Context, id string) (*models.Job, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &models.Job{ID: id, Status: models.StatusCreated}, nil
}

func (s *flakyStore) UpdateStatus(context.Context, string, []models.JobStatus, StatusUpdate) (*models.Job, bool, error) {
	if err := s.next(); err != nil {
		return nil, false, err
	}
	return &models.Job{}, true, nil
}

func (s *flakyStore) MarkDownloaded(context.Context, string, time.Time) error { return s.next() }

func (s *flakyStore) ScanExpired(context.Context, int64, int) ([]*models.Job, error) {
	return nil, s.next()
}

func (s *flakyStore) ScanOrphans(context.Context, time.Time, time.Time, int) ([]*models.Job, error) {
	return nil, s.next()
}

func (s *flakyStore) Delete(context.Context, string) error { return s.next() }

func (s *flakyStore) Stats(context.Context) (*models.JobStats, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &models.JobStats{}, nil
}

func transientErr(msg string) error {
	return models.Transient(errors.New(msg))
}

func newTestRetryingStore(t *testing.T, inner JobStore) (*RetryingStore, *[]time.Duration) {
	t.Helper()
	rs := NewRetryingStore(inner, RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}, zaptest.NewLogger(t))
	var sleeps []time.Duration
	rs.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return rs, &sleeps
}

func TestRetryingStoreExhaustsBudget(t *testing.T) {
	inner := &flakyStore{errs: []error{
		transientErr("down 1"), transientErr("down 2"), transientErr("down 3"), transientErr("down 4"),
	}}
	rs, sleeps := newTestRetryingStore(t, inner)

	_, err := rs.Get(context.Background(), "job-1")

	var perr *models.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "get", perr.Op)
	assert.Equal(t, 4, perr.Attempts)
	assert.Equal(t, 4, inner.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, *sleeps)
}

func TestRetryingStoreNonTransientPassthrough(t *testing.T) {
	permanent := errors.New("duplicate key")
	inner := &flakyStore{errs: []error{permanent}}
	rs, sleeps := newTestRetryingStore(t, inner)

	err := rs.Put(context.Background(), &models.Job{ID: "job-1"})

	assert.ErrorIs(t, err, permanent)
	var perr *models.PersistenceError
	assert.False(t, errors.As(err, &perr), "permanent failures must not be dressed up as retry exhaustion")
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, *sleeps)
}

func TestRetryingStoreNotFoundPassthrough(t *testing.T) {
	inner := &flakyStore{errs: []error{models.ErrJobNotFound}}
	rs, sleeps := newTestRetryingStore(t, inner)

	_, err := rs.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, models.ErrJobNotFound)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, *sleeps)
}

func TestRetryingStoreSucceedsAfterRetries(t *testing.T) {
	inner := &flakyStore{errs: []error{transientErr("down 1"), transientErr("down 2")}}
	rs, sleeps := newTestRetryingStore(t, inner)

	job, err := rs.Get(context.Background(), "job-1")

	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestRetryingStoreSleepInterrupted(t *testing.T) {
	inner := &flakyStore{errs: []error{transientErr("down 1"), transientErr("down 2")}}
	rs, _ := newTestRetryingStore(t, inner)
	rs.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	err := rs.Delete(context.Background(), "job-1")

	var perr *models.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"insufficient resources", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"system error", &pgconn.PgError{Code: "58030"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}
