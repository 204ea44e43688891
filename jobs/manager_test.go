package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediaconv/models"
)

func testInput() models.ObjectRef {
	return models.ObjectRef{Bucket: "media-uploads", Key: "uploads/in.mp4", Size: 2048}
}

func newTestManager(t *testing.T, store *fakeStore, retention time.Duration) *Manager {
	t.Helper()
	m := NewManager(store, retention, zaptest.NewLogger(t))
	fixed := time.UnixMilli(1640995200000).UTC()
	m.now = func() time.Time { return fixed }
	store.now = m.now
	return m
}

func TestManagerCreateDefaults(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	job, err := m.Create(context.Background(), models.NewJob{
		SourceName: "clip.mov",
		Format:     " MP4 ",
		Input:      testInput(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCreated, job.Status)
	assert.Equal(t, "mp4", job.Format)
	assert.Equal(t, DefaultQuality, job.Quality)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, int64(1641081600), job.ExpiresAt)

	stored := store.stored(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, job.ExpiresAt, stored.ExpiresAt)
}

func TestManagerCreateValidation(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	tests := []struct {
		name string
		in   models.NewJob
	}{
		{"missing input", models.NewJob{Format: "mp3"}},
		{"missing format", models.NewJob{Input: testInput()}},
		{"unsupported format", models.NewJob{Format: "avi", Input: testInput()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(context.Background(), tt.in)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
	assert.Equal(t, 0, store.putCalls)
}

func TestManagerCreateStoreError(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("insert failed")
	m := newTestManager(t, store, 24*time.Hour)

	_, err := m.Create(context.Background(), models.NewJob{Format: "mp3", Input: testInput()})
	require.Error(t, err)
}

func TestManagerTransitions(t *testing.T) {
	output := models.ObjectRef{Bucket: "media-outputs", Key: "outputs/x.mp3", Size: 100}

	tests := []struct {
		name    string
		from    models.JobStatus
		apply   func(m *Manager, id string) (*models.Job, error)
		want    models.JobStatus
		illegal bool
	}{
		{
			name:  "created to processing",
			from:  models.StatusCreated,
			apply: func(m *Manager, id string) (*models.Job, error) { return m.MarkProcessing(context.Background(), id) },
			want:  models.StatusProcessing,
		},
		{
			name: "processing to completed",
			from: models.StatusProcessing,
			apply: func(m *Manager, id string) (*models.Job, error) {
				return m.Complete(context.Background(), id, output, nil)
			},
			want: models.StatusCompleted,
		},
		{
			name: "processing to failed",
			from: models.StatusProcessing,
			apply: func(m *Manager, id string) (*models.Job, error) {
				return m.Fail(context.Background(), id, "decode error")
			},
			want: models.StatusFailed,
		},
		{
			name: "created to failed",
			from: models.StatusCreated,
			apply: func(m *Manager, id string) (*models.Job, error) {
				return m.Fail(context.Background(), id, "dispatch failed")
			},
			want: models.StatusFailed,
		},
		{
			name: "created straight to completed is illegal",
			from: models.StatusCreated,
			apply: func(m *Manager, id string) (*models.Job, error) {
				return m.Complete(context.Background(), id, output, nil)
			},
			illegal: true,
		},
		{
			name:    "completed cannot reopen",
			from:    models.StatusCompleted,
			apply:   func(m *Manager, id string) (*models.Job, error) { return m.MarkProcessing(context.Background(), id) },
			illegal: true,
		},
		{
			name: "failed stays failed",
			from: models.StatusFailed,
			apply: func(m *Manager, id string) (*models.Job, error) {
				return m.Complete(context.Background(), id, output, nil)
			},
			illegal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			m := newTestManager(t, store, 24*time.Hour)
			store.seed(&models.Job{
				ID:        "job-1",
				Status:    tt.from,
				Format:    "mp3",
				Input:     testInput(),
				CreatedAt: m.now(),
				UpdatedAt: m.now(),
				ExpiresAt: m.now().Unix() + 3600,
			})

			job, err := tt.apply(m, "job-1")
			if tt.illegal {
				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.Status)
		})
	}
}

func TestManagerCompleteConverges(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)
	output := models.ObjectRef{Bucket: "media-outputs", Key: "outputs/x.mp3", Size: 100}

	store.seed(&models.Job{
		ID:        "job-1",
		Status:    models.StatusProcessing,
		Format:    "mp3",
		Input:     testInput(),
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
		ExpiresAt: m.now().Unix() + 3600,
	})

	first, err := m.Complete(context.Background(), "job-1", output, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, first.Status)

	// A duplicate Complete must converge on the stored record without a
	// second write.
	second, err := m.Complete(context.Background(), "job-1", output, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, 1, store.appliedCalls)
}

func TestManagerCompleteRequiresOutput(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	_, err := m.Complete(context.Background(), "job-1", models.ObjectRef{}, nil)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, store.appliedCalls)
}

func TestManagerGetExpired(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	store.seed(&models.Job{
		ID:        "job-old",
		Status:    models.StatusCompleted,
		Format:    "mp3",
		Input:     testInput(),
		CreatedAt: m.now().Add(-48 * time.Hour),
		UpdatedAt: m.now().Add(-48 * time.Hour),
		ExpiresAt: m.now().Unix() - 1,
	})

	_, err := m.Get(context.Background(), "job-old")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = m.MarkProcessing(context.Background(), "job-old")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestManagerMarkDownloadedKeepsFirst(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	base := m.now()
	store.seed(&models.Job{
		ID:        "job-1",
		Status:    models.StatusCompleted,
		Format:    "mp3",
		Input:     testInput(),
		CreatedAt: base,
		UpdatedAt: base,
		ExpiresAt: base.Unix() + 3600,
	})

	require.NoError(t, m.MarkDownloaded(context.Background(), "job-1"))
	first := store.stored("job-1").DownloadedAt
	require.NotNil(t, first)

	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	require.NoError(t, m.MarkDownloaded(context.Background(), "job-1"))

	second := store.stored("job-1").DownloadedAt
	require.NotNil(t, second)
	assert.True(t, first.Equal(*second), "later download must keep the first timestamp")
}

func TestManagerMarkDownloadedMissing(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, 24*time.Hour)

	err := m.MarkDownloaded(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}
