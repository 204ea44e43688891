package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobExpiredBoundary(t *testing.T) {
	now := time.UnixMilli(1640995200000).UTC()
	job := &Job{ID: "job-1", ExpiresAt: now.Unix()}

	assert.True(t, job.Expired(now), "a record at its expiry instant reads as expired")
	assert.False(t, job.Expired(now.Add(-time.Second)))
	assert.True(t, job.Expired(now.Add(time.Second)))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())

	assert.True(t, StatusCreated.Valid())
	assert.False(t, JobStatus("paused").Valid())
}

func TestObjectRefIsZero(t *testing.T) {
	assert.True(t, ObjectRef{}.IsZero())
	assert.True(t, ObjectRef{Size: 100}.IsZero(), "size alone does not locate an object")
	assert.False(t, ObjectRef{Bucket: "media-outputs", Key: "outputs/a.mp3"}.IsZero())
}

func TestSupportedFormats(t *testing.T) {
	for _, f := range []string{"mp3", "wav", "ogg", "flac", "mp4", "webm"} {
		assert.True(t, SupportedFormat(f), f)
	}
	assert.False(t, SupportedFormat("avi"), "avi is accepted as input only")
	assert.False(t, SupportedFormat("MP3"), "format matching is exact, callers normalize case")

	assert.Equal(t, "audio/mpeg", ContentTypeForFormat("mp3"))
	assert.Equal(t, "application/octet-stream", ContentTypeForFormat("unknown"))

	assert.True(t, VideoFormat("mp4"))
	assert.True(t, VideoFormat("webm"))
	assert.False(t, VideoFormat("ogg"))
}

func TestProgressRecordTerminal(t *testing.T) {
	assert.False(t, (&ProgressRecord{Stage: StageConverting, Percent: 99}).Terminal())
	assert.True(t, (&ProgressRecord{Stage: StageCompleted, Percent: 100}).Terminal())
	assert.True(t, (&ProgressRecord{Stage: StageFailed}).Terminal())
	assert.True(t, (&ProgressRecord{Stage: StageConverting, Percent: PercentFailed}).Terminal(),
		"a failure percent is terminal whatever stage accompanies it")
}

func TestTransientMarking(t *testing.T) {
	assert.NoError(t, Transient(nil))

	base := errors.New("connection reset")
	wrapped := Transient(base)
	require.Error(t, wrapped)

	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base, "the cause stays reachable through the wrap")
	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(ErrJobNotFound))
	assert.True(t, IsTransient(Transient(context.DeadlineExceeded)))
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, NewValidationError("format", "unsupported"), "validation: format: unsupported")
	assert.EqualError(t, NewValidationError("", "empty body"), "validation: empty body")

	pe := &PersistenceError{Op: "update_status", Attempts: 4, Err: errors.New("dial timeout")}
	assert.EqualError(t, pe, "persistence: update_status failed after 4 attempts: dial timeout")
	assert.ErrorIs(t, pe, pe.Err)

	ce := &ConsistencyError{JobID: "job-9", Attempts: 8}
	assert.EqualError(t, ce, "job job-9 not yet visible as completed after 8 checks")
}
