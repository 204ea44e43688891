package repository

import (
	"context"
	"time"

	"mediaconv/models"
)

// StatusUpdate carries the mutable fields a lifecycle transition may set.
type StatusUpdate struct {
	Status       models.JobStatus
	Output       *models.ObjectRef
	Preview      *models.ObjectRef
	ErrorMessage string
}

// JobStore is the durable record store contract. Single-key reads and
// writes are strongly consistent; scans may lag behind recent writes.
// Implementations honor ExpiresAt: expired records read as absent from Get
// and from guarded updates, and surface only through ScanExpired.
type JobStore interface {
	// Put inserts a new record.
	Put(ctx context.Context, job *models.Job) error

	// Get returns the live record or models.ErrJobNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)

	// UpdateStatus applies upd iff the current status is one of from. It
	// returns the record as stored after the attempt and whether the update
	// was applied; an absent or expired job yields models.ErrJobNotFound.
	UpdateStatus(ctx context.Context, id string, from []models.JobStatus, upd StatusUpdate) (*models.Job, bool, error)

	// MarkDownloaded stamps the first successful download. Later calls keep
	// the original timestamp.
	MarkDownloaded(ctx context.Context, id string, at time.Time) error

	// ScanExpired lists records whose expiry instant (epoch seconds) is at
	// or before cutoff, bounded by limit.
	ScanExpired(ctx context.Context, cutoff int64, limit int) ([]*models.Job, error)

	// ScanOrphans lists never-downloaded records that are terminal and idle
	// since terminalBefore, or created before abandonedBefore.
	ScanOrphans(ctx context.Context, terminalBefore, abandonedBefore time.Time, limit int) ([]*models.Job, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// Stats summarizes non-terminal records.
	Stats(ctx context.Context) (*models.JobStats, error)
}
