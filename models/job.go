package models

import "time"

// JobStatus is the durable lifecycle state of a conversion job.
type JobStatus string

const (
	StatusCreated    JobStatus = "created"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ObjectRef points at a blob in the artifact store.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

func (r ObjectRef) IsZero() bool {
	return r.Bucket == "" && r.Key == ""
}

// Job is the durable record of a single conversion. SourceName, Format,
// Quality and Input are write-once creation parameters; Status, UpdatedAt
// and ErrorMessage are owned by the lifecycle manager.
type Job struct {
	ID           string
	Status       JobStatus
	SourceName   string
	Format       string
	Quality      string
	Input        ObjectRef
	Output       *ObjectRef
	Preview      *ObjectRef
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DownloadedAt *time.Time
	// ExpiresAt is the absolute expiry instant in epoch seconds. Records
	// past it read as absent and are reclaimed by the sweeper.
	ExpiresAt int64
}

// Expired reports whether the record is past its expiry at the given instant.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt <= now.Unix()
}

// NewJob carries the write-once parameters for job creation.
type NewJob struct {
	SourceName string
	Format     string
	Quality    string
	Input      ObjectRef
}

// JobStats summarizes non-terminal records for the operational surface.
type JobStats struct {
	ActiveJobs int
	OldestAge  time.Duration
	NewestAge  time.Duration
}
