package models

import "time"

// Progress stages as reported through the tracker. StageCompleted must
// never be observable in the cache before the durable record reads
// completed; the coordinator owns that ordering.
const (
	StageQueued      = "queued"
	StageDownloading = "downloading"
	StageConverting  = "converting"
	StageUploading   = "uploading"
	StageCompleted   = "completed"
	StageFailed      = "failed"
)

// PercentFailed marks a failed conversion in place of a meaningful
// percentage.
const PercentFailed = -1

// ProgressRecord is the ephemeral, cache-resident view of a running job.
// It is a polling hint: the durable job record stays the source of truth.
type ProgressRecord struct {
	JobID      string    `json:"job_id"`
	Percent    int       `json:"percent"`
	Stage      string    `json:"stage"`
	ETASeconds int       `json:"eta_seconds,omitempty"`
	Message    string    `json:"message,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the record describes a finished conversion.
func (p *ProgressRecord) Terminal() bool {
	return p.Stage == StageCompleted || p.Stage == StageFailed || p.Percent == PercentFailed
}
