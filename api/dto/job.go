package dto

import (
	"time"

	"mediaconv/models"
)

type JobResponse struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	SourceName   string            `json:"source_name,omitempty"`
	Format       string            `json:"format"`
	Quality      string            `json:"quality"`
	Output       *models.ObjectRef `json:"output,omitempty"`
	Preview      *models.ObjectRef `json:"preview,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	DownloadedAt *string           `json:"downloaded_at,omitempty"`
	ExpiresAt    int64             `json:"expires_at"`
}

func NewJobResponse(job *models.Job) *JobResponse {
	var downloadedAt *string
	if job.DownloadedAt != nil {
		formatted := job.DownloadedAt.UTC().Format(time.RFC3339)
		downloadedAt = &formatted
	}

	return &JobResponse{
		ID:           job.ID,
		Status:       string(job.Status),
		SourceName:   job.SourceName,
		Format:       job.Format,
		Quality:      job.Quality,
		Output:       job.Output,
		Preview:      job.Preview,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
		DownloadedAt: downloadedAt,
		ExpiresAt:    job.ExpiresAt,
	}
}

type ProgressResponse struct {
	JobID      string `json:"job_id"`
	Percent    int    `json:"percent"`
	Stage      string `json:"stage"`
	ETASeconds int    `json:"eta_seconds,omitempty"`
	Message    string `json:"message,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

func NewProgressResponse(rec *models.ProgressRecord) *ProgressResponse {
	return &ProgressResponse{
		JobID:      rec.JobID,
		Percent:    rec.Percent,
		Stage:      rec.Stage,
		ETASeconds: rec.ETASeconds,
		Message:    rec.Message,
		UpdatedAt:  rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
