package dto

import "mediaconv/jobs"

type CleanupRequest struct {
	DryRun      bool `json:"dry_run"`
	MaxAgeHours int  `json:"max_age_hours"`
	BatchSize   int  `json:"batch_size"`
}

type SweepReportDTO struct {
	Scanned    int   `json:"scanned"`
	Cleaned    int   `json:"cleaned"`
	Failed     int   `json:"failed"`
	FreedBytes int64 `json:"freed_bytes"`
}

func NewSweepReportDTO(r jobs.SweepReport) SweepReportDTO {
	return SweepReportDTO{
		Scanned:    r.Scanned,
		Cleaned:    r.Cleaned,
		Failed:     r.Failed,
		FreedBytes: r.FreedBytes,
	}
}

type CleanupResponse struct {
	DryRun       bool           `json:"dry_run"`
	CleanedCount int            `json:"cleaned_count"`
	FreedBytes   int64          `json:"freed_bytes"`
	FailedCount  int            `json:"failed_count"`
	Expired      SweepReportDTO `json:"expired"`
	Orphans      SweepReportDTO `json:"orphans"`
}

func NewCleanupResponse(dryRun bool, expired, orphans jobs.SweepReport) *CleanupResponse {
	return &CleanupResponse{
		DryRun:       dryRun,
		CleanedCount: expired.Cleaned + orphans.Cleaned,
		FreedBytes:   expired.FreedBytes + orphans.FreedBytes,
		FailedCount:  expired.Failed + orphans.Failed,
		Expired:      NewSweepReportDTO(expired),
		Orphans:      NewSweepReportDTO(orphans),
	}
}

type StatsResponse struct {
	ActiveJobCount      int   `json:"active_job_count"`
	OldestJobAgeSeconds int64 `json:"oldest_job_age_seconds"`
	NewestJobAgeSeconds int64 `json:"newest_job_age_seconds"`
}
