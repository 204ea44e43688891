package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mediaconv/jobs"
	"mediaconv/kafka"
	"mediaconv/models"
	"mediaconv/worker/converter"
)

// ObjectStore is the slice of the artifact store the processor needs.
type ObjectStore interface {
	FetchFile(ctx context.Context, ref models.ObjectRef, path string) error
	PutFile(ctx context.Context, ref models.ObjectRef, path, contentType string) (models.ObjectRef, error)
}

// Media runs the actual transcode and poster extraction.
type Media interface {
	Convert(ctx context.Context, req converter.Request) error
	ExtractPoster(ctx context.Context, inputPath, posterPath string, width int) error
}

type Config struct {
	OutputBucket string
	TempDir      string
	PreviewWidth int
}

// Processor drives a single conversion job from claim to terminal state.
type Processor struct {
	manager     *jobs.Manager
	tracker     *jobs.Tracker
	coordinator *jobs.Coordinator
	artifacts   ObjectStore
	media       Media
	cfg         Config
	logger      *zap.Logger
}

func NewProcessor(
	manager *jobs.Manager,
	tracker *jobs.Tracker,
	coordinator *jobs.Coordinator,
	artifacts ObjectStore,
	media Media,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.PreviewWidth <= 0 {
		cfg.PreviewWidth = 480
	}
	return &Processor{
		manager:     manager,
		tracker:     tracker,
		coordinator: coordinator,
		artifacts:   artifacts,
		media:       media,
		cfg:         cfg,
		logger:      logger,
	}
}

// Process claims the job, converts the input and publishes the result.
// It returns nil for outcomes that should not be redelivered: success,
// jobs that vanished, and jobs already resolved elsewhere.
func (p *Processor) Process(ctx context.Context, msg *kafka.ConvertMessage) error {
	logger := p.logger.With(
		zap.String("job_id", msg.JobID),
		zap.String("trace_id", msg.TraceID),
		zap.String("format", msg.Format),
	)

	job, err := p.manager.MarkProcessing(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			logger.Warn("Job gone before processing, dropping message")
			return nil
		}
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			// Redelivery of a job another worker already resolved.
			logger.Info("Job no longer claimable, dropping message", zap.Error(err))
			return nil
		}
		logger.Error("Failed to claim job", zap.Error(err))
		return err
	}

	logger.Info("Processing job", zap.String("source", job.SourceName))
	p.tracker.Report(ctx, job.ID, 0, models.StageDownloading, 0)

	workDir, err := os.MkdirTemp(p.cfg.TempDir, "convert-"+job.ID+"-")
	if err != nil {
		return p.failJob(ctx, logger, job.ID, fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input"+filepath.Ext(job.Input.Key))
	if err := p.artifacts.FetchFile(ctx, job.Input, inputPath); err != nil {
		return p.failJob(ctx, logger, job.ID, fmt.Errorf("fetch input: %w", err))
	}

	outputPath := filepath.Join(workDir, "output."+job.Format)
	start := time.Now()
	err = p.media.Convert(ctx, converter.Request{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Format:     job.Format,
		Quality:    job.Quality,
		OnProgress: func(ev converter.Event) {
			p.tracker.Report(ctx, job.ID, ev.Percent, models.StageConverting, ev.ETASeconds)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a job fault. Let redelivery retry it.
			return ctx.Err()
		}
		return p.failJob(ctx, logger, job.ID, err)
	}

	p.tracker.Report(ctx, job.ID, 100, models.StageUploading, 0)

	outputRef := models.ObjectRef{
		Bucket: p.cfg.OutputBucket,
		Key:    fmt.Sprintf("outputs/%s.%s", job.ID, job.Format),
	}
	output, err := p.artifacts.PutFile(ctx, outputRef, outputPath, models.ContentTypeForFormat(job.Format))
	if err != nil {
		return p.failJob(ctx, logger, job.ID, fmt.Errorf("upload output: %w", err))
	}

	var preview *models.ObjectRef
	if models.VideoFormat(job.Format) {
		preview = p.uploadPreview(ctx, logger, job.ID, outputPath, workDir)
	}

	if err := p.coordinator.Complete(ctx, job.ID, output, preview); err != nil {
		logger.Error("Failed to record completion", zap.Error(err))
		return err
	}

	logger.Info("Job completed",
		zap.Int64("output_bytes", output.Size),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// uploadPreview is best effort. A missing poster never fails the job.
func (p *Processor) uploadPreview(ctx context.Context, logger *zap.Logger, jobID, outputPath, workDir string) *models.ObjectRef {
	posterPath := filepath.Join(workDir, "preview.jpg")
	if err := p.media.ExtractPoster(ctx, outputPath, posterPath, p.cfg.PreviewWidth); err != nil {
		logger.Warn("Poster extraction failed, continuing without preview", zap.Error(err))
		return nil
	}

	previewRef := models.ObjectRef{
		Bucket: p.cfg.OutputBucket,
		Key:    fmt.Sprintf("previews/%s.jpg", jobID),
	}
	ref, err := p.artifacts.PutFile(ctx, previewRef, posterPath, "image/jpeg")
	if err != nil {
		logger.Warn("Poster upload failed, continuing without preview", zap.Error(err))
		return nil
	}
	return &ref
}

// failJob records a terminal failure and consumes the message. The error
// text is capped so oversized codec diagnostics do not bloat the record.
func (p *Processor) failJob(ctx context.Context, logger *zap.Logger, jobID string, cause error) error {
	logger.Error("Job failed", zap.Error(cause))

	msg := cause.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	if err := p.coordinator.Fail(ctx, jobID, msg); err != nil {
		logger.Error("Failed to record job failure", zap.Error(err))
	}
	return nil
}
