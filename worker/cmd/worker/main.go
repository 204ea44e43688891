package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mediaconv/artifacts"
	"mediaconv/cache"
	"mediaconv/database"
	"mediaconv/jobs"
	"mediaconv/kafka"
	"mediaconv/repository"
	"mediaconv/worker/config"
	"mediaconv/worker/converter"
	"mediaconv/worker/pool"
	"mediaconv/worker/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	store := repository.NewRetryingStore(
		repository.NewPostgresStore(db),
		repository.RetryPolicy{MaxRetries: cfg.StoreRetries, BaseDelay: cfg.StoreRetryBase},
		logger,
	)

	var progressStore jobs.ProgressStore
	redisCache, err := database.ConnectCache(database.CacheConfig{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisCmdTimeout,
		WriteTimeout: cfg.RedisCmdTimeout,
		TLS:          cfg.RedisTLS,
	})
	if err != nil {
		logger.Warn("progress cache unavailable, progress will come from the durable store", zap.Error(err))
	} else {
		defer redisCache.Close()
		progressStore = cache.NewProgressCache(redisCache, cfg.ProgressTTL)
		logger.Info("Connected to Redis")
	}

	objectStore, err := artifacts.NewMinioStore(artifacts.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	if err := objectStore.EnsureBucket(ctx, cfg.OutputBucket); err != nil {
		return fmt.Errorf("ensure output bucket: %w", err)
	}
	logger.Info("Connected to MinIO")

	manager := jobs.NewManager(store, cfg.RetentionWindow, logger)
	tracker := jobs.NewTracker(progressStore, manager, cfg.ProgressInterval, logger)
	coordinator := jobs.NewCoordinator(manager, tracker, jobs.DefaultVerifyPolicy(), logger)

	media := converter.NewConverter(cfg.FFmpegPath, cfg.FFprobePath, logger)
	processor := service.NewProcessor(manager, tracker, coordinator, objectStore, media, service.Config{
		OutputBucket: cfg.OutputBucket,
		TempDir:      cfg.TempDir,
		PreviewWidth: cfg.PreviewWidth,
	}, logger)

	workers := pool.NewWorkerPool(cfg.WorkerCount)

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, logger)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer consumer.Close()

	errChan := make(chan error, 1)
	go func() {
		// Conversions run under the process context, not the session
		// context, so a group rebalance does not abort work in flight.
		errChan <- consumer.Consume(ctx, cfg.KafkaTopic, func(_ context.Context, msg *kafka.ConvertMessage) error {
			workers.Submit(ctx, msg, processor.Process)
			return nil
		})
	}()

	logger.Info("Worker started",
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.Int("workers", cfg.WorkerCount),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Consumer stopped", zap.Error(err))
		}
	}

	cancel()

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All in-flight jobs drained")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("Drain timed out, exiting with jobs in flight")
	}

	return nil
}
