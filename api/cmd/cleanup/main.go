package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"mediaconv/api/config"
	"mediaconv/api/dto"
	"mediaconv/artifacts"
	"mediaconv/cache"
	"mediaconv/database"
	"mediaconv/jobs"
	"mediaconv/repository"
)

// Cleanup runs both sweeps once and prints the report as JSON on stdout.
// Scheduling (cron, systemd timer) is the operator's business.
func main() {
	dryRun := flag.Bool("dry-run", false, "report what would be removed without deleting anything")
	maxAgeHours := flag.Int("max-age-hours", 0, "override the abandonment threshold for the orphan sweep")
	batchSize := flag.Int("batch-size", 100, "maximum records per sweep")
	statsOnly := flag.Bool("stats", false, "print job stats and exit")
	flag.Parse()

	if err := run(*dryRun, *maxAgeHours, *batchSize, *statsOnly); err != nil {
		log.Fatal(err)
	}
}

func run(dryRun bool, maxAgeHours, batchSize int, statsOnly bool) error {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := repository.NewRetryingStore(
		repository.NewPostgresStore(db),
		repository.RetryPolicy{MaxRetries: cfg.StoreRetries, BaseDelay: cfg.StoreRetryBase},
		logger)

	if statsOnly {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(dto.StatsResponse{
			ActiveJobCount:      stats.ActiveJobs,
			OldestJobAgeSeconds: int64(stats.OldestAge.Seconds()),
			NewestJobAgeSeconds: int64(stats.NewestAge.Seconds()),
		})
	}

	artifactStore, err := artifacts.NewMinioStore(artifacts.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
	})
	if err != nil {
		return err
	}

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
		logger.Warn("progress cache unavailable, skipping key release", zap.Error(err))
	} else {
		defer redisCache.Close()
		progressStore = cache.NewProgressCache(redisCache, cfg.ProgressTTL)
	}

	sweeper := jobs.NewSweeper(store, artifactStore, progressStore, cfg.OrphanGrace, cfg.AbandonAfter, logger)

	opts := jobs.SweepOptions{
		DryRun:    dryRun,
		MaxAge:    time.Duration(maxAgeHours) * time.Hour,
		BatchSize: batchSize,
	}

	expired, err := sweeper.SweepExpired(ctx, opts)
	if err != nil {
		return err
	}
	orphans, err := sweeper.SweepOrphans(ctx, opts)
	if err != nil {
		return err
	}

	return printJSON(dto.NewCleanupResponse(dryRun, expired, orphans))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
