package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"mediaconv/api/config"
	"mediaconv/api/handlers"
	"mediaconv/api/middleware"
	"mediaconv/artifacts"
	"mediaconv/cache"
	"mediaconv/database"
	"mediaconv/jobs"
	"mediaconv/kafka"
	"mediaconv/repository"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("API service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

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

	// The cache is best-effort: when it is down the service still starts
	// and progress reads fall back to the durable store.
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
		logger.Warn("progress cache unavailable, serving progress from the durable store", zap.Error(err))
	} else {
		defer redisCache.Close()
		progressStore = cache.NewProgressCache(redisCache, cfg.ProgressTTL)
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
	for _, bucket := range []string{cfg.UploadBucket, cfg.OutputBucket} {
		if err := artifactStore.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		return err
	}
	defer producer.Close()

	manager := jobs.NewManager(store, cfg.RetentionWindow, logger)
	tracker := jobs.NewTracker(progressStore, manager, cfg.ProgressInterval, logger)
	coordinator := jobs.NewCoordinator(manager, tracker, jobs.VerifyPolicy{
		Attempts:  cfg.VerifyAttempts,
		BaseDelay: cfg.VerifyBase,
		MaxDelay:  cfg.VerifyMax,
	}, logger)
	sweeper := jobs.NewSweeper(store, artifactStore, progressStore, cfg.OrphanGrace, cfg.AbandonAfter, logger)

	jobHandler := handlers.NewJobHandler(handlers.JobHandlerConfig{
		Manager:       manager,
		Progress:      tracker,
		Completion:    coordinator,
		Artifacts:     artifactStore,
		Producer:      producer,
		Topic:         cfg.KafkaTopic,
		UploadBucket:  cfg.UploadBucket,
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})
	adminHandler := handlers.NewAdminHandler(sweeper, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", jobHandler.Convert).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/progress", jobHandler.Progress).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/download", jobHandler.Download).Methods(http.MethodGet)
	api.HandleFunc("/admin/cleanup", adminHandler.Cleanup).Methods(http.MethodPost)
	api.HandleFunc("/admin/stats", adminHandler.Stats).Methods(http.MethodGet)

	router.Use(middleware.TraceID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Trace-ID"},
		ExposedHeaders: []string{"X-Trace-ID", "Retry-After"},
	}).Handler(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
