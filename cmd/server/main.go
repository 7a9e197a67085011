package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"photoprint/cache"
	"photoprint/config"
	"photoprint/database"
	"photoprint/handlers"
	"photoprint/ingest"
	"photoprint/models"
	"photoprint/print"
	"photoprint/queue"
	"photoprint/repository"
	"photoprint/retry"
	"photoprint/storage"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Print service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewLocal(cfg.StorageBasePath)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}

	var repo repository.Repository = repository.NewMemory()
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		repo = repository.NewPostgresRepo(db)
		logger.Info("Task persistence enabled")
	}

	var statusCache *cache.StatusCache
	var statusSink queue.StatusSink
	if cfg.RedisAddr != "" {
		redisCache, err := database.ConnectCache(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		statusCache = cache.NewStatusCache(redisCache)
		statusSink = statusCache
		logger.Info("Status cache enabled")
	}

	backoff := retry.Policy{
		Strategy:    retry.Exponential,
		Delay:       cfg.RetryDelay,
		MaxAttempts: 1,
	}
	q := queue.New(repo, statusSink, queue.Config{
		Workers:            cfg.WorkerCount,
		DefaultMaxAttempts: cfg.MaxAttempts,
		Backoff:            backoff,
		StaleAfter:         cfg.StaleTaskTimeout,
	}, logger)

	reattacher := print.NewReattacher(cfg.ExifTool, retry.DefaultPolicy(), logger)
	processor := print.NewProcessor(store, reattacher, print.Config{
		SiteURL:     cfg.SiteURL,
		Attribution: cfg.Attribution,
	}, logger)

	q.Register(models.TypePrintPhoto, func(ctx context.Context, task *models.Task) error {
		return processor.Process(ctx, task.StorageKey, task.LocationName)
	})
	q.Start(ctx)

	if cfg.KafkaBrokers != "" {
		consumer, err := ingest.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, q, logger)
		if err != nil {
			logger.Fatal("Failed to create upload consumer", zap.Error(err))
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Consume(ctx, cfg.KafkaTopic); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Upload consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("Upload ingest enabled", zap.String("topic", cfg.KafkaTopic))
	}

	printHandler := handlers.NewPrintHandler(q, store, cfg.SourcePrefix, statusCache, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/prints/", printHandler.Artifact)
	mux.HandleFunc("/tasks/", printHandler.Status)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	handler = middlewareChain(handler, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	q.Wait()
	logger.Info("Stopped")
}
