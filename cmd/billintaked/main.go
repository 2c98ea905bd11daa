package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sitewalk/bill-intake/internal/cache"
	"github.com/sitewalk/bill-intake/internal/common"
	"github.com/sitewalk/bill-intake/internal/contentstore"
	"github.com/sitewalk/bill-intake/internal/extract"
	"github.com/sitewalk/bill-intake/internal/jobs"
	"github.com/sitewalk/bill-intake/internal/normalize"
	"github.com/sitewalk/bill-intake/internal/pipeline"
	"github.com/sitewalk/bill-intake/internal/repository"
	"github.com/sitewalk/bill-intake/internal/server"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// database
	pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema setup failed", "error", err)
		os.Exit(1)
	}

	// local stores
	if err := os.MkdirAll(filepath.Dir(cfg.Store.ContentDBPath), 0o755); err != nil {
		logger.Error("creating data directory failed", "error", err)
		os.Exit(1)
	}
	store, err := contentstore.Open(cfg.Store.ContentDBPath, logger)
	if err != nil {
		logger.Error("opening content store failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	extCache, err := cache.Open(cfg.Store.CacheDBPath, logger)
	if err != nil {
		logger.Error("opening extraction cache failed", "error", err)
		os.Exit(1)
	}
	defer extCache.Close()

	// extraction stack
	gen, err := extract.NewGeminiGenerator(ctx, extract.GeminiConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
	}, logger)
	if err != nil {
		logger.Error("gemini client failed", "error", err)
		os.Exit(1)
	}
	defer gen.Close()

	parser := extract.NewParser(gen, extract.Options{
		MaxAttempts: cfg.Gemini.MaxAttempts,
		BaseBackoff: cfg.Gemini.BaseBackoff,
		CallTimeout: cfg.Gemini.Timeout,
	}, logger)

	normalizer := normalize.New(normalize.Config{
		DensityThreshold: cfg.Normalize.DensityThreshold,
		DPI:              cfg.Normalize.DPI,
		MaxPages:         cfg.Normalize.MaxPages,
		Tesseract:        cfg.Normalize.Tesseract,
		TesseractLang:    cfg.Normalize.TesseractLang,
	}, logger)

	records := repository.NewRecordRepository(pool, logger)
	corrections := repository.NewCorrectionRepository(pool, logger)
	tracker := jobs.NewStore()

	proc := pipeline.NewProcessor(store, normalizer, extCache, parser, tracker,
		records, corrections, pipeline.Config{
			Policy: extract.Policy{
				MinConfidence: cfg.Pipeline.MinConfidence,
				TOUTolerance:  cfg.Pipeline.TOUTolerance,
			},
			HintLimit: cfg.Pipeline.HintLimit,
		}, logger)

	queue := jobs.NewQueue(proc.Process, logger,
		jobs.WithWorkers(cfg.Pipeline.Workers),
		jobs.WithQueueSize(cfg.Pipeline.QueueSize),
		jobs.WithJobBudget(cfg.Pipeline.JobBudget))

	// http
	handlers := &server.Handlers{
		Store:          store,
		Tracker:        tracker,
		Queue:          queue,
		Records:        records,
		Corrections:    corrections,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Ping: func(ctx context.Context) error {
			return repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout)
		},
		Logger: logger,
	}
	srv := server.New(cfg.Server.Addr, handlers, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
