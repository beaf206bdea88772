package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/service"
	"github.com/hvaldezm/delivery-incidents/internal/config"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/external/lark"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/external/openai"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/repository"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/sqlite"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/storage"
	httpserver "github.com/hvaldezm/delivery-incidents/internal/interfaces/http"
	"github.com/hvaldezm/delivery-incidents/internal/reconcile"
	"github.com/hvaldezm/delivery-incidents/internal/worker"
	"github.com/hvaldezm/delivery-incidents/pkg/database"
	"github.com/hvaldezm/delivery-incidents/pkg/utils"
)

func main() {
	// Load .env if present, then configuration
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting delivery incident report service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Evidence.BaseDir, 0755); err != nil {
		logger.Fatal("Failed to create evidence directory", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Reconcile.OutputDir, 0755); err != nil {
		logger.Fatal("Failed to create export directory", zap.Error(err))
	}

	// Repositories and transaction manager
	txManager := sqlite.NewDB(db.DB, logger)
	reportRepo := repository.NewReportRepository(db.DB, logger)
	transitionRepo := repository.NewTransitionRepository(db.DB, logger)

	// External adapters
	evidenceStore := storage.NewLocalEvidenceStore(cfg.Evidence.BaseDir, logger)
	extractor := openai.NewExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)
	notifier := lark.NewNotifier(lark.Config{
		AppID:       cfg.Lark.AppID,
		AppSecret:   cfg.Lark.AppSecret,
		ZoneChats:   cfg.Lark.ZoneChats,
		DefaultChat: cfg.Lark.DefaultChat,
	}, logger)

	// Application services
	reportService := service.NewReportService(
		reportRepo, transitionRepo, txManager,
		evidenceStore, extractor, notifier,
		logger,
	)
	sweepService := service.NewSweepService(
		reportRepo, transitionRepo, txManager, notifier,
		logger,
		service.WithBatchSize(cfg.Sweep.BatchSize),
	)
	exporter := reconcile.NewExporter(reportRepo, logger)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(worker.NewTimeoutSweeper(sweepService, cfg.Sweep.Interval, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, reportService, exporter, utils.NewKVLogger(logger))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	manager.StopAll()

	if err := server.Stop(); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
