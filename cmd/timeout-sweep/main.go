// Command timeout-sweep runs one batch of the timeout sweep and exits.
// Useful from cron or for operational catch-up after downtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/hvaldezm/delivery-incidents/internal/application/service"
	"github.com/hvaldezm/delivery-incidents/internal/config"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/external/lark"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/repository"
	"github.com/hvaldezm/delivery-incidents/internal/infrastructure/persistence/sqlite"
	"github.com/hvaldezm/delivery-incidents/pkg/database"
	"github.com/hvaldezm/delivery-incidents/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	batchSize := flag.Int("batch", 0, "override sweep batch size")
	flag.Parse()

	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
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

	txManager := sqlite.NewDB(db.DB, logger)
	reportRepo := repository.NewReportRepository(db.DB, logger)
	transitionRepo := repository.NewTransitionRepository(db.DB, logger)

	notifier := lark.NewNotifier(lark.Config{
		AppID:       cfg.Lark.AppID,
		AppSecret:   cfg.Lark.AppSecret,
		ZoneChats:   cfg.Lark.ZoneChats,
		DefaultChat: cfg.Lark.DefaultChat,
	}, logger)

	size := cfg.Sweep.BatchSize
	if *batchSize > 0 {
		size = *batchSize
	}

	sweepService := service.NewSweepService(
		reportRepo, transitionRepo, txManager, notifier,
		logger,
		service.WithBatchSize(size),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	swept, err := sweepService.Run(ctx)
	if err != nil {
		logger.Fatal("Sweep failed", zap.Error(err))
	}

	logger.Info("Sweep finished", zap.Int("swept", swept))
}
