package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/config"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	database, err := db.Open(ctx, db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: 1,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	start := time.Now()
	result, err := database.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	for _, name := range result.Skipped {
		logger.Debug("migration already applied", zap.String("name", name))
	}
	logger.Info("migrations complete",
		zap.String("driver", database.Driver()),
		zap.Strings("applied", result.Applied),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
