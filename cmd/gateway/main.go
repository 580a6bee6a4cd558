package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/outreach/internal/api"
	"github.com/lalithlochan/outreach/internal/app"
	"github.com/lalithlochan/outreach/internal/config"
	"github.com/lalithlochan/outreach/internal/observ"
	"github.com/lalithlochan/outreach/internal/sqs"
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

	logger.Info("starting outreach gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("mail_transport", cfg.MailTransport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var consumer *sqs.Consumer
	if cfg.SQSEngagementQueueURL != "" {
		consumer, err = sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSEngagementQueueURL,
		}, a.Campaigns, logger)
		if err != nil {
			logger.Warn("sqs consumer unavailable, engagement events only arrive over HTTP",
				zap.Error(err),
			)
		}
	}

	handler := api.NewHandler(logger, api.Services{
		Campaigns: a.Campaigns,
		Importer:  a.Importer,
		Runner:    a.Runner,
		Reports:   a.Reports,
		Templates: a.Templates,
		Health:    a,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, a.RateLimiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.Runner.Start(gctx); err != nil {
			return fmt.Errorf("failed to start runner: %w", err)
		}
		<-gctx.Done()
		a.Runner.Stop()
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped gracefully")
	return nil
}
