// Package app wires configuration into the running components shared by
// the gateway and the operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/ai"
	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/circuitbreaker"
	"github.com/lalithlochan/outreach/internal/config"
	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/importer"
	"github.com/lalithlochan/outreach/internal/metrics"
	"github.com/lalithlochan/outreach/internal/outreach"
	"github.com/lalithlochan/outreach/internal/redis"
	"github.com/lalithlochan/outreach/internal/report"
	"github.com/lalithlochan/outreach/internal/sns"
	"github.com/lalithlochan/outreach/internal/worker"
)

// App holds the wired components. Optional ones are nil when their
// configuration is missing or the backing service is unreachable.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB        *db.DB
	Repo      *db.Repository
	Templates *outreach.Templates
	Campaigns *campaign.Service
	Importer  *importer.Importer
	Worker    *worker.Worker
	Runner    *worker.Runner
	Reports   *report.Exporter

	Redis       *redis.Client
	RateLimiter *redis.RateLimiter
	Sender      worker.Sender
	Publisher   *sns.Publisher
}

// New opens the record store and builds everything around it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	database, err := db.Open(ctx, db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.DBMaxConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database

	// The embedded store migrates itself; Postgres goes through cmd/migrator.
	if database.Driver() == db.DriverSQLite {
		migrations, err := database.Migrate(ctx)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		if len(migrations.Applied) > 0 {
			logger.Info("database migrated", zap.Strings("applied", migrations.Applied))
		}
	}
	a.Repo = db.NewRepository(database, logger)

	a.Templates, err = outreach.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	var opts []campaign.Option
	if cfg.AIEnabled {
		client, err := ai.NewClient(ai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger)
		if err != nil {
			logger.Warn("ai personalization disabled", zap.Error(err))
		} else {
			opts = append(opts, campaign.WithPersonalizer(ai.NewPersonalizer(client, logger)))
			logger.Info("ai personalization enabled", zap.String("model", cfg.OpenAIModel))
		}
	}
	a.Campaigns = campaign.NewService(a.Repo, outreach.NewGenerator(a.Templates), logger, opts...)
	a.Importer = importer.New(a.Repo, cfg.DefaultRegion, logger)

	a.connectRedis(ctx)
	a.buildSender(ctx)
	a.buildPublisher(ctx)
	a.buildWorker()
	a.buildReports(ctx)

	return a, nil
}

// connectRedis is best effort: without Redis the API is not rate limited,
// the daily cap is advisory and passes only exclude each other in-process.
func (a *App) connectRedis(ctx context.Context) {
	cfg := a.Config
	client, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("redis unavailable, running without shared limits",
			zap.Error(err),
			zap.String("addr", cfg.RedisAddr()),
		)
		return
	}
	a.Redis = client

	if cfg.APIRateLimit > 0 {
		a.RateLimiter = redis.NewRateLimiter(client, a.Logger, redis.RateLimitConfig{
			Limit:  cfg.APIRateLimit,
			Window: time.Minute,
		})
	}
}

func (a *App) buildSender(ctx context.Context) {
	cfg := a.Config
	sender, err := worker.NewSender(ctx, worker.TransportConfig{
		Transport:      cfg.MailTransport,
		From:           cfg.MailFrom,
		FromName:       cfg.MailFromName,
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SMTPUsername:   cfg.SMTPUsername,
		SMTPPassword:   cfg.SMTPPassword,
		SendGridAPIKey: cfg.SendGridAPIKey,
		AWSRegion:      cfg.AWSRegion,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("mail transport not configured, dispatch will fail until it is",
			zap.String("transport", cfg.MailTransport),
			zap.Error(err),
		)
		return
	}

	if cfg.BreakerMaxFailures <= 0 {
		a.Logger.Info("transport circuit breaker disabled", zap.String("transport", sender.Name()))
		a.Sender = sender
		return
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        sender.Name(),
		MaxFailures: cfg.BreakerMaxFailures,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.SetCircuitState(name, int(to))
		},
	}, a.Logger)
	a.Sender = worker.NewProtectedSender(sender, breaker, a.Logger)
}

func (a *App) buildPublisher(ctx context.Context) {
	if a.Config.SNSTopicARN == "" {
		return
	}
	p, err := sns.NewPublisher(ctx, a.Config.SNSTopicARN)
	if err != nil {
		a.Logger.Warn("sns publisher unavailable, outcome events disabled", zap.Error(err))
		return
	}
	a.Publisher = p
}

func (a *App) buildWorker() {
	cfg := a.Config
	opts := []worker.Option{worker.WithLifecycle(a.Campaigns)}
	if a.Publisher != nil {
		opts = append(opts, worker.WithPublisher(a.Publisher))
	}

	var locker *redis.Locker
	if a.Redis != nil {
		if cfg.DailySendCap > 0 {
			opts = append(opts, worker.WithQuota(redis.NewDailyQuota(a.Redis, cfg.DailySendCap, a.Logger)))
		}
		locker = redis.NewLocker(a.Redis, 0, a.Logger)
	}

	a.Worker = worker.New(a.Repo, a.Sender, worker.Config{
		SendTimeout:   cfg.SendTimeout,
		RatePerSecond: cfg.SendRatePerSecond,
	}, a.Logger, opts...)

	a.Runner = worker.NewRunner(a.Worker, a.Campaigns, locker, worker.RunnerConfig{
		DispatchInterval: cfg.DispatchInterval,
		AnalyticsCron:    cfg.AnalyticsCron,
	}, a.Logger)
}

func (a *App) buildReports(ctx context.Context) {
	a.Reports = report.NewExporter(a.Campaigns, a.Logger)
	if a.Config.ReportBucket == "" {
		return
	}
	if _, err := a.Reports.WithBucket(ctx, a.Config.ReportBucket, a.Config.AWSRegion); err != nil {
		a.Logger.Warn("report uploads disabled", zap.Error(err))
	}
}

// Health reports whether the record store answers.
func (a *App) Health(ctx context.Context) error {
	if err := a.DB.Health(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Close releases Redis and the database.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
