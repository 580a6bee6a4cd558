package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Record store. DBDriver is "sqlite3" (embedded) or "pgx" (Postgres).
	DBDriver   string
	DBDSN      string
	DBMaxConns int

	// Redis is optional; without it the daily cap, the dispatch lock and
	// API rate limiting are disabled.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Mail transport: smtp, ses, sendgrid or log.
	MailTransport string
	MailFrom      string
	MailFromName  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	SendGridAPIKey string

	// AWS services
	AWSRegion             string
	SNSTopicARN           string // outcome events, optional
	SQSEngagementQueueURL string // open/click/reply events, optional
	ReportBucket          string // report uploads, optional

	// Dispatch
	DispatchInterval   time.Duration
	AnalyticsCron      string
	SendTimeout        time.Duration
	DailySendCap       int     // 0 disables the hard cap
	SendRatePerSecond  float64 // 0 disables pacing
	BreakerMaxFailures int     // 0 disables the transport circuit breaker

	// Content
	TemplatesFile string
	DefaultRegion string // phone parsing region for imports

	APIRateLimit int // requests per minute per client, 0 disables

	// AI personalization
	AIEnabled     bool
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBDriver:   "sqlite3",
		DBDSN:      "outreach.db",
		DBMaxConns: 10,

		RedisHost: "localhost",
		RedisPort: 6379,

		MailTransport: "smtp",
		MailFromName:  "Outreach",
		SMTPPort:      587,

		AWSRegion: "us-east-1",

		DispatchInterval:   time.Hour,
		AnalyticsCron:      "0 9 * * *",
		SendTimeout:        30 * time.Second,
		BreakerMaxFailures: 5,

		DefaultRegion: "US",
		APIRateLimit:  120,

		OpenAIModel: "gpt-4o-mini",
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	cfg.DBDriver = stringEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = stringEnv("DB_DSN", cfg.DBDSN)
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}
	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "pgx" {
		return nil, fmt.Errorf("invalid DB_DRIVER: %q (want sqlite3 or pgx)", cfg.DBDriver)
	}

	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.MailTransport = stringEnv("MAIL_TRANSPORT", cfg.MailTransport)
	cfg.MailFrom = stringEnv("MAIL_FROM", cfg.MailFrom)
	cfg.MailFromName = stringEnv("MAIL_FROM_NAME", cfg.MailFromName)
	cfg.SMTPHost = stringEnv("SMTP_HOST", cfg.SMTPHost)
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", cfg.SMTPPort); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = stringEnv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = stringEnv("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SendGridAPIKey = stringEnv("SENDGRID_API_KEY", cfg.SendGridAPIKey)

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SNSTopicARN = stringEnv("SNS_TOPIC_ARN", cfg.SNSTopicARN)
	cfg.SQSEngagementQueueURL = stringEnv("SQS_ENGAGEMENT_QUEUE_URL", cfg.SQSEngagementQueueURL)
	cfg.ReportBucket = stringEnv("REPORT_BUCKET", cfg.ReportBucket)

	if cfg.DispatchInterval, err = durationEnv("DISPATCH_INTERVAL", cfg.DispatchInterval); err != nil {
		return nil, err
	}
	cfg.AnalyticsCron = stringEnv("ANALYTICS_CRON", cfg.AnalyticsCron)
	if cfg.SendTimeout, err = durationEnv("SEND_TIMEOUT", cfg.SendTimeout); err != nil {
		return nil, err
	}
	if cfg.DailySendCap, err = intEnv("DAILY_SEND_CAP", cfg.DailySendCap); err != nil {
		return nil, err
	}
	if v := os.Getenv("SEND_RATE_PER_SECOND"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_RATE_PER_SECOND: %w", err)
		}
		cfg.SendRatePerSecond = r
	}
	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}

	cfg.TemplatesFile = stringEnv("TEMPLATES_FILE", cfg.TemplatesFile)
	cfg.DefaultRegion = stringEnv("DEFAULT_REGION", cfg.DefaultRegion)
	if cfg.APIRateLimit, err = intEnv("API_RATE_LIMIT", cfg.APIRateLimit); err != nil {
		return nil, err
	}

	// AI is enabled implicitly by providing a key, unless AI_ENABLED says otherwise
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
		cfg.AIEnabled = true
	}
	if v := os.Getenv("AI_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AI_ENABLED: %w", err)
		}
		cfg.AIEnabled = enabled && cfg.OpenAIAPIKey != ""
	}
	cfg.OpenAIModel = stringEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = stringEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	return cfg, nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
