package config

import (
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "ENV", "DB_DRIVER", "DB_DSN", "DB_MAX_CONNS",
		"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
		"MAIL_TRANSPORT", "MAIL_FROM", "MAIL_FROM_NAME", "SMTP_HOST", "SMTP_PORT",
		"SMTP_USERNAME", "SMTP_PASSWORD", "SENDGRID_API_KEY", "AWS_REGION",
		"SNS_TOPIC_ARN", "SQS_ENGAGEMENT_QUEUE_URL", "REPORT_BUCKET",
		"DISPATCH_INTERVAL", "ANALYTICS_CRON", "SEND_TIMEOUT", "DAILY_SEND_CAP",
		"SEND_RATE_PER_SECOND", "BREAKER_MAX_FAILURES", "TEMPLATES_FILE",
		"DEFAULT_REGION", "API_RATE_LIMIT", "AI_ENABLED", "OPENAI_API_KEY",
		"OPENAI_MODEL", "OPENAI_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.DBDriver != "sqlite3" {
		t.Errorf("expected sqlite3 driver, got %s", cfg.DBDriver)
	}
	if cfg.DispatchInterval != time.Hour {
		t.Errorf("expected hourly dispatch, got %v", cfg.DispatchInterval)
	}
	if cfg.SendTimeout != 30*time.Second {
		t.Errorf("expected 30s send timeout, got %v", cfg.SendTimeout)
	}
	if cfg.AnalyticsCron != "0 9 * * *" {
		t.Errorf("expected daily analytics at 09:00, got %q", cfg.AnalyticsCron)
	}
	if cfg.DailySendCap != 0 {
		t.Errorf("expected hard cap disabled, got %d", cfg.DailySendCap)
	}
	if cfg.AIEnabled {
		t.Error("expected AI disabled without a key")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_DSN", "postgres://localhost/outreach")
	t.Setenv("DISPATCH_INTERVAL", "15m")
	t.Setenv("SEND_TIMEOUT", "10s")
	t.Setenv("DAILY_SEND_CAP", "50")
	t.Setenv("SEND_RATE_PER_SECOND", "2.5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.DBDriver != "pgx" || cfg.DBDSN != "postgres://localhost/outreach" {
		t.Errorf("unexpected db settings: %s %s", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.DispatchInterval != 15*time.Minute {
		t.Errorf("expected 15m, got %v", cfg.DispatchInterval)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.SendTimeout)
	}
	if cfg.DailySendCap != 50 {
		t.Errorf("expected cap 50, got %d", cfg.DailySendCap)
	}
	if cfg.SendRatePerSecond != 2.5 {
		t.Errorf("expected 2.5/s, got %v", cfg.SendRatePerSecond)
	}
	if !cfg.AIEnabled {
		t.Error("expected AI enabled by key")
	}
}

func TestLoad_AIExplicitlyDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AI_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.AIEnabled {
		t.Error("expected AI_ENABLED=false to win over the key")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"REDIS_PORT", "x"},
		{"DISPATCH_INTERVAL", "hourly"},
		{"SEND_TIMEOUT", "30"},
		{"DAILY_SEND_CAP", "ten"},
		{"SEND_RATE_PER_SECOND", "fast"},
		{"AI_ENABLED", "maybe"},
		{"DB_DRIVER", "mysql"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
