package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string // empty selects the in-memory store
	AdminTelegramID int64
	LogLevel        string
	Environment     string

	MonitoringInterval     time.Duration
	RetryDelay             time.Duration
	MaxRetries             int
	NotificationRetryDelay time.Duration
	MaxConcurrentRequests  int
	RequestTimeout         time.Duration
	RequestsPerSecond      float64
	NotifyPolicy           string
	StartupSettleDelay     time.Duration
	ShutdownTimeout        time.Duration

	DataRetentionDays  int
	CronSpecCleanup    string
	CronSpecDeactivate string

	HTTPAddr   string // empty disables the ops server
	RZDBaseURL string
}

// Load reads configuration from environment variables and .env file (if present).
// The bot token is not checked here; commands that talk to Telegram call
// RequireTelegram.
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		NotifyPolicy:  strings.ToLower(stringOr("NOTIFY_POLICY", "edge")),
		LogLevel:      strings.ToLower(stringOr("LOG_LEVEL", "info")),
		Environment:   strings.ToLower(stringOr("ENVIRONMENT", "development")),

		CronSpecCleanup:    stringOr("CRON_SPEC_CLEANUP", "0 3 * * *"),    // 03:00 daily
		CronSpecDeactivate: stringOr("CRON_SPEC_DEACTIVATE", "5 0 * * *"), // just after midnight
		HTTPAddr:           stringOr("HTTP_ADDR", ":8080"),
		RZDBaseURL:         strings.TrimRight(stringOr("RZD_BASE_URL", "https://pass.rzd.ru"), "/"),
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok && v == "" {
		cfg.HTTPAddr = ""
	}

	var err error
	if cfg.AdminTelegramID, err = int64Or("ADMIN_TELEGRAM_ID", 0); err != nil {
		return nil, err
	}
	if cfg.MonitoringInterval, err = secondsOr("MONITORING_INTERVAL", 300); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = secondsOr("RETRY_DELAY", 60); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intOr("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.NotificationRetryDelay, err = secondsOr("NOTIFICATION_RETRY_DELAY", 5); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentRequests, err = intOr("MAX_CONCURRENT_REQUESTS", 10); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = secondsOr("REQUEST_TIMEOUT", 30); err != nil {
		return nil, err
	}
	if cfg.StartupSettleDelay, err = secondsOr("STARTUP_SETTLE_DELAY", 5); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = secondsOr("SHUTDOWN_TIMEOUT", 15); err != nil {
		return nil, err
	}
	if cfg.DataRetentionDays, err = intOr("DATA_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		if cfg.RequestsPerSecond, err = strconv.ParseFloat(v, 64); err != nil || cfg.RequestsPerSecond <= 0 {
			return nil, fmt.Errorf("invalid REQUESTS_PER_SECOND %q", v)
		}
	} else {
		cfg.RequestsPerSecond = 2
	}

	return cfg, nil
}

// RequireTelegram fails when no bot token is configured.
func (c *AppConfig) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	return nil
}

// UseMemoryStore reports whether the process runs without Postgres.
func (c *AppConfig) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}

func stringOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func int64Or(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func secondsOr(key string, def int) (time.Duration, error) {
	n, err := intOr(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
