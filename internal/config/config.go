// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret     string
	BcryptCost    int
	AdminEmail    string
	AdminPassword string

	// Redis（未設定の場合はプロセス内のレート制限を使う）
	RedisURL string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitForms   int
	RateLimitLogin   int

	// Mail
	MailDriver   string
	MailFrom     string
	StaffEmail   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailAPIURL   string
	MailAPIKey   string
	MailTimeout  time.Duration

	// Outbox worker
	OutboxInterval        time.Duration
	OutboxBatchSize       int
	OutboxMaxConcurrent   int
	OutboxRetentionDays   int
	OutboxCleanupInterval time.Duration

	// WorkerMetricsPort はワーカーが/metricsを公開するポート。空の場合は公開しない。
	WorkerMetricsPort string

	// Site
	SiteName string
	BaseURL  string

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", "")
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", "")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitForms = getEnvInt("RATE_LIMIT_FORMS", 5)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.MailDriver = getEnvString("MAIL_DRIVER", "log")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")
	cfg.StaffEmail = getEnvString("STAFF_EMAIL", "")
	cfg.SMTPHost = getEnvString("SMTP_HOST", "localhost")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailAPIURL = getEnvString("MAIL_API_URL", "")
	cfg.MailAPIKey = getEnvString("MAIL_API_KEY", "")
	cfg.MailTimeout = getEnvDuration("MAIL_TIMEOUT", 30*time.Second)
	cfg.OutboxInterval = getEnvDuration("OUTBOX_INTERVAL", 30*time.Second)
	cfg.OutboxBatchSize = getEnvInt("OUTBOX_BATCH_SIZE", 50)
	cfg.OutboxMaxConcurrent = getEnvInt("OUTBOX_MAX_CONCURRENT", 5)
	cfg.OutboxRetentionDays = getEnvInt("OUTBOX_RETENTION_DAYS", 30)
	cfg.OutboxCleanupInterval = getEnvDuration("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")
	cfg.SiteName = getEnvString("SITE_NAME", "HopeHub")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は組み合わせで決まる設定の整合性を検証する。
func (c *Config) validate() error {
	switch c.MailDriver {
	case "log", "smtp":
	case "http":
		if c.MailAPIURL == "" {
			return fmt.Errorf("MAIL_API_URL is required when MAIL_DRIVER=http")
		}
	default:
		return fmt.Errorf("unsupported MAIL_DRIVER %q (want log, smtp or http)", c.MailDriver)
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
