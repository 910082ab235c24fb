// Package config loads process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/cache"
	"github.com/xraph/socialq/cron"
	"github.com/xraph/socialq/email"
)

// Broker drivers accepted by BROKER_DRIVER.
const (
	BrokerRedis    = "redis"
	BrokerPostgres = "postgres"
)

// Config is every setting the socialq process reads.
type Config struct {
	RedisAddr        string        `mapstructure:"REDIS_ADDR"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int           `mapstructure:"REDIS_DB"`
	RedisDialTimeout time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisOpTimeout   time.Duration `mapstructure:"REDIS_OP_TIMEOUT"`

	BrokerDriver string `mapstructure:"BROKER_DRIVER"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	ClientURL   string `mapstructure:"CLIENT_URL"`

	MailgunDomain    string `mapstructure:"MAILGUN_DOMAIN"`
	MailgunAPIKey    string `mapstructure:"MAILGUN_API_KEY"`
	EmailFromAddress string `mapstructure:"EMAIL_FROM_ADDRESS"`
	EmailFromName    string `mapstructure:"EMAIL_FROM_NAME"`
	EmailEnabled     bool   `mapstructure:"EMAIL_ENABLED"`

	JobAttempts       int           `mapstructure:"JOB_ATTEMPTS"`
	JobBackoff        time.Duration `mapstructure:"JOB_BACKOFF"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	StaleJobThreshold time.Duration `mapstructure:"STALE_JOB_THRESHOLD"`

	ResetTokenTTL time.Duration `mapstructure:"RESET_TOKEN_TTL"`

	DLQRetention     time.Duration `mapstructure:"DLQ_RETENTION"`
	DLQPurgeSchedule string        `mapstructure:"DLQ_PURGE_SCHEDULE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

func setDefaults(v *viper.Viper) {
	d := socialq.DefaultConfig()
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", cache.DefaultDialTimeout)
	v.SetDefault("REDIS_OP_TIMEOUT", cache.DefaultOpTimeout)
	v.SetDefault("BROKER_DRIVER", BrokerRedis)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CLIENT_URL", "http://localhost:3000")
	v.SetDefault("EMAIL_FROM_NAME", "socialq")
	v.SetDefault("EMAIL_ENABLED", false)
	v.SetDefault("JOB_ATTEMPTS", d.Attempts)
	v.SetDefault("JOB_BACKOFF", d.Backoff)
	v.SetDefault("POLL_INTERVAL", d.PollInterval)
	v.SetDefault("HEARTBEAT_INTERVAL", d.HeartbeatInterval)
	v.SetDefault("STALE_JOB_THRESHOLD", d.StaleJobThreshold)
	v.SetDefault("RESET_TOKEN_TTL", time.Hour)
	v.SetDefault("DLQ_RETENTION", 30*24*time.Hour)
	v.SetDefault("DLQ_PURGE_SCHEDULE", "@daily")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads the given dotenv files, or ./.env when none are named, and
// then decodes the environment. Missing files are skipped; variables
// already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("socialq/config: load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	keys := []string{
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_DIAL_TIMEOUT", "REDIS_OP_TIMEOUT",
		"BROKER_DRIVER", "DATABASE_URL", "HTTP_ADDR", "CLIENT_URL",
		"MAILGUN_DOMAIN", "MAILGUN_API_KEY", "EMAIL_FROM_ADDRESS", "EMAIL_FROM_NAME", "EMAIL_ENABLED",
		"JOB_ATTEMPTS", "JOB_BACKOFF", "POLL_INTERVAL", "HEARTBEAT_INTERVAL", "STALE_JOB_THRESHOLD",
		"RESET_TOKEN_TTL", "DLQ_RETENTION", "DLQ_PURGE_SCHEDULE", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("socialq/config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.BrokerDriver != BrokerRedis && c.BrokerDriver != BrokerPostgres {
		errs = append(errs, fmt.Errorf("BROKER_DRIVER must be %s or %s, got %q", BrokerRedis, BrokerPostgres, c.BrokerDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JobAttempts < 1 {
		errs = append(errs, fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", c.JobAttempts))
	}
	if c.JobBackoff < 0 {
		errs = append(errs, fmt.Errorf("JOB_BACKOFF must not be negative, got %s", c.JobBackoff))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("RESET_TOKEN_TTL must be positive, got %s", c.ResetTokenTTL))
	}
	if c.DLQRetention <= 0 {
		errs = append(errs, fmt.Errorf("DLQ_RETENTION must be positive, got %s", c.DLQRetention))
	}
	if _, err := cron.ParseSchedule(c.DLQPurgeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("DLQ_PURGE_SCHEDULE: %w", err))
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("socialq/config: %w", err)
	}
	return nil
}

// Dispatcher returns the queue tunables.
func (c *Config) Dispatcher() socialq.Config {
	d := socialq.DefaultConfig()
	d.Attempts = c.JobAttempts
	d.Backoff = c.JobBackoff
	d.PollInterval = c.PollInterval
	d.HeartbeatInterval = c.HeartbeatInterval
	d.StaleJobThreshold = c.StaleJobThreshold
	return d
}

// Cache returns the cache connection settings.
func (c *Config) Cache() cache.Config {
	return cache.Config{
		Addr:        c.RedisAddr,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		DialTimeout: c.RedisDialTimeout,
		OpTimeout:   c.RedisOpTimeout,
	}
}

// Email returns the Mailgun settings.
func (c *Config) Email() email.Config {
	return email.Config{
		MailgunDomain: c.MailgunDomain,
		MailgunAPIKey: c.MailgunAPIKey,
		FromEmail:     c.EmailFromAddress,
		FromName:      c.EmailFromName,
		Enabled:       c.EmailEnabled,
	}
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "broker=%s redis=%s db=%d ", c.BrokerDriver, c.RedisAddr, c.RedisDB)
	fmt.Fprintf(&sb, "redis_password=%s ", mask(c.RedisPassword))
	fmt.Fprintf(&sb, "database_url=%s ", mask(c.DatabaseURL))
	fmt.Fprintf(&sb, "http=%s client_url=%s ", c.HTTPAddr, c.ClientURL)
	fmt.Fprintf(&sb, "mailgun_domain=%s mailgun_api_key=%s email_enabled=%v ", c.MailgunDomain, mask(c.MailgunAPIKey), c.EmailEnabled)
	fmt.Fprintf(&sb, "job_attempts=%d job_backoff=%s ", c.JobAttempts, c.JobBackoff)
	fmt.Fprintf(&sb, "dlq_retention=%s dlq_purge_schedule=%q", c.DLQRetention, c.DLQPurgeSchedule)
	return sb.String()
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}
