package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// Empty only in local mode, where the in-memory stores are used.
	DatabaseURL string `env:"DATABASE_URL" validate:"required_unless=Env local"`
	RedisURL    string `env:"REDIS_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"cart-recovery.events" validate:"required"`

	WorkerCount       int `env:"WORKER_COUNT" envDefault:"4" validate:"min=1,max=32"`
	PollIntervalMS    int `env:"POLL_INTERVAL_MS" envDefault:"2000" validate:"min=100,max=9000"`
	LockTTLSec        int `env:"LOCK_TTL_SEC" envDefault:"120" validate:"min=10,max=3600"`
	JobTimeoutSec     int `env:"JOB_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=900"`
	JobRetentionHours int `env:"JOB_RETENTION_HOURS" envDefault:"168" validate:"min=1"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`
	JWKSURL   string `env:"JWKS_URL" validate:"omitempty,url"`

	ResendAPIKey       string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom         string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	UnsubscribeBaseURL string `env:"UNSUBSCRIBE_BASE_URL" envDefault:"http://localhost:8080/unsubscribe" validate:"url"`

	SendsPerMinute int `env:"SENDS_PER_MINUTE" envDefault:"20" validate:"min=0"`
	SendsPerHour   int `env:"SENDS_PER_HOUR" envDefault:"300" validate:"min=0"`
	MinSendDelayMS int `env:"MIN_SEND_DELAY_MS" envDefault:"500" validate:"min=0"`
	SendMaxRetries int `env:"SEND_MAX_RETRIES" envDefault:"3" validate:"min=0,max=10"`

	DiscountPercent float64 `env:"DISCOUNT_PERCENT" envDefault:"10" validate:"gt=0,lte=100"`
	FunnelBatchSize int     `env:"FUNNEL_BATCH_SIZE" envDefault:"50" validate:"min=1,max=1000"`
}

// Load reads an optional .env file, then the process environment, which wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c *Config) MinSendDelay() time.Duration {
	return time.Duration(c.MinSendDelayMS) * time.Millisecond
}

// InMemory reports whether the process should run on the in-memory stores.
func (c *Config) InMemory() bool {
	return c.Env == "local" && c.DatabaseURL == ""
}
