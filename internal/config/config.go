package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config keeps runtime settings for the reminder daemon.
type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-default:"data/taskminder.db"`
	HTTPAddr    string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	AppBaseURL  string `yaml:"app_base_url" env:"APP_BASE_URL" env-default:"http://localhost:3000"`

	Dispatch Dispatch `yaml:"dispatch"`
	Sweep    Sweep    `yaml:"sweep"`
	Push     Push     `yaml:"push"`
	SMTP     SMTP     `yaml:"smtp"`

	RedisAddr      string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL" env-default:"24h"`
}

// Dispatch configures the reminder dispatcher tick.
type Dispatch struct {
	Schedule  string        `yaml:"schedule" env:"DISPATCH_SCHEDULE" env-default:"@every 1m"`
	ClaimTTL  time.Duration `yaml:"claim_ttl" env:"CLAIM_TTL" env-default:"2m"`
	BatchSize int           `yaml:"batch_size" env:"DISPATCH_BATCH_SIZE" env-default:"200"`
}

// Sweep configures retention cleanup.
type Sweep struct {
	Schedule  string        `yaml:"schedule" env:"SWEEP_SCHEDULE" env-default:"@every 24h"`
	Retention time.Duration `yaml:"retention" env:"RETENTION" env-default:"48h"`
	BatchSize int           `yaml:"batch_size" env:"SWEEP_BATCH_SIZE" env-default:"500"`
}

// Push configures the Telegram push transport. An empty token disables it.
type Push struct {
	TelegramToken string        `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	Timeout       time.Duration `yaml:"timeout" env:"PUSH_TIMEOUT" env-default:"10s"`
	RatePerSec    int           `yaml:"rate_per_sec" env:"PUSH_RATE_PER_SEC" env-default:"25"`
}

// SMTP configures the email transport. An empty host disables it.
type SMTP struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     int           `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string        `yaml:"username" env:"SMTP_USERNAME"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	From     string        `yaml:"from" env:"SMTP_FROM"`
	Timeout  time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"15s"`
}

// Load reads configuration from CONFIG_PATH (YAML) when set, otherwise from
// environment variables, and validates it.
func Load() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}

	cfg.AppBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/")
	cfg.Push.TelegramToken = strings.TrimSpace(cfg.Push.TelegramToken)

	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Dispatch.ClaimTTL <= 0 {
		return fmt.Errorf("CLAIM_TTL must be positive")
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive")
	}
	if c.Sweep.Retention <= 0 {
		return fmt.Errorf("RETENTION must be positive")
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.Push.Timeout <= 0 {
		return fmt.Errorf("PUSH_TIMEOUT must be positive")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
