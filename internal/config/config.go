// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/unclebandit/outreach-funnel/internal/retry"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DBUser         string `env:"DB_USER"`
	DBPassword     string `env:"DB_PASSWORD"`
	DBHost         string `env:"DB_HOST" envDefault:"localhost"`
	DBPort         string `env:"DB_PORT" envDefault:"5432"`
	DBName         string `env:"DB_NAME"`

	// Empty keeps the in-memory queue.
	AMQPURL string `env:"AMQP_URL"`

	WebhookToken     string        `env:"WEBHOOK_TOKEN"`
	ExecutionBaseURL string        `env:"EXECUTION_BASE_URL" envDefault:"http://localhost:9000"`
	ProviderBaseURL  string        `env:"PROVIDER_BASE_URL" envDefault:"http://localhost:9100"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	RetryMaxRetries     int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay       time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
	RetryAttemptTimeout time.Duration `env:"RETRY_ATTEMPT_TIMEOUT" envDefault:"30s"`

	QuotaSuspensionThreshold float64 `env:"QUOTA_SUSPENSION_THRESHOLD" envDefault:"50"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	CadenceFile       string        `env:"CADENCE_FILE"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN returns DATABASE_URL or assembles a postgres URL from the DB_* parts.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxRetries:     c.RetryMaxRetries,
		BaseDelay:      c.RetryBaseDelay,
		MaxDelay:       c.RetryMaxDelay,
		AttemptTimeout: c.RetryAttemptTimeout,
	}
}
