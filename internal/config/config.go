package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// SFEEndpointURL is the remote electronic invoicing endpoint. When empty
	// the worker runs against the built-in simulator.
	SFEEndpointURL    string `env:"SFE_ENDPOINT_URL"`
	SFETimeoutSeconds int    `env:"SFE_TIMEOUT_SECONDS,default=10"`
	SFERateLimitPSec  int    `env:"SFE_RATE_LIMIT_PER_SEC,default=20"`

	MaxAttempts      int `env:"MAX_ATTEMPTS,default=5"`
	RetryBaseDelayMS int `env:"RETRY_BASE_DELAY_MS,default=1000"`
	PublishTimeoutMS int `env:"PUBLISH_TIMEOUT_MS,default=3000"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=4"`

	RecoveryScanIntervalSeconds int `env:"RECOVERY_SCAN_INTERVAL_SECONDS,default=60"`
	RecoveryMinAgeSeconds       int `env:"RECOVERY_MIN_AGE_SECONDS,default=120"`

	APIPort    int    `env:"API_PORT,default=8080"`
	WorkerPort int    `env:"WORKER_PORT,default=8081"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SFETimeout() time.Duration {
	return time.Duration(c.SFETimeoutSeconds) * time.Second
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

func (c *Config) RecoveryScanInterval() time.Duration {
	return time.Duration(c.RecoveryScanIntervalSeconds) * time.Second
}

func (c *Config) RecoveryMinAge() time.Duration {
	return time.Duration(c.RecoveryMinAgeSeconds) * time.Second
}
