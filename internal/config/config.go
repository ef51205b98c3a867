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
	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9100"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	RateLimitPerSec     int `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency   int `env:"WORKER_CONCURRENCY,default=16"`
	DispatchConcurrency int `env:"DISPATCH_CONCURRENCY,default=8"`
	Prefetch            int `env:"PREFETCH,default=16"`
	MaxBulkSize         int `env:"MAX_BULK_SIZE,default=100"`
	OutcomeFlushMillis  int `env:"OUTCOME_FLUSH_MS,default=500"`
	WebhookTimeoutSec   int `env:"WEBHOOK_TIMEOUT_SEC,default=10"`

	MatchIntervalSec      int `env:"MATCH_INTERVAL_SEC,default=5"`
	MatchStaleAfterSec    int `env:"MATCH_STALE_AFTER_SEC,default=60"`
	DispatchIntervalSec   int `env:"DISPATCH_INTERVAL_SEC,default=10"`
	DispatchGraceSec      int `env:"DISPATCH_GRACE_SEC,default=30"`
	CompletionIntervalSec int `env:"COMPLETION_INTERVAL_SEC,default=5"`
	AckTimeoutSec         int `env:"ACK_TIMEOUT_SEC,default=3600"`
	OutboxIntervalSec     int `env:"OUTBOX_INTERVAL_SEC,default=2"`
	RetentionIntervalSec  int `env:"RETENTION_INTERVAL_SEC,default=3600"`
	RetentionTTLHours     int `env:"RETENTION_TTL_HOURS,default=168"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	positive := map[string]int{
		"WORKER_CONCURRENCY":      c.WorkerConcurrency,
		"DISPATCH_CONCURRENCY":    c.DispatchConcurrency,
		"PREFETCH":                c.Prefetch,
		"MAX_BULK_SIZE":           c.MaxBulkSize,
		"OUTCOME_FLUSH_MS":        c.OutcomeFlushMillis,
		"WEBHOOK_TIMEOUT_SEC":     c.WebhookTimeoutSec,
		"MATCH_INTERVAL_SEC":      c.MatchIntervalSec,
		"MATCH_STALE_AFTER_SEC":   c.MatchStaleAfterSec,
		"DISPATCH_INTERVAL_SEC":   c.DispatchIntervalSec,
		"DISPATCH_GRACE_SEC":      c.DispatchGraceSec,
		"COMPLETION_INTERVAL_SEC": c.CompletionIntervalSec,
		"ACK_TIMEOUT_SEC":         c.AckTimeoutSec,
		"OUTBOX_INTERVAL_SEC":     c.OutboxIntervalSec,
		"RETENTION_INTERVAL_SEC":  c.RetentionIntervalSec,
		"RETENTION_TTL_HOURS":     c.RetentionTTLHours,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}

func (c *Config) OutcomeFlushInterval() time.Duration {
	return time.Duration(c.OutcomeFlushMillis) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSec) * time.Second
}

func (c *Config) MatchInterval() time.Duration {
	return time.Duration(c.MatchIntervalSec) * time.Second
}

func (c *Config) MatchStaleAfter() time.Duration {
	return time.Duration(c.MatchStaleAfterSec) * time.Second
}

func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

func (c *Config) DispatchGrace() time.Duration {
	return time.Duration(c.DispatchGraceSec) * time.Second
}

func (c *Config) CompletionInterval() time.Duration {
	return time.Duration(c.CompletionIntervalSec) * time.Second
}

func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutSec) * time.Second
}

func (c *Config) OutboxInterval() time.Duration {
	return time.Duration(c.OutboxIntervalSec) * time.Second
}

func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalSec) * time.Second
}

func (c *Config) RetentionTTL() time.Duration {
	return time.Duration(c.RetentionTTLHours) * time.Hour
}
