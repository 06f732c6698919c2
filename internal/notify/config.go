package notify

import (
	"time"

	"historical/internal/config"
	"historical/pkg/backoff"
	"historical/pkg/circuitbreaker"
)

// Delivery defaults, rarely tuned.
const (
	defaultRetries     = 3
	defaultMaxRequeues = 10
	defaultSource      = "historical"
)

// Config holds configuration for transition notifications.
type Config struct {
	URL         string        // receiver endpoint
	Key         string        // HMAC signing key, empty = unsigned
	Source      string        // CloudEvents source (default: "historical")
	BufferSize  int           // pending events (default: 256)
	Timeout     time.Duration // per-request timeout (default: 10s)
	Retries     int           // extra attempts per event after the first
	MaxRequeues int           // cooldown waits on an open circuit before dropping (default: 10)
	Backoff     backoff.Config
	Breaker     circuitbreaker.Config
	Sleep       backoff.SleepFunc // default: backoff.Sleep
}

// LoadConfigFromEnv reads the queue tuning from the environment for the given receiver.
func LoadConfigFromEnv(url, key string) Config {
	cfg := Config{
		URL:        url,
		Key:        key,
		BufferSize: config.GetIntEnv("NOTIFY_BUFFER_SIZE", 256),
		Timeout:    config.GetDurationEnv("NOTIFY_TIMEOUT", 10*time.Second),
		Retries:    config.GetIntEnv("NOTIFY_RETRIES", defaultRetries),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = defaultSource
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = defaultMaxRequeues
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = circuitbreaker.DefaultConfig().Threshold
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = circuitbreaker.DefaultConfig().Cooldown
	}
	if c.Sleep == nil {
		c.Sleep = backoff.Sleep
	}
	return c
}
