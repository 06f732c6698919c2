// Package config provides configuration loading from environment variables and account files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"historical/internal/apperrors"
)

// DefaultBaseURL is the provider's Historical PowerTrack API root.
const DefaultBaseURL = "https://gnip-api.gnip.com/historical/powertrack"

// RunConfig holds the settings for one driver run. It is built once and never mutated.
type RunConfig struct {
	BaseURL   string // API root, account path is appended
	Publisher string

	SubmitCooldown      time.Duration // pause after a successful submission
	PollInterval        time.Duration // fixed wait between status polls
	MaxPolls            int           // 0 means poll until the job moves on
	MaxPollFailures     int           // consecutive failed polls before giving up
	DiscoveryAttempts   int           // job list lookups after submission
	DiscoveryBackoff    time.Duration // first wait between lookups, doubled each attempt
	DiscoveryBackoffMax time.Duration

	HTTPTimeout     time.Duration
	DownloadWorkers int
	DownloadRetries int
	DownloadTimeout time.Duration

	MetricsPort       string // empty disables the metrics server
	NotifyURL         string // empty disables transition notifications
	NotifyKey         string // HMAC key for notifications
	ReviewFreshQuotes bool   // stop at Quoted for jobs not yet quoted when the run started
	ActivityDSN       string // database storage target, defaults to a SQLite file per job
}

// LoadRunConfig loads run configuration from environment variables.
func LoadRunConfig() (*RunConfig, error) {
	notifyKey, err := ReadSecretFile(GetEnv("NOTIFY_KEY_FILE", ""))
	if err != nil {
		return nil, apperrors.Config("NOTIFY_KEY_FILE", err.Error())
	}

	cfg := &RunConfig{
		BaseURL:             GetEnv("HISTORICAL_BASE_URL", DefaultBaseURL),
		Publisher:           GetEnv("HISTORICAL_PUBLISHER", "twitter"),
		SubmitCooldown:      GetDurationEnv("SUBMIT_COOLDOWN", 60*time.Second),
		PollInterval:        GetDurationEnv("POLL_INTERVAL", 5*time.Minute),
		MaxPolls:            GetIntEnv("MAX_POLLS", 0),
		MaxPollFailures:     GetIntEnv("MAX_POLL_FAILURES", 5),
		DiscoveryAttempts:   GetIntEnv("DISCOVERY_ATTEMPTS", 3),
		DiscoveryBackoff:    GetDurationEnv("DISCOVERY_BACKOFF", 30*time.Second),
		DiscoveryBackoffMax: GetDurationEnv("DISCOVERY_BACKOFF_MAX", 2*time.Minute),
		HTTPTimeout:         GetDurationEnv("HTTP_TIMEOUT", 60*time.Second),
		DownloadWorkers:     GetIntEnv("DOWNLOAD_WORKERS", 4),
		DownloadRetries:     GetIntEnv("DOWNLOAD_RETRIES", 2),
		DownloadTimeout:     GetDurationEnv("DOWNLOAD_TIMEOUT", 10*time.Minute),
		MetricsPort:         GetEnv("METRICS_PORT", ""),
		NotifyURL:           GetEnv("NOTIFY_URL", ""),
		NotifyKey:           notifyKey,
		ReviewFreshQuotes:   GetBoolEnv("REVIEW_FRESH_QUOTES", false),
		ActivityDSN:         GetEnv("ACTIVITY_DB_DSN", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise break the lifecycle at runtime.
func (c *RunConfig) Validate() error {
	if err := validateHTTPURL(c.BaseURL); err != nil {
		return apperrors.Config("HISTORICAL_BASE_URL", "invalid base URL: "+err.Error())
	}
	if c.NotifyURL != "" {
		if err := validateHTTPURL(c.NotifyURL); err != nil {
			return apperrors.Config("NOTIFY_URL", "invalid notify URL: "+err.Error())
		}
	}
	if c.Publisher == "" {
		return apperrors.Config("HISTORICAL_PUBLISHER", "publisher is required")
	}
	if c.PollInterval <= 0 {
		return apperrors.Config("POLL_INTERVAL", "poll interval must be positive")
	}
	if c.SubmitCooldown < 0 {
		return apperrors.Config("SUBMIT_COOLDOWN", "submit cooldown cannot be negative")
	}
	if c.MaxPolls < 0 {
		return apperrors.Config("MAX_POLLS", "max polls cannot be negative")
	}
	if c.MaxPollFailures < 1 {
		return apperrors.Config("MAX_POLL_FAILURES", "max poll failures must be at least 1")
	}
	if c.DiscoveryAttempts < 1 {
		return apperrors.Config("DISCOVERY_ATTEMPTS", "discovery attempts must be at least 1")
	}
	if c.DownloadWorkers < 1 {
		return apperrors.Config("DOWNLOAD_WORKERS", "download workers must be at least 1")
	}
	if c.DownloadRetries < 0 {
		return apperrors.Config("DOWNLOAD_RETRIES", "download retries cannot be negative")
	}
	return nil
}

// JobsURL returns the job list / submission resource for an account.
func (c *RunConfig) JobsURL(account string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/accounts/" + url.PathEscape(account) +
		"/publishers/" + url.PathEscape(c.Publisher) + "/jobs.json"
}

// UsageURL returns the account usage resource.
func (c *RunConfig) UsageURL(account string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/accounts/" + url.PathEscape(account) + "/usage.json"
}

func validateHTTPURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
