package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"historical/pkg/backoff"
	"historical/pkg/circuitbreaker"
)

// ErrCircuitOpen is returned for files whose host has failed too often.
var ErrCircuitOpen = errors.New("circuit open for host")

// MetricsRecorder is an optional interface for recording download metrics.
type MetricsRecorder interface {
	RecordDownloadStarted(ctx context.Context)
	RecordDownloadCompleted(ctx context.Context, success bool, bytes int64, durationSeconds float64)
}

// DownloaderConfig holds configuration for concurrent downloads.
type DownloaderConfig struct {
	Workers int            // concurrent transfers (default: 4)
	Retries int            // extra attempts per file after the first
	Timeout time.Duration  // per-transfer timeout (default: 10m)
	Backoff backoff.Config // wait between attempts
	Breaker circuitbreaker.Config
	Sleep   backoff.SleepFunc // default: backoff.Sleep
}

func (c DownloaderConfig) withDefaults() DownloaderConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.Sleep == nil {
		c.Sleep = backoff.Sleep
	}
	return c
}

// FileResult is the outcome of one file transfer.
type FileResult struct {
	URL      string
	Path     string
	Bytes    int64
	Attempts int
	Err      error
}

// Report collects per-file outcomes. One failed file never stops the others.
type Report struct {
	Files []FileResult
}

// Failed returns the files that could not be downloaded.
func (r *Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Paths returns the local paths of successfully downloaded files.
func (r *Report) Paths() []string {
	var out []string
	for _, f := range r.Files {
		if f.Err == nil {
			out = append(out, f.Path)
		}
	}
	return out
}

// Bytes returns the total size of successfully downloaded files.
func (r *Report) Bytes() int64 {
	var n int64
	for _, f := range r.Files {
		if f.Err == nil {
			n += f.Bytes
		}
	}
	return n
}

// Downloader fetches data files concurrently with per-file retry and per-host
// circuit breakers.
type Downloader struct {
	client   *http.Client
	breakers *circuitbreaker.Registry
	config   DownloaderConfig
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// NewDownloader creates a Downloader. Data URLs are pre-signed, so the client
// carries no credentials.
func NewDownloader(cfg DownloaderConfig, metrics MetricsRecorder, logger *slog.Logger) *Downloader {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: circuitbreaker.NewRegistry(cfg.Breaker),
		config:   cfg,
		metrics:  metrics,
		logger:   logger.With("component", "downloader"),
	}
}

// Download fetches every URL into dir. File names come from FileName.
func (d *Downloader) Download(ctx context.Context, urls []string, dir, jobID string) *Report {
	report := &Report{Files: make([]FileResult, len(urls))}

	seen := make(map[string]bool, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Workers)
	for i, u := range urls {
		name := FileName(u, jobID, i)
		if seen[name] {
			name = fmt.Sprintf("%05d_%s", i, name)
		}
		seen[name] = true
		report.Files[i] = FileResult{URL: u, Path: filepath.Join(dir, name)}
		g.Go(func() error {
			d.fetch(gctx, &report.Files[i])
			return nil
		})
	}
	_ = g.Wait()

	breakers := d.breakers.Stats()
	d.logger.Info("Downloads complete",
		"files", len(urls),
		"failed", len(report.Failed()),
		"bytes", report.Bytes(),
		"breakersOpen", breakers.Open,
	)
	return report
}

// fetch transfers one file, retrying transient failures.
func (d *Downloader) fetch(ctx context.Context, res *FileResult) {
	breaker := d.breakers.ForURL(res.URL)
	dl := NewDownload(d.client, res.URL, res.Path)

	for attempt := 0; attempt <= d.config.Retries; attempt++ {
		if attempt > 0 {
			if err := d.config.Sleep(ctx, backoff.Exponential(attempt, &d.config.Backoff)); err != nil {
				res.Err = err
				return
			}
		}
		if !breaker.Allow() {
			res.Err = fmt.Errorf("%w %s", ErrCircuitOpen, circuitbreaker.HostKey(res.URL))
			return
		}

		res.Attempts++
		start := time.Now()
		if d.metrics != nil {
			d.metrics.RecordDownloadStarted(ctx)
		}
		n, err := dl.Apply(ctx)
		if d.metrics != nil {
			d.metrics.RecordDownloadCompleted(ctx, err == nil, n, time.Since(start).Seconds())
		}

		if err == nil {
			breaker.RecordSuccess()
			res.Bytes, res.Err = n, nil
			d.logger.Debug("Downloaded file", "path", res.Path, "bytes", n, "attempts", res.Attempts)
			return
		}

		res.Err = err
		if ctx.Err() != nil || !retryable(err) {
			// 4xx responses do not count against the host
			if ctx.Err() == nil {
				breaker.RecordSuccess()
			}
			break
		}
		breaker.RecordFailure()
		d.logger.Warn("Download attempt failed", "url", res.URL, "attempt", res.Attempts, "error", err)
	}
	d.logger.Warn("Download failed", "url", res.URL, "attempts", res.Attempts, "error", res.Err)
}
