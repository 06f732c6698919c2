package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"historical/internal/job"
)

// Metrics holds the driver's instruments:
// - Latency: provider requests, artifact downloads, notification delivery
// - Traffic: requests, polls, transitions, downloads
// - Errors: failed requests, polls, downloads and deliveries
// - Saturation: active downloads and the notification queue
type Metrics struct {
	meter metric.Meter

	// Provider API metrics (Latency, Traffic, Errors)
	ProviderRequestDuration metric.Float64Histogram
	ProviderRequestsTotal   metric.Int64Counter
	ProviderErrorsTotal     metric.Int64Counter

	// Lifecycle metrics
	PollsTotal       metric.Int64Counter
	TransitionsTotal metric.Int64Counter
	PercentComplete  metric.Float64Gauge

	// Download metrics (Latency, Traffic, Errors, Saturation)
	DownloadDuration metric.Float64Histogram
	DownloadsTotal   metric.Int64Counter
	DownloadBytes    metric.Int64Counter
	DownloadsActive  metric.Int64UpDownCounter

	// Notification metrics (Latency, Traffic, Errors, Saturation)
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
	NotifyRequeued  metric.Int64Counter
	NotifyQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("historical")
	m := &Metrics{meter: meter}

	// Provider API metrics
	m.ProviderRequestDuration, err = meter.Float64Histogram(
		"provider_request_duration_seconds",
		metric.WithDescription("Provider API request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProviderRequestsTotal, err = meter.Int64Counter(
		"provider_requests_total",
		metric.WithDescription("Total number of provider API requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ProviderErrorsTotal, err = meter.Int64Counter(
		"provider_errors_total",
		metric.WithDescription("Total number of provider API requests without a 2xx response"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Lifecycle metrics
	m.PollsTotal, err = meter.Int64Counter(
		"job_polls_total",
		metric.WithDescription("Total number of job status reads"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TransitionsTotal, err = meter.Int64Counter(
		"job_transitions_total",
		metric.WithDescription("Total number of job status transitions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PercentComplete, err = meter.Float64Gauge(
		"job_percent_complete",
		metric.WithDescription("Last reported completion of the running job"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Download metrics
	m.DownloadDuration, err = meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Artifact download duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsTotal, err = meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of artifact downloads"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadBytes, err = meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Total bytes written by artifact downloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsActive, err = meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Number of artifact downloads in flight (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notification metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Transition notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total notifications successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total notifications failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total notifications dropped (queue full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyRequeued, err = meter.Int64Counter(
		"notify_requeued_total",
		metric.WithDescription("Total notifications requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyQueueSize, err = meter.Int64Gauge(
		"notify_queue_size",
		metric.WithDescription("Current number of notifications waiting for delivery (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordProviderRequest records one provider API exchange. A zero statusCode means
// no response was received.
func (m *Metrics) RecordProviderRequest(ctx context.Context, method, rawURL string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		endpointAttr(rawURL),
		statusAttr(statusCode),
	)

	m.ProviderRequestDuration.Record(ctx, durationSeconds, attrs)
	m.ProviderRequestsTotal.Add(ctx, 1, attrs)

	if statusCode < 200 || statusCode >= 300 {
		m.ProviderErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordPoll records a job status read and tracks progress while the job runs.
func (m *Metrics) RecordPoll(ctx context.Context, status job.Status, ok bool) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(stateAttr(string(status.State)), successAttr(ok)))

	switch status.State {
	case job.StateRunning:
		m.PercentComplete.Record(ctx, status.PercentComplete)
	case job.StateFinished:
		m.PercentComplete.Record(ctx, 100)
	}
}

// Report counts a status transition.
func (m *Metrics) Report(ctx context.Context, t job.Transition) {
	m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		fromAttr(string(t.From.State)),
		stateAttr(string(t.To.State)),
	))
}

// RecordDownloadStarted records an artifact download starting.
func (m *Metrics) RecordDownloadStarted(ctx context.Context) {
	m.DownloadsActive.Add(ctx, 1)
}

// RecordDownloadCompleted records an artifact download finishing (success or failure).
func (m *Metrics) RecordDownloadCompleted(ctx context.Context, success bool, bytes int64, durationSeconds float64) {
	attrs := metric.WithAttributes(successAttr(success))
	m.DownloadsActive.Add(ctx, -1)
	m.DownloadsTotal.Add(ctx, 1, attrs)
	m.DownloadDuration.Record(ctx, durationSeconds, attrs)
	if bytes > 0 {
		m.DownloadBytes.Add(ctx, bytes)
	}
}

// RecordNotifyDelivered records a successful notification with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a notification that failed after retries.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped notification.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

// RecordNotifyRequeued records a requeued notification.
func (m *Metrics) RecordNotifyRequeued(ctx context.Context) {
	m.NotifyRequeued.Add(ctx, 1)
}

// RecordNotifyQueueSize records the current queue size.
func (m *Metrics) RecordNotifyQueueSize(ctx context.Context, size int64) {
	m.NotifyQueueSize.Record(ctx, size)
}

var (
	_ job.Reporter     = (*Metrics)(nil)
	_ job.PollRecorder = (*Metrics)(nil)
)
