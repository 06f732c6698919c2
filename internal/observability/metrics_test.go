package observability

import (
	"context"
	"testing"
	"time"

	"historical/internal/job"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordProviderRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordProviderRequest(ctx, "GET", "https://api.test/accounts/a/publishers/twitter/jobs.json", 200, 0.2)
	metrics.RecordProviderRequest(ctx, "POST", "https://api.test/accounts/a/publishers/twitter/jobs.json", 201, 0.4)
	metrics.RecordProviderRequest(ctx, "PUT", "https://api.test/accounts/a/publishers/twitter/historical/jobs/abc.json", 500, 0.1)
	metrics.RecordProviderRequest(ctx, "GET", "https://api.test/accounts/a/publishers/twitter/historical/jobs/abc.json", 0, 60)
}

func TestLifecycleMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordPoll(ctx, job.Status{State: job.StateEstimating}, true)
	metrics.RecordPoll(ctx, job.Status{State: job.StateRunning, PercentComplete: 40}, true)
	metrics.RecordPoll(ctx, job.Status{State: job.StateRunning, PercentComplete: 40}, false)
	metrics.RecordPoll(ctx, job.Status{State: job.StateFinished}, true)
	metrics.Report(ctx, job.Transition{
		From: job.Status{},
		To:   job.Status{State: job.StateQuoted},
		At:   time.Now(),
	})
	metrics.Report(ctx, job.Transition{
		From: job.Status{State: job.StateQuoted},
		To:   job.Status{State: job.StateAccepted},
		At:   time.Now(),
	})
}

func TestDownloadAndNotifyMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordDownloadStarted(ctx)
	metrics.RecordDownloadCompleted(ctx, true, 2048, 1.5)
	metrics.RecordDownloadStarted(ctx)
	metrics.RecordDownloadCompleted(ctx, false, 0, 0.2)
	metrics.RecordNotifyDelivered(ctx, 0.05)
	metrics.RecordNotifyFailed(ctx)
	metrics.RecordNotifyDropped(ctx)
	metrics.RecordNotifyRequeued(ctx)
	metrics.RecordNotifyQueueSize(ctx, 3)
}

func TestEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"https://api.test/accounts/a/publishers/twitter/jobs.json", "jobs"},
		{"https://api.test/accounts/a/publishers/twitter/historical/jobs/abc123.json", "job"},
		{"https://api.test/accounts/a/publishers/twitter/historical/jobs/abc123/results.json", "job"},
		{"https://archive.test/file.json.gz", "other"},
	}

	for _, tt := range tests {
		if got := endpoint(tt.input); got != tt.expected {
			t.Errorf("endpoint(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
