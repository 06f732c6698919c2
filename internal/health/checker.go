// Package health tracks run progress for liveness, readiness and status probes.
package health

import (
	"context"
	"sync"
	"time"

	"historical/internal/job"
)

// CircuitReporter reports whether a delivery circuit is open.
type CircuitReporter interface {
	CircuitOpen() bool
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Snapshot is the last known state of the job being driven.
type Snapshot struct {
	JobID           string    `json:"jobId,omitempty"`
	Title           string    `json:"title,omitempty"`
	URL             string    `json:"jobURL,omitempty"`
	State           job.State `json:"state"`
	PercentComplete float64   `json:"percentComplete"`
	Message         string    `json:"message,omitempty"`
	Transitions     int       `json:"transitions"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// Checker records transitions and progress and answers probes from them. It
// implements job.Reporter and job.ProgressReporter.
type Checker struct {
	notifier CircuitReporter

	mu           sync.RWMutex
	snapshot     Snapshot
	shuttingDown bool
}

// NewChecker creates a checker. notifier may be nil when notifications are disabled.
func NewChecker(notifier CircuitReporter) *Checker {
	return &Checker{
		notifier: notifier,
		snapshot: Snapshot{State: job.StateNew},
	}
}

// Report records a transition.
func (c *Checker) Report(_ context.Context, t job.Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = Snapshot{
		JobID:           t.Identity.ID,
		Title:           t.Identity.Title,
		URL:             t.Identity.URL,
		State:           t.To.State,
		PercentComplete: t.To.PercentComplete,
		Message:         t.To.Message,
		Transitions:     c.snapshot.Transitions + 1,
		UpdatedAt:       t.At,
	}
}

// ReportProgress refreshes the snapshot for a poll that did not change the state.
func (c *Checker) ReportProgress(_ context.Context, t job.Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.PercentComplete = t.To.PercentComplete
	c.snapshot.Message = t.To.Message
	c.snapshot.UpdatedAt = t.At
}

// Snapshot returns the last recorded job state.
func (c *Checker) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Liveness returns healthy while the process runs.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness reports the run as unhealthy once the job failed or the process is
// shutting down, and degraded while notifications cannot be delivered.
func (c *Checker) Readiness(context.Context) *Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.shuttingDown {
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "run is shutting down"},
			},
		}
	}

	checks := make(map[string]CheckResult)
	overall := StatusHealthy

	jobCheck := CheckResult{Status: StatusHealthy, Message: string(c.snapshot.State)}
	if c.snapshot.State == job.StateError {
		jobCheck = CheckResult{Status: StatusUnhealthy, Message: c.snapshot.Message}
		overall = StatusUnhealthy
	}
	checks["job"] = jobCheck

	if c.notifier != nil {
		notifyCheck := CheckResult{Status: StatusHealthy}
		if c.notifier.CircuitOpen() {
			notifyCheck = CheckResult{Status: StatusDegraded, Message: "notification circuit open"}
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
		checks["notify"] = notifyCheck
	}

	return &Response{Status: overall, Checks: checks}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the run as finishing so readiness reports unhealthy.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
}

var (
	_ job.Reporter         = (*Checker)(nil)
	_ job.ProgressReporter = (*Checker)(nil)
)
