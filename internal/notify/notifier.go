// Package notify delivers job status transitions as CloudEvents to a webhook.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"historical/internal/job"
	"historical/pkg/backoff"
	"historical/pkg/circuitbreaker"
	"historical/pkg/cloudevent"
)

// Event types.
const (
	TypeTransition = "historical.job.transition"
	TypeQuoted     = "historical.job.quoted"
	TypeFinished   = "historical.job.finished"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("notification buffer full, event dropped")

// ErrClosed is returned for events enqueued after Close.
var ErrClosed = errors.New("notifier is closed")

// MetricsRecorder is an optional interface for recording notification metrics.
type MetricsRecorder interface {
	RecordNotifyDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifyFailed(ctx context.Context)
	RecordNotifyDropped(ctx context.Context)
	RecordNotifyRequeued(ctx context.Context)
	RecordNotifyQueueSize(ctx context.Context, size int64)
}

// Stats holds delivery statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer or max requeues
	Requeued     int64 // cooldown waits on an open circuit
	RetriesTotal int64 // total retry attempts
	CircuitOpen  bool
}

// Notifier queues transitions and delivers them in order from a single worker.
// Delivery problems are logged and counted; they never reach the session.
type Notifier struct {
	queue   chan *cloudevent.CloudEvent
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	mu       sync.RWMutex // guards closed against concurrent enqueue
	closed   bool
	shutdown chan struct{}
	done     chan struct{}
	ctx      context.Context // canceled when Close gives up waiting
	cancel   context.CancelFunc
}

// New creates a Notifier and starts its worker.
func New(cfg Config, metrics MetricsRecorder, logger *slog.Logger) *Notifier {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	n := &Notifier{
		queue:    make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.Timeout, cfg.Source),
		breaker:  circuitbreaker.New(cfg.Breaker),
		config:   cfg,
		logger:   logger.With("component", "notify", "destination", circuitbreaker.HostKey(cfg.URL)),
		metrics:  metrics,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go n.worker()

	n.logger.Info("Notifier started", "buffer", cfg.BufferSize, "signed", cfg.Key != "")
	return n
}

// Report queues the events for a transition. It never blocks.
func (n *Notifier) Report(ctx context.Context, t job.Transition) {
	for _, ev := range Events(n.config.Source, t) {
		if err := n.Enqueue(ctx, ev); err != nil {
			n.logger.Warn("Notification not queued", "type", ev.Type, "jobId", t.Identity.ID, "error", err)
		}
	}
}

// Enqueue queues an event for delivery.
func (n *Notifier) Enqueue(ctx context.Context, ev *cloudevent.CloudEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	select {
	case n.queue <- ev:
		n.queued.Add(1)
		n.recordQueueSize(ctx)
		return nil
	default:
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyDropped(ctx)
		}
		return ErrBufferFull
	}
}

// Stats returns current delivery statistics.
func (n *Notifier) Stats() Stats {
	return Stats{
		QueueDepth:   len(n.queue),
		Queued:       n.queued.Load(),
		Delivered:    n.delivered.Load(),
		Failed:       n.failed.Load(),
		Dropped:      n.dropped.Load(),
		Requeued:     n.requeued.Load(),
		RetriesTotal: n.retriesTotal.Load(),
		CircuitOpen:  n.breaker.State() == circuitbreaker.Open,
	}
}

// CircuitOpen reports whether deliveries are currently held back by the breaker.
func (n *Notifier) CircuitOpen() bool {
	return n.breaker.State() == circuitbreaker.Open
}

// Close stops accepting events and delivers what is queued. The context deadline
// bounds the drain; events still pending when it expires are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.shutdown)
	n.mu.Unlock()

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))

	select {
	case <-n.done:
		n.cancel()
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

func (n *Notifier) worker() {
	defer close(n.done)

	for {
		select {
		case <-n.shutdown:
			n.drain()
			return
		case ev := <-n.queue:
			n.deliver(ev)
		}
	}
}

// drain delivers what is left after shutdown, in order.
func (n *Notifier) drain() {
	for {
		select {
		case ev := <-n.queue:
			if n.ctx.Err() != nil {
				n.drop(ev, "shutdown deadline")
				continue
			}
			n.deliver(ev)
		default:
			return
		}
	}
}

// deliver sends one event. While the circuit is open the worker waits out the
// cooldown instead of skipping ahead, so events stay ordered.
func (n *Notifier) deliver(ev *cloudevent.CloudEvent) {
	ctx := n.ctx
	defer n.recordQueueSize(ctx)

	for requeues := 0; !n.breaker.Allow(); requeues++ {
		if requeues >= n.config.MaxRequeues {
			n.drop(ev, "max requeues reached")
			return
		}
		n.requeued.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyRequeued(ctx)
		}
		n.logger.Debug("Circuit open, waiting", "type", ev.Type, "requeues", requeues+1)
		if err := n.config.Sleep(ctx, n.config.Breaker.Cooldown); err != nil {
			n.drop(ev, "shutdown deadline")
			return
		}
	}

	start := time.Now()
	if err := n.sendWithRetry(ctx, ev); err != nil {
		if !cloudevent.IsClientError(err) {
			n.breaker.RecordFailure()
		} else {
			n.breaker.RecordSuccess()
		}
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "type", ev.Type, "subject", ev.Subject, "error", err)
		return
	}

	n.breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
	n.logger.Debug("Delivered notification", "type", ev.Type, "subject", ev.Subject)
}

func (n *Notifier) sendWithRetry(ctx context.Context, ev *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range n.config.Retries + 1 {
		if attempt > 0 {
			n.retriesTotal.Add(1)
			if err := n.config.Sleep(ctx, backoff.Exponential(attempt, &n.config.Backoff)); err != nil {
				return err
			}
		}

		lastErr = n.sender.Send(ctx, n.config.URL, ev, n.config.Key)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %w", n.config.Retries+1, lastErr)
}

func (n *Notifier) drop(ev *cloudevent.CloudEvent, reason string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDropped(context.Background())
	}
	n.logger.Warn("Event dropped", "type", ev.Type, "subject", ev.Subject, "reason", reason)
}

func (n *Notifier) recordQueueSize(ctx context.Context) {
	if n.metrics != nil {
		n.metrics.RecordNotifyQueueSize(ctx, int64(len(n.queue)))
	}
}

var _ job.Reporter = (*Notifier)(nil)
