package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

var (
	// ErrQueueFull is returned when the async queue has no room for an event
	ErrQueueFull = errors.New("event queue full")
	// ErrQueueClosed is returned for events published after Close
	ErrQueueClosed = errors.New("event queue closed")
)

type delivery struct {
	ctx context.Context
	ev  rules.DomainEvent
}

// Async hands domain events to a background worker so slow sinks never hold
// up the caller. Events are delivered in publish order.
type Async struct {
	next    rules.Publisher
	log     logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	done   chan struct{}
}

// AsyncOption configures an Async publisher
type AsyncOption func(*asyncConfig)

type asyncConfig struct {
	size    int
	timeout time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
}

// WithQueueSize sets how many events may wait for delivery
func WithQueueSize(n int) AsyncOption {
	return func(c *asyncConfig) { c.size = n }
}

// WithDeliveryTimeout bounds a single delivery to next
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(c *asyncConfig) { c.timeout = d }
}

// WithAsyncLogger sets the logger
func WithAsyncLogger(l logger.Logger) AsyncOption {
	return func(c *asyncConfig) { c.log = l }
}

// WithAsyncMetrics records dropped and failed deliveries
func WithAsyncMetrics(m *metrics.Metrics) AsyncOption {
	return func(c *asyncConfig) { c.metrics = m }
}

// NewAsync starts the delivery worker in front of next
func NewAsync(next rules.Publisher, opts ...AsyncOption) *Async {
	cfg := asyncConfig{size: 1024, timeout: 30 * time.Second, log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size < 1 {
		cfg.size = 1
	}
	a := &Async{
		next:    next,
		log:     cfg.log,
		metrics: cfg.metrics,
		timeout: cfg.timeout,
		queue:   make(chan delivery, cfg.size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev and returns immediately. The caller's cancellation does
// not reach the delivery; its values do.
func (a *Async) Publish(ctx context.Context, ev rules.DomainEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrQueueClosed
	}
	select {
	case a.queue <- delivery{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		a.metrics.PublishFailure("queue")
		a.log.Error("event queue full, dropping domain event", "event", ev.EventName())
		return ErrQueueFull
	}
}

// Pending returns the number of events waiting for delivery
func (a *Async) Pending() int {
	return len(a.queue)
}

func (a *Async) run() {
	defer close(a.done)
	for d := range a.queue {
		ctx, cancel := context.WithTimeout(d.ctx, a.timeout)
		if err := a.next.Publish(ctx, d.ev); err != nil {
			a.log.Warn("async delivery failed", "event", d.ev.EventName(), "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queue drains or ctx ends
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.log.Warn("event queue not drained", "pending", len(a.queue))
		return ctx.Err()
	}
}

var _ rules.Publisher = (*Async)(nil)
