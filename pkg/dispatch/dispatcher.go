// Package dispatch serializes evaluations per promoter across a fixed set of
// shard workers.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// ErrClosed is returned for events submitted after Close
var ErrClosed = errors.New("dispatcher closed")

// Evaluator runs one evaluation
type Evaluator interface {
	Evaluate(ctx context.Context, event rules.TriggerEvent) (rules.Outcome, error)
}

// Locker extends per-promoter exclusion across processes
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type result struct {
	outcome rules.Outcome
	err     error
}

type job struct {
	ctx   context.Context
	event rules.TriggerEvent
	done  chan result
}

// Dispatcher routes every event of a promoter to the same worker, so events
// of one promoter are evaluated in submission order while different
// promoters proceed in parallel.
type Dispatcher struct {
	eval   Evaluator
	locker Locker
	log    logger.Logger
	queue  int

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLocker adds a distributed lock around each evaluation
func WithLocker(l Locker) Option {
	return func(d *Dispatcher) { d.locker = l }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithQueueSize sets the per-shard buffer
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = n }
}

// New starts shards workers in front of eval
func New(eval Evaluator, shards int, opts ...Option) *Dispatcher {
	if shards < 1 {
		shards = 1
	}
	d := &Dispatcher{eval: eval, log: logger.Nop(), queue: 64}
	for _, opt := range opts {
		opt(d)
	}
	d.shards = make([]chan job, shards)
	for i := range d.shards {
		d.shards[i] = make(chan job, d.queue)
		d.wg.Add(1)
		go d.work(d.shards[i])
	}
	return d
}

// Shard returns the worker index serving key
func (d *Dispatcher) Shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.shards)))
}

// Evaluate queues event on its promoter's shard and waits for the outcome
func (d *Dispatcher) Evaluate(ctx context.Context, event rules.TriggerEvent) (rules.Outcome, error) {
	j := job{ctx: ctx, event: event, done: make(chan result, 1)}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return rules.Outcome{}, ErrClosed
	}
	select {
	case d.shards[d.Shard(rules.PromoterKey(event))] <- j:
	case <-ctx.Done():
		d.mu.RUnlock()
		return rules.Outcome{}, ctx.Err()
	}
	d.mu.RUnlock()

	select {
	case r := <-j.done:
		return r.outcome, r.err
	case <-ctx.Done():
		return rules.Outcome{}, ctx.Err()
	}
}

func (d *Dispatcher) work(jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		j.done <- d.run(j)
	}
}

func (d *Dispatcher) run(j job) result {
	if err := j.ctx.Err(); err != nil {
		return result{err: err}
	}
	if d.locker != nil {
		release, err := d.locker.Acquire(j.ctx, rules.PromoterKey(j.event))
		if err != nil {
			d.log.Error("failed to acquire promoter lock", "source_event_id", j.event.SourceEventID, "error", err)
			return result{err: err}
		}
		defer release()
	}
	out, err := d.eval.Evaluate(j.ctx, j.event)
	return result{outcome: out, err: err}
}

// Close stops accepting events and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
