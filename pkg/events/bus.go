package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

type subscriber struct {
	name string
	pub  rules.Publisher
}

// Bus fans domain events out to every subscribed sink in order. A failing
// sink does not stop delivery to the others.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	log         logger.Logger
	metrics     *metrics.Metrics
}

// NewBus creates an empty bus
func NewBus(log logger.Logger, m *metrics.Metrics) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{log: log, metrics: m}
}

// Subscribe registers a sink under name
func (b *Bus) Subscribe(name string, pub rules.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{name: name, pub: pub})
}

// Len returns the number of subscribed sinks
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish delivers ev to every sink and joins their errors
func (b *Bus) Publish(ctx context.Context, ev rules.DomainEvent) error {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.pub.Publish(ctx, ev); err != nil {
			b.metrics.PublishFailure(s.name)
			b.log.Warn("sink rejected domain event", "sink", s.name, "event", ev.EventName(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

var _ rules.Publisher = (*Bus)(nil)
