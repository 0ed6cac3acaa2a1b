package events

import (
	"context"
	"time"

	"github.com/jordanlanch/commissionengine/pkg/cache"
	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// RedisPublisher publishes envelopes on a Redis pub/sub channel
type RedisPublisher struct {
	client  *cache.Client
	channel string
	now     func() time.Time
}

// NewRedisPublisher creates a publisher for channel
func NewRedisPublisher(client *cache.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, now: time.Now}
}

// Publish implements rules.Publisher
func (p *RedisPublisher) Publish(ctx context.Context, ev rules.DomainEvent) error {
	payload, err := Encode(ev, p.now())
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload)
}
