// Package events delivers rule-engine domain events to external sinks.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlanch/commissionengine/pkg/rules"
)

// Envelope is the wire form shared by every sink
type Envelope struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PartitionKey string          `json:"partition_key"`
	PublishedAt  time.Time       `json:"published_at"`
	Data         json.RawMessage `json:"data"`
}

// Encode wraps ev in an Envelope and returns its JSON form
func Encode(ev rules.DomainEvent, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{
		ID:           uuid.NewString(),
		Name:         ev.EventName(),
		PartitionKey: ev.PartitionKey(),
		PublishedAt:  at.UTC(),
		Data:         data,
	})
}
