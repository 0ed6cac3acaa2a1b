package rules

import (
	"context"
	"time"
)

// Domain event names
const (
	EventCommissionCreated = "commission.created"
	EventCircleSwitched    = "circle.switched"
)

// DomainEvent is emitted after an evaluation commits.
type DomainEvent interface {
	EventName() string
	// PartitionKey orders events of one promoter on partitioned transports.
	PartitionKey() string
}

// Publisher receives domain events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev DomainEvent) error
}

// CommissionCreated is emitted once per persisted commission
type CommissionCreated struct {
	Commission Commission `json:"commission"`
}

func (CommissionCreated) EventName() string { return EventCommissionCreated }

func (e CommissionCreated) PartitionKey() string {
	return promoterKey(e.Commission.ProgramID, e.Commission.PromoterID)
}

// CircleSwitched is emitted when a switch effect moves a promoter
type CircleSwitched struct {
	SourceEventID string    `json:"source_event_id"`
	FunctionID    string    `json:"function_id"`
	ProgramID     string    `json:"program_id"`
	PromoterID    string    `json:"promoter_id"`
	FromCircleID  string    `json:"from_circle_id"`
	ToCircleID    string    `json:"to_circle_id"`
	SwitchedAt    time.Time `json:"switched_at"`
}

func (CircleSwitched) EventName() string { return EventCircleSwitched }

func (e CircleSwitched) PartitionKey() string {
	return promoterKey(e.ProgramID, e.PromoterID)
}

// PromoterKey identifies a promoter within a program. Events sharing a key
// must be evaluated in order.
func PromoterKey(ev TriggerEvent) string {
	return promoterKey(ev.ProgramID, ev.PromoterID)
}

func promoterKey(programID, promoterID string) string {
	return programID + "/" + promoterID
}
