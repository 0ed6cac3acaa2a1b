package rules

import (
	"time"
)

// Trigger is the event class a Function reacts to
type Trigger string

const (
	TriggerSignup   Trigger = "SIGNUP"
	TriggerPurchase Trigger = "PURCHASE"
)

// Valid reports whether t is a known trigger
func (t Trigger) Valid() bool {
	return t == TriggerSignup || t == TriggerPurchase
}

// FunctionStatus controls whether a Function takes part in matching
type FunctionStatus string

const (
	StatusActive   FunctionStatus = "ACTIVE"
	StatusInactive FunctionStatus = "INACTIVE"
)

// Circle is a named rule-group a promoter is attached to within a program.
// Functions are kept in persisted insertion order.
type Circle struct {
	ID        string     `json:"id"`
	ProgramID string     `json:"program_id"`
	Name      string     `json:"name"`
	IsDefault bool       `json:"is_default"`
	Functions []Function `json:"functions,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Function is one rule: trigger, conditions and a single effect.
type Function struct {
	ID         string         `json:"id"`
	CircleID   string         `json:"circle_id"`
	Position   int            `json:"position"`
	Trigger    Trigger        `json:"trigger"`
	Status     FunctionStatus `json:"status"`
	Effect     Effect         `json:"-"`
	Conditions []Condition    `json:"conditions"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EffectType returns the discriminator of the function's effect
func (f Function) EffectType() EffectType {
	if f.Effect == nil {
		return ""
	}
	return f.Effect.Type()
}

// Active reports whether the function takes part in matching
func (f Function) Active() bool {
	return f.Status == StatusActive
}

// Commission is the immutable output record of a GENERATE_COMMISSION effect.
type Commission struct {
	ID             string    `json:"commission_id"`
	SourceEventID  string    `json:"source_event_id"`
	FunctionID     string    `json:"function_id"`
	ProgramID      string    `json:"program_id"`
	ContactID      string    `json:"contact_id"`
	PromoterID     string    `json:"promoter_id"`
	LinkID         string    `json:"link_id"`
	ConversionType Trigger   `json:"conversion_type"`
	Amount         Money     `json:"amount"`
	Revenue        Money     `json:"revenue"`
	ExternalID     string    `json:"external_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TriggerEvent is the ephemeral input of an evaluation. Facts may be supplied
// pre-aggregated by the caller; otherwise they are derived from the
// processed-event ledger.
type TriggerEvent struct {
	SourceEventID string            `json:"source_event_id" validate:"required,max=128"`
	ProgramID     string            `json:"program_id" validate:"required,max=128"`
	Trigger       Trigger           `json:"trigger" validate:"required,oneof=SIGNUP PURCHASE"`
	ContactID     string            `json:"contact_id" validate:"required,max=128"`
	PromoterID    string            `json:"promoter_id" validate:"required,max=128"`
	LinkID        string            `json:"link_id" validate:"required,max=128"`
	ItemID        string            `json:"item_id,omitempty" validate:"max=256"`
	Amount        Money             `json:"amount" validate:"gte=0,lte=100000000000000"`
	ExternalID    string            `json:"external_id,omitempty" validate:"max=256"`
	OccurredAt    time.Time         `json:"occurred_at"`
	UTMParams     map[string]string `json:"utm_params,omitempty"`
	Facts         *Facts            `json:"facts,omitempty"`
}

// Facts are the accumulated values conditions are evaluated against. Counts
// and revenue include the current event.
type Facts struct {
	SignUps   int64 `json:"signups"`
	Purchases int64 `json:"purchases"`
	Revenue   Money `json:"revenue"`
	// ItemID is taken from the current event.
	ItemID  string  `json:"-"`
	Trigger Trigger `json:"-"`
}

// OutcomeKind enumerates evaluation outcomes
type OutcomeKind string

const (
	OutcomeCommissionCreated OutcomeKind = "COMMISSION_CREATED"
	OutcomeCircleSwitched    OutcomeKind = "CIRCLE_SWITCHED"
	OutcomeNoMatch           OutcomeKind = "NO_MATCH"
)

// Outcome is the result of RuleEngine.Evaluate. Duplicate is set when the
// event had already been processed and the stored result is returned.
type Outcome struct {
	Kind          OutcomeKind `json:"kind"`
	SourceEventID string      `json:"source_event_id"`
	CircleID      string      `json:"circle_id"`
	FunctionID    string      `json:"function_id,omitempty"`
	Commission    *Commission `json:"commission,omitempty"`
	NewCircleID   string      `json:"new_circle_id,omitempty"`
	Duplicate     bool        `json:"duplicate"`
}

// ProcessedEvent is the ledger row written once per evaluated event.
type ProcessedEvent struct {
	SourceEventID string
	ProgramID     string
	ContactID     string
	PromoterID    string
	Trigger       Trigger
	Amount        Money
	Outcome       OutcomeKind
	CircleID      string
	FunctionID    string
	CommissionID  string
	NewCircleID   string
	OccurredAt    time.Time
	ProcessedAt   time.Time
}

// CommissionFilter narrows ListCommissions
type CommissionFilter struct {
	ProgramID  string
	PromoterID string
	ContactID  string
	Limit      int
}
