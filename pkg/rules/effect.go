package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// EffectType discriminates the Effect union
type EffectType string

const (
	EffectGenerateCommission EffectType = "GENERATE_COMMISSION"
	EffectSwitchCircle       EffectType = "SWITCH_CIRCLE"
)

// Effect is the action applied when a Function matches. The union is closed:
// only GenerateCommissionEffect and SwitchCircleEffect implement it.
type Effect interface {
	Type() EffectType
	Validate() error
	isEffect()
}

// CommissionKind discriminates the commission spec
type CommissionKind string

const (
	CommissionPercentage CommissionKind = "PERCENTAGE"
	CommissionFixed      CommissionKind = "FIXED"
)

// CommissionSpec describes how a commission amount is computed.
// Percentage values are in 0.01..100, fixed values are major units >= 0.01.
type CommissionSpec struct {
	Kind  CommissionKind `json:"type"`
	Value float64        `json:"value"`
}

// Validate enforces the per-kind value range
func (s CommissionSpec) Validate() error {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: commission value is not a number", ErrInvalidFunction)
	}
	switch s.Kind {
	case CommissionPercentage:
		if s.Value < 0.01 || s.Value > 100 {
			return fmt.Errorf("%w: percentage commission must be within 0.01..100", ErrInvalidFunction)
		}
	case CommissionFixed:
		if s.Value < 0.01 || s.Value > MaxAmount.Float64() {
			return fmt.Errorf("%w: fixed commission must be within 0.01..%s", ErrInvalidFunction, MaxAmount)
		}
	default:
		return fmt.Errorf("%w: unknown commission type %q", ErrInvalidFunction, s.Kind)
	}
	return nil
}

// Amount computes the commission for an event. A percentage has no revenue
// base on SIGNUP and yields zero.
func (s CommissionSpec) Amount(trigger Trigger, revenue Money) Money {
	switch s.Kind {
	case CommissionFixed:
		return MoneyFromFloat(s.Value)
	case CommissionPercentage:
		if trigger != TriggerPurchase {
			return 0
		}
		return percentFromFloat(s.Value).apply(revenue)
	}
	return 0
}

// GenerateCommissionEffect credits the promoter with a commission
type GenerateCommissionEffect struct {
	Commission CommissionSpec `json:"commission"`
}

func (GenerateCommissionEffect) Type() EffectType { return EffectGenerateCommission }
func (GenerateCommissionEffect) isEffect() {}

// Validate checks the wrapped commission spec
func (e GenerateCommissionEffect) Validate() error {
	return e.Commission.Validate()
}

// SwitchCircleEffect moves the promoter to another circle for later events
type SwitchCircleEffect struct {
	TargetCircleID string `json:"target_circle_id"`
}

func (SwitchCircleEffect) Type() EffectType { return EffectSwitchCircle }
func (SwitchCircleEffect) isEffect() {}

// Validate checks that a target is named. Existence and program ownership
// are checked against the store.
func (e SwitchCircleEffect) Validate() error {
	if e.TargetCircleID == "" {
		return fmt.Errorf("%w: switch effect requires target_circle_id", ErrInvalidFunction)
	}
	return nil
}

// DecodeEffect decodes an effect payload according to its discriminator
func DecodeEffect(t EffectType, raw json.RawMessage) (Effect, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: effect is required", ErrInvalidFunction)
	}
	switch t {
	case EffectGenerateCommission:
		var e GenerateCommissionEffect
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: decode commission effect: %v", ErrInvalidFunction, err)
		}
		return e, e.Validate()
	case EffectSwitchCircle:
		var e SwitchCircleEffect
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: decode switch effect: %v", ErrInvalidFunction, err)
		}
		return e, e.Validate()
	}
	return nil, fmt.Errorf("%w: unknown effect type %q", ErrInvalidFunction, t)
}

// Validate checks the static configuration of a function: known trigger and
// status, an effect whose shape matches its type, legal conditions, and the
// trigger-dependent restrictions (ITEM_ID and percentage commissions only on
// PURCHASE).
func (f Function) Validate() error {
	if !f.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidFunction, f.Trigger)
	}
	if f.Status != StatusActive && f.Status != StatusInactive {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFunction, f.Status)
	}
	if f.Effect == nil {
		return fmt.Errorf("%w: effect is required", ErrInvalidFunction)
	}
	if err := f.Effect.Validate(); err != nil {
		return err
	}
	if gen, ok := f.Effect.(GenerateCommissionEffect); ok {
		if gen.Commission.Kind == CommissionPercentage && f.Trigger != TriggerPurchase {
			return fmt.Errorf("%w: percentage commission requires a PURCHASE trigger", ErrInvalidFunction)
		}
	}
	var errs []error
	for i, c := range f.Conditions {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
			continue
		}
		if c.Parameter == ParamItemID && f.Trigger != TriggerPurchase {
			errs = append(errs, fmt.Errorf("condition %d: %w: ITEM_ID requires a PURCHASE trigger", i, ErrInvalidFunction))
		}
	}
	return errors.Join(errs...)
}

type functionJSON struct {
	ID         string          `json:"id"`
	CircleID   string          `json:"circle_id"`
	Position   int             `json:"position"`
	Trigger    Trigger         `json:"trigger"`
	Status     FunctionStatus  `json:"status"`
	EffectType EffectType      `json:"effect_type"`
	Effect     json.RawMessage `json:"effect"`
	Conditions []Condition     `json:"conditions"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON writes the effect next to its effect_type discriminator
func (f Function) MarshalJSON() ([]byte, error) {
	effect, err := json.Marshal(f.Effect)
	if err != nil {
		return nil, err
	}
	conditions := f.Conditions
	if conditions == nil {
		conditions = []Condition{}
	}
	return json.Marshal(functionJSON{
		ID:         f.ID,
		CircleID:   f.CircleID,
		Position:   f.Position,
		Trigger:    f.Trigger,
		Status:     f.Status,
		EffectType: f.EffectType(),
		Effect:     effect,
		Conditions: conditions,
		CreatedAt:  f.CreatedAt,
	})
}

// UnmarshalJSON decodes the effect by effect_type. Status defaults to ACTIVE.
func (f *Function) UnmarshalJSON(data []byte) error {
	var raw functionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("function: %w", err)
	}
	return f.fromRaw(raw, raw.Conditions)
}

type storedFunctionJSON struct {
	functionJSON
	Conditions []conditionJSON `json:"conditions"`
}

// DecodeStoredFunction decodes a persisted definition without checking its
// conditions. FunctionMatcher rejects an invalid condition at match time and
// skips only the function that carries it.
func DecodeStoredFunction(data []byte) (Function, error) {
	var raw storedFunctionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Function{}, fmt.Errorf("function: %w", err)
	}
	var conditions []Condition
	if raw.Conditions != nil {
		conditions = make([]Condition, len(raw.Conditions))
	}
	for i, c := range raw.Conditions {
		conditions[i] = c.loose()
	}
	var f Function
	err := f.fromRaw(raw.functionJSON, conditions)
	return f, err
}

func (f *Function) fromRaw(raw functionJSON, conditions []Condition) error {
	effect, err := DecodeEffect(raw.EffectType, raw.Effect)
	if err != nil {
		return err
	}
	if raw.Status == "" {
		raw.Status = StatusActive
	}
	*f = Function{
		ID:         raw.ID,
		CircleID:   raw.CircleID,
		Position:   raw.Position,
		Trigger:    raw.Trigger,
		Status:     raw.Status,
		Effect:     effect,
		Conditions: conditions,
		CreatedAt:  raw.CreatedAt,
	}
	return nil
}
