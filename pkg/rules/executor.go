package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionResult is what an effect produced inside the transaction
type ExecutionResult struct {
	Commission  *Commission
	NewCircleID string
	// Duplicate is set when the commission for (event, function) already
	// existed and was returned instead of created.
	Duplicate bool
}

// EffectExecutor applies a matched function's effect through a transaction.
type EffectExecutor struct {
	newID func() string
	now   func() time.Time
}

// NewEffectExecutor creates an executor with uuid ids and a UTC clock
func NewEffectExecutor() *EffectExecutor {
	return &EffectExecutor{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Execute applies fn's effect for the event. circle is the promoter's
// current circle, used to scope switch targets to the same program.
func (x *EffectExecutor) Execute(ctx context.Context, tx Tx, fn Function, circle Circle, event TriggerEvent) (ExecutionResult, error) {
	switch effect := fn.Effect.(type) {
	case GenerateCommissionEffect:
		return x.generateCommission(ctx, tx, fn, effect, event)
	case SwitchCircleEffect:
		return x.switchCircle(ctx, tx, effect, circle, event)
	case nil:
		return ExecutionResult{}, fmt.Errorf("%w: function %s has no effect", ErrInvalidFunction, fn.ID)
	default:
		return ExecutionResult{}, fmt.Errorf("%w: unsupported effect %T", ErrInvalidFunction, effect)
	}
}

func (x *EffectExecutor) generateCommission(ctx context.Context, tx Tx, fn Function, effect GenerateCommissionEffect, event TriggerEvent) (ExecutionResult, error) {
	existing, err := tx.FindCommission(ctx, event.SourceEventID, fn.ID)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to look up commission: %w", err)
	}
	if existing != nil {
		return ExecutionResult{Commission: existing, Duplicate: true}, nil
	}

	var revenue Money
	if event.Trigger == TriggerPurchase {
		revenue = event.Amount
	}

	commission := Commission{
		ID:             x.newID(),
		SourceEventID:  event.SourceEventID,
		FunctionID:     fn.ID,
		ProgramID:      event.ProgramID,
		ContactID:      event.ContactID,
		PromoterID:     event.PromoterID,
		LinkID:         event.LinkID,
		ConversionType: event.Trigger,
		Amount:         effect.Commission.Amount(event.Trigger, revenue),
		Revenue:        revenue,
		ExternalID:     event.ExternalID,
		OccurredAt:     event.OccurredAt,
		CreatedAt:      x.now(),
	}

	if err := tx.InsertCommission(ctx, commission); err != nil {
		if errors.Is(err, ErrDuplicateCommission) {
			prior, findErr := tx.FindCommission(ctx, event.SourceEventID, fn.ID)
			if findErr != nil {
				return ExecutionResult{}, fmt.Errorf("failed to load existing commission: %w", findErr)
			}
			if prior != nil {
				return ExecutionResult{Commission: prior, Duplicate: true}, nil
			}
		}
		return ExecutionResult{}, fmt.Errorf("failed to create commission: %w", err)
	}

	return ExecutionResult{Commission: &commission}, nil
}

func (x *EffectExecutor) switchCircle(ctx context.Context, tx Tx, effect SwitchCircleEffect, current Circle, event TriggerEvent) (ExecutionResult, error) {
	target, err := tx.GetCircle(ctx, effect.TargetCircleID)
	if err != nil {
		if errors.Is(err, ErrCircleNotFound) {
			return ExecutionResult{}, &InvalidTargetCircleError{
				TargetCircleID: effect.TargetCircleID,
				ProgramID:      event.ProgramID,
				Reason:         "circle does not exist",
			}
		}
		return ExecutionResult{}, fmt.Errorf("failed to load target circle: %w", err)
	}
	if target.ProgramID != current.ProgramID || target.ProgramID != event.ProgramID {
		return ExecutionResult{}, &InvalidTargetCircleError{
			TargetCircleID: effect.TargetCircleID,
			ProgramID:      event.ProgramID,
			Reason:         fmt.Sprintf("circle belongs to program %q", target.ProgramID),
		}
	}

	if err := tx.SetPromoterCircle(ctx, event.ProgramID, event.PromoterID, target.ID, x.now()); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to switch promoter circle: %w", err)
	}
	return ExecutionResult{NewCircleID: target.ID}, nil
}
