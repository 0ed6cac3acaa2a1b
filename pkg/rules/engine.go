package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
)

// Engine evaluates trigger events against the promoter's current circle.
//
// Each call runs read-circle, match, execute and record inside one store
// transaction, and applies at most one effect. A circle switch takes effect
// for later events only. The engine does not serialize events of one
// promoter; callers must (see pkg/dispatch).
type Engine struct {
	store       Store
	matcher     *FunctionMatcher
	executor    *EffectExecutor
	validate    *validator.Validate
	publisher   Publisher
	log         logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	maxAttempts int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records evaluation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher sets the sink for domain events emitted after commit
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.executor.now = now
	}
}

// WithIDGenerator overrides commission id generation
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.executor.newID = newID }
}

// WithMaxAttempts bounds how often one evaluation is run when the store
// reports a transient failure. 1 disables re-running.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewEngine creates an engine over the given store
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		executor:    NewEffectExecutor(),
		validate:    validator.New(),
		log:         logger.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: 2,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matcher = NewFunctionMatcher(e.log, e.metrics)
	return e
}

// Evaluate processes one trigger event.
//
// A repeated SourceEventID returns the stored outcome with Duplicate set and
// creates nothing. InvalidTargetCircleError and ErrInvalidEvent are returned
// as-is; any other failure is wrapped in *EvaluationFailedError and leaves no
// partial state behind.
func (e *Engine) Evaluate(ctx context.Context, event TriggerEvent) (Outcome, error) {
	start := time.Now()

	if err := e.validateEvent(&event); err != nil {
		e.metrics.ObserveEvaluation(string(event.Trigger), "invalid", time.Since(start))
		return Outcome{}, err
	}

	var (
		outcome Outcome
		emitted []DomainEvent
		err     error
	)
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		emitted = emitted[:0]
		err = e.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			var txErr error
			outcome, emitted, txErr = e.evaluateTx(ctx, tx, event)
			return txErr
		})
		if err == nil || !errors.Is(err, ErrTransient) || ctx.Err() != nil {
			break
		}
		e.log.Warn("transient failure, re-running evaluation",
			"source_event_id", event.SourceEventID,
			"attempt", attempt,
			"error", err,
		)
	}

	if err != nil {
		e.metrics.ObserveEvaluation(string(event.Trigger), "error", time.Since(start))
		var invalidTarget *InvalidTargetCircleError
		if errors.As(err, &invalidTarget) {
			e.log.Error("evaluation aborted: invalid switch target",
				"source_event_id", event.SourceEventID,
				"target_circle_id", invalidTarget.TargetCircleID,
			)
			return Outcome{}, invalidTarget
		}
		e.log.Error("evaluation failed",
			"source_event_id", event.SourceEventID,
			"promoter_id", event.PromoterID,
			"error", err,
		)
		return Outcome{}, &EvaluationFailedError{
			SourceEventID: event.SourceEventID,
			Transient:     errors.Is(err, ErrTransient),
			Err:           err,
		}
	}

	label := string(outcome.Kind)
	if outcome.Duplicate {
		label = "duplicate"
	}
	e.metrics.ObserveEvaluation(string(event.Trigger), label, time.Since(start))
	if !outcome.Duplicate {
		switch outcome.Kind {
		case OutcomeCommissionCreated:
			e.metrics.CommissionCreated(string(outcome.Commission.ConversionType), int64(outcome.Commission.Amount))
		case OutcomeCircleSwitched:
			e.metrics.CircleSwitched()
		}
	}

	e.log.Debug("event evaluated",
		"source_event_id", event.SourceEventID,
		"outcome", outcome.Kind,
		"circle_id", outcome.CircleID,
		"function_id", outcome.FunctionID,
		"duplicate", outcome.Duplicate,
	)

	e.publish(ctx, emitted)
	return outcome, nil
}

func (e *Engine) validateEvent(event *TriggerEvent) error {
	if err := e.validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.Trigger == TriggerSignup {
		event.Amount = 0
		event.ItemID = ""
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	return nil
}

func (e *Engine) evaluateTx(ctx context.Context, tx Tx, event TriggerEvent) (Outcome, []DomainEvent, error) {
	prior, err := tx.FindProcessedEvent(ctx, event.SourceEventID)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("failed to look up processed event: %w", err)
	}
	if prior != nil {
		out, err := e.replay(ctx, tx, *prior)
		return out, nil, err
	}

	circle, err := e.currentCircle(ctx, tx, event)
	if err != nil {
		return Outcome{}, nil, err
	}

	facts, err := e.facts(ctx, tx, event)
	if err != nil {
		return Outcome{}, nil, err
	}

	outcome := Outcome{
		Kind:          OutcomeNoMatch,
		SourceEventID: event.SourceEventID,
		CircleID:      circle.ID,
	}
	var emitted []DomainEvent

	if fn := e.matcher.Match(circle, event.Trigger, facts); fn != nil {
		res, err := e.executor.Execute(ctx, tx, *fn, circle, event)
		if err != nil {
			return Outcome{}, nil, err
		}
		outcome.FunctionID = fn.ID
		switch {
		case res.Commission != nil:
			outcome.Kind = OutcomeCommissionCreated
			outcome.Commission = res.Commission
			outcome.Duplicate = res.Duplicate
			if !res.Duplicate {
				emitted = append(emitted, CommissionCreated{Commission: *res.Commission})
			}
		case res.NewCircleID != "":
			outcome.Kind = OutcomeCircleSwitched
			outcome.NewCircleID = res.NewCircleID
			emitted = append(emitted, CircleSwitched{
				SourceEventID: event.SourceEventID,
				FunctionID:    fn.ID,
				ProgramID:     event.ProgramID,
				PromoterID:    event.PromoterID,
				FromCircleID:  circle.ID,
				ToCircleID:    res.NewCircleID,
				SwitchedAt:    e.now(),
			})
		}
	}

	record := ProcessedEvent{
		SourceEventID: event.SourceEventID,
		ProgramID:     event.ProgramID,
		ContactID:     event.ContactID,
		PromoterID:    event.PromoterID,
		Trigger:       event.Trigger,
		Amount:        event.Amount,
		Outcome:       outcome.Kind,
		CircleID:      circle.ID,
		FunctionID:    outcome.FunctionID,
		NewCircleID:   outcome.NewCircleID,
		OccurredAt:    event.OccurredAt,
		ProcessedAt:   e.now(),
	}
	if outcome.Commission != nil {
		record.CommissionID = outcome.Commission.ID
	}
	if err := tx.RecordProcessedEvent(ctx, record); err != nil {
		return Outcome{}, nil, fmt.Errorf("failed to record processed event: %w", err)
	}

	return outcome, emitted, nil
}

// currentCircle resolves the promoter's circle, attaching first-time
// promoters to the program's DEFAULT circle.
func (e *Engine) currentCircle(ctx context.Context, tx Tx, event TriggerEvent) (Circle, error) {
	circleID, ok, err := tx.PromoterCircle(ctx, event.ProgramID, event.PromoterID)
	if err != nil {
		return Circle{}, fmt.Errorf("failed to read promoter circle: %w", err)
	}
	if !ok {
		circle, err := tx.DefaultCircle(ctx, event.ProgramID)
		if err != nil {
			return Circle{}, fmt.Errorf("failed to resolve default circle: %w", err)
		}
		if err := tx.SetPromoterCircle(ctx, event.ProgramID, event.PromoterID, circle.ID, e.now()); err != nil {
			return Circle{}, fmt.Errorf("failed to attach promoter to default circle: %w", err)
		}
		return circle, nil
	}
	circle, err := tx.GetCircle(ctx, circleID)
	if err != nil {
		return Circle{}, fmt.Errorf("failed to load circle %s: %w", circleID, err)
	}
	return circle, nil
}

// facts returns the caller's pre-aggregated facts, or the ledger totals for
// the contact-promoter pair plus the current event.
func (e *Engine) facts(ctx context.Context, tx Tx, event TriggerEvent) (Facts, error) {
	var facts Facts
	if event.Facts != nil {
		facts = *event.Facts
	} else {
		stored, err := tx.ConversionFacts(ctx, event.ProgramID, event.ContactID, event.PromoterID)
		if err != nil {
			return Facts{}, fmt.Errorf("failed to aggregate facts: %w", err)
		}
		facts = stored
		switch event.Trigger {
		case TriggerSignup:
			facts.SignUps++
		case TriggerPurchase:
			facts.Purchases++
			facts.Revenue = facts.Revenue.Add(event.Amount)
		}
	}
	facts.Trigger = event.Trigger
	facts.ItemID = event.ItemID
	return facts, nil
}

// replay rebuilds the outcome of an already-processed event
func (e *Engine) replay(ctx context.Context, tx Tx, prior ProcessedEvent) (Outcome, error) {
	out := Outcome{
		Kind:          prior.Outcome,
		SourceEventID: prior.SourceEventID,
		CircleID:      prior.CircleID,
		FunctionID:    prior.FunctionID,
		NewCircleID:   prior.NewCircleID,
		Duplicate:     true,
	}
	if prior.CommissionID != "" {
		c, err := tx.GetCommission(ctx, prior.CommissionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to load prior commission: %w", err)
		}
		out.Commission = &c
	}
	return out, nil
}

func (e *Engine) publish(ctx context.Context, emitted []DomainEvent) {
	if e.publisher == nil {
		return
	}
	for _, ev := range emitted {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.log.Error("failed to publish domain event",
				"event", ev.EventName(),
				"partition_key", ev.PartitionKey(),
				"error", err,
			)
		}
	}
}
