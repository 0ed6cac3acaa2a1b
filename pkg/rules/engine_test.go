package rules_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/rules"
	"github.com/jordanlanch/commissionengine/pkg/store/memory"
)

const program = "prog-1"

type recordingPublisher struct {
	mu     sync.Mutex
	events []rules.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev rules.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.EventName())
	}
	return out
}

// flakyStore fails the first n transactions with a transient error
type flakyStore struct {
	rules.Store
	failures int
	calls    int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx rules.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return fmt.Errorf("serialization failure: %w", rules.ErrTransient)
	}
	return s.Store.RunInTx(ctx, fn)
}

func newCircle(t *testing.T, s *memory.Store, id string, isDefault bool, fns ...rules.Function) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateCircle(ctx, rules.Circle{ID: id, ProgramID: program, Name: id, IsDefault: isDefault, CreatedAt: time.Now()}))
	for _, fn := range fns {
		fn.CircleID = id
		if fn.Status == "" {
			fn.Status = rules.StatusActive
		}
		require.NoError(t, fn.Validate())
		_, err := s.SaveFunction(ctx, fn)
		require.NoError(t, err)
	}
}

func fixedCommission(v float64) rules.Effect {
	return rules.GenerateCommissionEffect{Commission: rules.CommissionSpec{Kind: rules.CommissionFixed, Value: v}}
}

func percentCommission(v float64) rules.Effect {
	return rules.GenerateCommissionEffect{Commission: rules.CommissionSpec{Kind: rules.CommissionPercentage, Value: v}}
}

func signup(id, promoter, contact string) rules.TriggerEvent {
	return rules.TriggerEvent{
		SourceEventID: id,
		ProgramID:     program,
		Trigger:       rules.TriggerSignup,
		ContactID:     contact,
		PromoterID:    promoter,
		LinkID:        "link-1",
	}
}

func purchase(id, promoter string, amount float64, item string) rules.TriggerEvent {
	return rules.TriggerEvent{
		SourceEventID: id,
		ProgramID:     program,
		Trigger:       rules.TriggerPurchase,
		ContactID:     "contact-1",
		PromoterID:    promoter,
		LinkID:        "link-1",
		ItemID:        item,
		Amount:        rules.MoneyFromFloat(amount),
	}
}

func TestEngine_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - fixed commission on signup", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerSignup, Effect: fixedCommission(50)})
		pub := &recordingPublisher{}
		engine := rules.NewEngine(store, rules.WithPublisher(pub))

		out, err := engine.Evaluate(ctx, signup("evt-1", "P", "contact-1"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
		require.NotNil(t, out.Commission)
		assert.Equal(t, rules.Money(5000), out.Commission.Amount)
		assert.Equal(t, rules.Money(0), out.Commission.Revenue)
		assert.Equal(t, rules.TriggerSignup, out.Commission.ConversionType)
		assert.Equal(t, "f1", out.Commission.FunctionID)
		assert.Equal(t, []string{rules.EventCommissionCreated}, pub.names())

		circle, ok, err := store.PromoterCircle(ctx, program, "P")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "default", circle)
	})

	t.Run("Success - percentage commission above revenue threshold", func(t *testing.T) {
		store := memory.New()
		cond, err := rules.NewNumericCondition(rules.ParamRevenue, rules.OpGreaterThanOrEqualTo, 100)
		require.NoError(t, err)
		newCircle(t, store, "default", true, rules.Function{
			ID: "f1", Trigger: rules.TriggerPurchase, Effect: percentCommission(10),
			Conditions: []rules.Condition{cond},
		})
		engine := rules.NewEngine(store)

		event := purchase("evt-150", "P", 150, "")
		event.Facts = &rules.Facts{Purchases: 1, Revenue: rules.MoneyFromFloat(150)}
		out, err := engine.Evaluate(ctx, event)
		require.NoError(t, err)
		require.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
		assert.Equal(t, rules.MoneyFromFloat(15), out.Commission.Amount)
		assert.Equal(t, rules.MoneyFromFloat(150), out.Commission.Revenue)

		event = purchase("evt-50", "Q", 50, "")
		event.Facts = &rules.Facts{Purchases: 1, Revenue: rules.MoneyFromFloat(50)}
		out, err = engine.Evaluate(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeNoMatch, out.Kind)
		assert.Nil(t, out.Commission)
	})

	t.Run("Success - fifth signup switches circle without commission", func(t *testing.T) {
		store := memory.New()
		fifth, err := rules.NewNumericCondition(rules.ParamNumOfSignups, rules.OpEquals, 5)
		require.NoError(t, err)
		newCircle(t, store, "default", true,
			rules.Function{ID: "switch", Trigger: rules.TriggerSignup, Effect: rules.SwitchCircleEffect{TargetCircleID: "tier2"}, Conditions: []rules.Condition{fifth}},
		)
		newCircle(t, store, "tier2", false, rules.Function{ID: "tier2-signup", Trigger: rules.TriggerSignup, Effect: fixedCommission(20)})
		pub := &recordingPublisher{}
		engine := rules.NewEngine(store, rules.WithPublisher(pub))

		for i := 1; i <= 4; i++ {
			out, err := engine.Evaluate(ctx, signup(fmt.Sprintf("s%d", i), "P", "contact-1"))
			require.NoError(t, err)
			assert.Equal(t, rules.OutcomeNoMatch, out.Kind)
		}

		out, err := engine.Evaluate(ctx, signup("s5", "P", "contact-1"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCircleSwitched, out.Kind)
		assert.Equal(t, "tier2", out.NewCircleID)
		assert.Equal(t, "default", out.CircleID)
		assert.Nil(t, out.Commission)

		list, err := store.ListCommissions(ctx, rules.CommissionFilter{ProgramID: program})
		require.NoError(t, err)
		assert.Empty(t, list)

		// The next event is evaluated against the new circle.
		out, err = engine.Evaluate(ctx, signup("s6", "P", "contact-1"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
		assert.Equal(t, "tier2", out.CircleID)
		assert.Equal(t, []string{rules.EventCircleSwitched, rules.EventCommissionCreated}, pub.names())
	})

	t.Run("Success - item id contains", func(t *testing.T) {
		store := memory.New()
		shoe, err := rules.NewItemCondition(rules.OpContains, "shoe")
		require.NoError(t, err)
		newCircle(t, store, "default", true, rules.Function{
			ID: "shoes", Trigger: rules.TriggerPurchase, Effect: fixedCommission(3), Conditions: []rules.Condition{shoe},
		})
		engine := rules.NewEngine(store)

		out, err := engine.Evaluate(ctx, purchase("p1", "P", 80, "running-shoe-42"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)

		out, err = engine.Evaluate(ctx, purchase("p2", "P", 80, "hat-7"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeNoMatch, out.Kind)
	})

	t.Run("Success - duplicate delivery returns the first commission", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerPurchase, Effect: percentCommission(10)})
		pub := &recordingPublisher{}
		engine := rules.NewEngine(store, rules.WithPublisher(pub))

		event := purchase("dup-1", "P", 200, "")
		first, err := engine.Evaluate(ctx, event)
		require.NoError(t, err)
		second, err := engine.Evaluate(ctx, event)
		require.NoError(t, err)

		assert.False(t, first.Duplicate)
		assert.True(t, second.Duplicate)
		require.NotNil(t, second.Commission)
		assert.Equal(t, first.Commission.ID, second.Commission.ID)
		assert.Equal(t, first.Commission.Amount, second.Commission.Amount)

		list, err := store.ListCommissions(ctx, rules.CommissionFilter{ProgramID: program})
		require.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Len(t, pub.names(), 1)
	})

	t.Run("Success - ledger facts accumulate across events", func(t *testing.T) {
		store := memory.New()
		second, err := rules.NewNumericCondition(rules.ParamNumOfPurchases, rules.OpGreaterThanOrEqualTo, 2)
		require.NoError(t, err)
		bigSpender, err := rules.NewNumericCondition(rules.ParamRevenue, rules.OpGreaterThan, 100)
		require.NoError(t, err)
		newCircle(t, store, "default", true, rules.Function{
			ID: "repeat", Trigger: rules.TriggerPurchase, Effect: fixedCommission(7), Conditions: []rules.Condition{second, bigSpender},
		})
		engine := rules.NewEngine(store)

		out, err := engine.Evaluate(ctx, purchase("a", "P", 60, ""))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeNoMatch, out.Kind)

		out, err = engine.Evaluate(ctx, purchase("b", "P", 60, ""))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
	})

	t.Run("Success - publish failure does not fail evaluation", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerSignup, Effect: fixedCommission(1)})
		engine := rules.NewEngine(store, rules.WithPublisher(&recordingPublisher{err: errors.New("broker down")}))

		out, err := engine.Evaluate(ctx, signup("evt", "P", "c"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
	})
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("Error - invalid event", func(t *testing.T) {
		engine := rules.NewEngine(memory.New())
		event := signup("", "P", "c")
		_, err := engine.Evaluate(ctx, event)
		assert.ErrorIs(t, err, rules.ErrInvalidEvent)

		event = purchase("x", "P", 10, "")
		event.Trigger = "REFUND"
		_, err = engine.Evaluate(ctx, event)
		assert.ErrorIs(t, err, rules.ErrInvalidEvent)
	})

	t.Run("Error - amount above the event ceiling", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "all", Trigger: rules.TriggerPurchase, Effect: percentCommission(100)})
		engine := rules.NewEngine(store)

		event := purchase("huge", "P", 0, "")
		event.Amount = rules.MaxAmount + 1
		_, err := engine.Evaluate(ctx, event)
		assert.ErrorIs(t, err, rules.ErrInvalidEvent)

		list, err := store.ListCommissions(ctx, rules.CommissionFilter{ProgramID: program})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Error - program without default circle", func(t *testing.T) {
		engine := rules.NewEngine(memory.New())
		_, err := engine.Evaluate(ctx, signup("evt", "P", "c"))

		var failed *rules.EvaluationFailedError
		require.ErrorAs(t, err, &failed)
		assert.False(t, failed.Transient)
		assert.ErrorIs(t, err, rules.ErrNoDefaultCircle)
	})

	t.Run("Error - switch to foreign circle leaves no state", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "sw", Trigger: rules.TriggerSignup, Effect: rules.SwitchCircleEffect{TargetCircleID: "elsewhere"}})
		require.NoError(t, store.CreateCircle(ctx, rules.Circle{ID: "elsewhere", ProgramID: "prog-2", IsDefault: true}))
		engine := rules.NewEngine(store)

		_, err := engine.Evaluate(ctx, signup("evt", "P", "c"))
		var invalid *rules.InvalidTargetCircleError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "elsewhere", invalid.TargetCircleID)

		_, ok, err := store.PromoterCircle(ctx, program, "P")
		require.NoError(t, err)
		assert.False(t, ok, "default attachment must roll back with the failed evaluation")
	})

	t.Run("Error - switch to missing circle", func(t *testing.T) {
		store := memory.New()
		newCircle(t, store, "default", true, rules.Function{ID: "sw", Trigger: rules.TriggerSignup, Effect: rules.SwitchCircleEffect{TargetCircleID: "ghost"}})
		engine := rules.NewEngine(store)

		_, err := engine.Evaluate(ctx, signup("evt", "P", "c"))
		var invalid *rules.InvalidTargetCircleError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("Success - transient failure is re-run", func(t *testing.T) {
		mem := memory.New()
		newCircle(t, mem, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerSignup, Effect: fixedCommission(1)})
		flaky := &flakyStore{Store: mem, failures: 1}
		engine := rules.NewEngine(flaky, rules.WithMaxAttempts(2))

		out, err := engine.Evaluate(ctx, signup("evt", "P", "c"))
		require.NoError(t, err)
		assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
		assert.Equal(t, 2, flaky.calls)
	})

	t.Run("Error - transient failure after last attempt", func(t *testing.T) {
		mem := memory.New()
		newCircle(t, mem, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerSignup, Effect: fixedCommission(1)})
		flaky := &flakyStore{Store: mem, failures: 5}
		engine := rules.NewEngine(flaky, rules.WithMaxAttempts(3))

		_, err := engine.Evaluate(ctx, signup("evt", "P", "c"))
		var failed *rules.EvaluationFailedError
		require.ErrorAs(t, err, &failed)
		assert.True(t, failed.Transient)
		assert.True(t, rules.IsTransient(err))
		assert.Equal(t, 3, flaky.calls)
	})
}

func TestEngine_Metrics(t *testing.T) {
	store := memory.New()
	newCircle(t, store, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerPurchase, Effect: fixedCommission(2.5)})
	m := metrics.New(prometheus.NewRegistry())
	engine := rules.NewEngine(store, rules.WithMetrics(m))

	event := purchase("evt", "P", 10, "")
	_, err := engine.Evaluate(context.Background(), event)
	require.NoError(t, err)
	_, err = engine.Evaluate(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("PURCHASE", "COMMISSION_CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("PURCHASE", "duplicate")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.CommissionAmount))
}

// Events for different promoters may run concurrently; each gets its own commission.
func TestEngine_ConcurrentPromoters(t *testing.T) {
	store := memory.New()
	newCircle(t, store, "default", true, rules.Function{ID: "f1", Trigger: rules.TriggerSignup, Effect: fixedCommission(1)})
	engine := rules.NewEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Evaluate(context.Background(), signup(fmt.Sprintf("e%d", i), fmt.Sprintf("P%d", i), "c"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := store.ListCommissions(context.Background(), rules.CommissionFilter{ProgramID: program})
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
