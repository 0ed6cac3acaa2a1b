package events

import (
	"context"
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

// stalledSink blocks every delivery until release is closed
type stalledSink struct {
	release chan struct{}
	mu      sync.Mutex
	events  []rules.DomainEvent
	ctxErrs []error
}

func newStalledSink() *stalledSink {
	return &stalledSink{release: make(chan struct{})}
}

func (s *stalledSink) Publish(ctx context.Context, ev rules.DomainEvent) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func (s *stalledSink) received() []rules.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rules.DomainEvent(nil), s.events...)
}

func TestAsync_Publish(t *testing.T) {
	t.Run("Success - returns before a stalled sink finishes", func(t *testing.T) {
		sink := newStalledSink()
		async := NewAsync(sink)

		start := time.Now()
		require.NoError(t, async.Publish(context.Background(), sampleCommission()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Empty(t, sink.received())

		close(sink.release)
		require.NoError(t, async.Close(context.Background()))
		assert.Len(t, sink.received(), 1)
	})

	t.Run("Success - caller cancellation does not reach the sink", func(t *testing.T) {
		sink := newStalledSink()
		async := NewAsync(sink)

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, async.Publish(ctx, sampleCommission()))
		cancel()

		close(sink.release)
		require.NoError(t, async.Close(context.Background()))
		require.Len(t, sink.ctxErrs, 1)
		assert.NoError(t, sink.ctxErrs[0])
	})

	t.Run("Success - delivery keeps publish order", func(t *testing.T) {
		sink := &recorder{}
		async := NewAsync(sink)
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, async.Publish(context.Background(), rules.CircleSwitched{SourceEventID: id}))
		}
		require.NoError(t, async.Close(context.Background()))

		require.Len(t, sink.events, 3)
		for i, id := range []string{"a", "b", "c"} {
			assert.Equal(t, id, sink.events[i].(rules.CircleSwitched).SourceEventID)
		}
	})

	t.Run("Error - full queue drops and counts", func(t *testing.T) {
		m := metrics.New(prometheus.NewRegistry())
		sink := newStalledSink()
		async := NewAsync(sink, WithQueueSize(1), WithAsyncMetrics(m))

		var dropped bool
		for i := 0; i < 5; i++ {
			if err := async.Publish(context.Background(), sampleCommission()); err != nil {
				assert.ErrorIs(t, err, ErrQueueFull)
				dropped = true
			}
		}
		assert.True(t, dropped)
		assert.GreaterOrEqual(t, testutil.ToFloat64(m.PublishFailures.WithLabelValues("queue")), 1.0)

		close(sink.release)
		require.NoError(t, async.Close(context.Background()))
	})

	t.Run("Error - publish after close", func(t *testing.T) {
		async := NewAsync(&recorder{})
		require.NoError(t, async.Close(context.Background()))
		assert.ErrorIs(t, async.Publish(context.Background(), sampleCommission()), ErrQueueClosed)
		require.NoError(t, async.Close(context.Background()))
	})

	t.Run("Error - close gives up when the sink never returns", func(t *testing.T) {
		sink := newStalledSink()
		async := NewAsync(sink)
		require.NoError(t, async.Publish(context.Background(), sampleCommission()))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, async.Close(ctx), context.DeadlineExceeded)
		close(sink.release)
	})
}

func TestAsync_EngineNotDelayedBySink(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateCircle(ctx, rules.Circle{ID: "d", ProgramID: "p", Name: "Default", IsDefault: true, CreatedAt: time.Now()}))
	_, err := store.SaveFunction(ctx, rules.Function{ID: "fixed", CircleID: "d", Trigger: rules.TriggerSignup, Status: rules.StatusActive,
		Effect: rules.GenerateCommissionEffect{Commission: rules.CommissionSpec{Kind: rules.CommissionFixed, Value: 5}}})
	require.NoError(t, err)

	sink := newStalledSink()
	async := NewAsync(sink)
	engine := rules.NewEngine(store, rules.WithPublisher(async))

	evalCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	out, err := engine.Evaluate(evalCtx, rules.TriggerEvent{SourceEventID: "e1", ProgramID: "p", Trigger: rules.TriggerSignup,
		ContactID: "c", PromoterID: "P", LinkID: "l"})
	require.NoError(t, err)
	assert.Equal(t, rules.OutcomeCommissionCreated, out.Kind)
	assert.NoError(t, evalCtx.Err())
	assert.Empty(t, sink.received(), "sink is still stalled")

	close(sink.release)
	require.NoError(t, async.Close(ctx))
	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, rules.EventCommissionCreated, got[0].EventName())
}
