package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	"github.com/jordanlanch/commissionengine/pkg/program"
	"github.com/jordanlanch/commissionengine/pkg/rules"
	"github.com/jordanlanch/commissionengine/pkg/store/memory"
)

func switchTo(circleID, target string) rules.Function {
	return rules.Function{
		CircleID: circleID,
		Trigger:  rules.TriggerSignup,
		Status:   rules.StatusActive,
		Effect:   rules.SwitchCircleEffect{TargetCircleID: target},
	}
}

func seedPrograms(t *testing.T, service *program.Service) {
	t.Helper()
	ctx := context.Background()
	for _, in := range []program.CreateCircleInput{
		{ID: "a", ProgramID: "loop", Name: "A", IsDefault: true},
		{ID: "b", ProgramID: "loop", Name: "B"},
		{ID: "main", ProgramID: "orphans", Name: "Main", IsDefault: true},
		{ID: "lost", ProgramID: "orphans", Name: "Lost"},
	} {
		_, err := service.CreateCircle(ctx, in)
		require.NoError(t, err)
	}
	for _, fn := range []rules.Function{switchTo("a", "b"), switchTo("b", "a")} {
		_, err := service.SaveFunction(ctx, fn)
		require.NoError(t, err)
	}
}

func TestGraphAudit_Run(t *testing.T) {
	service := program.NewService(memory.New())
	seedPrograms(t, service)

	m := metrics.New(prometheus.NewRegistry())
	var buf bytes.Buffer
	audit := NewGraphAudit(service, m, logger.NewWithWriter(&buf, "debug"))

	summary, err := audit.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Programs)
	assert.Equal(t, 1, summary.Unreachable)
	assert.Equal(t, 1, summary.Cycles)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnreachableCircles.WithLabelValues("orphans")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.UnreachableCircles.WithLabelValues("loop")))
	assert.Contains(t, buf.String(), "unreachable circles")
}

type flakyValidator struct {
	programs []string
	failing  string
	listErr  error
}

func (f flakyValidator) ListPrograms(context.Context) ([]string, error) {
	return f.programs, f.listErr
}

func (f flakyValidator) ValidateProgram(_ context.Context, id string) (rules.GraphReport, error) {
	if id == f.failing {
		return rules.GraphReport{}, errors.New("store unavailable")
	}
	return rules.GraphReport{ProgramID: id}, nil
}

func TestGraphAudit_Errors(t *testing.T) {
	t.Run("Error - One program fails, others are audited", func(t *testing.T) {
		audit := NewGraphAudit(flakyValidator{programs: []string{"p1", "p2", "p3"}, failing: "p2"}, nil, nil)

		summary, err := audit.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "program p2")
		assert.Equal(t, 2, summary.Programs)
		assert.Equal(t, 1, summary.Failed)
	})

	t.Run("Error - Listing fails", func(t *testing.T) {
		audit := NewGraphAudit(flakyValidator{listErr: errors.New("down")}, nil, nil)
		_, err := audit.Run(context.Background())
		assert.Error(t, err)
	})

	t.Run("Error - Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		audit := NewGraphAudit(flakyValidator{programs: []string{"p1"}}, nil, nil)
		_, err := audit.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCronManager(t *testing.T) {
	audit := NewGraphAudit(flakyValidator{programs: []string{"p1"}}, nil, nil)

	t.Run("Success - Job scheduled", func(t *testing.T) {
		cm := NewCronManager(audit, "0 3 * * *", nil)
		require.NoError(t, cm.SetupJobs())
		assert.Equal(t, 1, cm.Entries())

		cm.Start()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cm.Stop(ctx)
	})

	t.Run("Failure - Invalid schedule", func(t *testing.T) {
		cm := NewCronManager(audit, "not a schedule", nil)
		assert.Error(t, cm.SetupJobs())
	})

	t.Run("Success - Manual run logs summary", func(t *testing.T) {
		var buf bytes.Buffer
		cm := NewCronManager(audit, "@daily", logger.NewWithWriter(&buf, "info"))
		cm.runAudit()
		assert.Contains(t, buf.String(), "graph audit completed")
	})
}
