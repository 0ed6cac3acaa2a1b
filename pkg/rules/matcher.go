package rules

import (
	"errors"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
)

// FunctionMatcher selects the function that applies to an event within a circle.
type FunctionMatcher struct {
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewFunctionMatcher creates a matcher. Both arguments may be nil.
func NewFunctionMatcher(log logger.Logger, m *metrics.Metrics) *FunctionMatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &FunctionMatcher{log: log, metrics: m}
}

// Match returns the first active function, in persisted order, whose trigger
// equals the event's and whose every condition holds. A function without
// conditions matches its trigger unconditionally. It returns nil when
// nothing matches.
//
// A condition that violates its contract makes its function non-matching;
// the error is logged and matching continues with the next function.
func (m *FunctionMatcher) Match(circle Circle, trigger Trigger, facts Facts) *Function {
	for i := range circle.Functions {
		fn := circle.Functions[i]
		if !fn.Active() || fn.Trigger != trigger {
			continue
		}
		ok, err := m.holds(fn, facts)
		if err != nil {
			var invalid *InvalidConditionError
			if errors.As(err, &invalid) {
				m.metrics.ConditionError()
			}
			m.log.Warn("function skipped: invalid condition",
				"function_id", fn.ID,
				"circle_id", circle.ID,
				"error", err,
			)
			continue
		}
		if ok {
			return &fn
		}
	}
	return nil
}

func (m *FunctionMatcher) holds(fn Function, facts Facts) (bool, error) {
	for _, c := range fn.Conditions {
		ok, err := EvaluateCondition(c, facts)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
