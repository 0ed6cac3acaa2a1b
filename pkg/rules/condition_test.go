package rules

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition_Numeric(t *testing.T) {
	facts := Facts{SignUps: 5, Purchases: 2, Revenue: 15000, Trigger: TriggerPurchase}

	tests := []struct {
		name  string
		param Parameter
		op    Operator
		value float64
		want  bool
	}{
		{"revenue gte equal", ParamRevenue, OpGreaterThanOrEqualTo, 150, true},
		{"revenue gt equal", ParamRevenue, OpGreaterThan, 150, false},
		{"revenue lt", ParamRevenue, OpLessThan, 150.01, true},
		{"revenue lte", ParamRevenue, OpLessThanOrEqualTo, 149.99, false},
		{"revenue equals exact", ParamRevenue, OpEquals, 150, true},
		{"signups equals", ParamNumOfSignups, OpEquals, 5, true},
		{"signups equals off by one", ParamNumOfSignups, OpEquals, 4, false},
		{"purchases gte", ParamNumOfPurchases, OpGreaterThanOrEqualTo, 3, false},
		{"purchases lt", ParamNumOfPurchases, OpLessThan, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewNumericCondition(tt.param, tt.op, tt.value)
			require.NoError(t, err)
			got, err := EvaluateCondition(c, facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_RevenueEqualsHasNoFloatDrift(t *testing.T) {
	// 100.1 + 200.2 != 300.3 in float64, but is exact in minor units.
	facts := Facts{Revenue: MoneyFromFloat(100.1) + MoneyFromFloat(200.2)}
	c, err := NewNumericCondition(ParamRevenue, OpEquals, 300.3)
	require.NoError(t, err)

	ok, err := EvaluateCondition(c, facts)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateCondition_ItemID(t *testing.T) {
	contains, err := NewItemCondition(OpContains, "shoe")
	require.NoError(t, err)
	equals, err := NewItemCondition(OpEquals, "Hat-7")
	require.NoError(t, err)

	t.Run("Success - substring present", func(t *testing.T) {
		ok, err := EvaluateCondition(contains, Facts{Trigger: TriggerPurchase, ItemID: "running-shoe-42"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Success - substring absent", func(t *testing.T) {
		ok, err := EvaluateCondition(contains, Facts{Trigger: TriggerPurchase, ItemID: "hat-7"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Success - equals is case sensitive", func(t *testing.T) {
		ok, err := EvaluateCondition(equals, Facts{Trigger: TriggerPurchase, ItemID: "hat-7"})
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = EvaluateCondition(equals, Facts{Trigger: TriggerPurchase, ItemID: "Hat-7"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Success - fails closed outside purchases", func(t *testing.T) {
		ok, err := EvaluateCondition(contains, Facts{Trigger: TriggerSignup, ItemID: "shoe"})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name string
		c    Condition
	}{
		{"contains on numeric", Condition{Parameter: ParamRevenue, Operator: OpContains, Number: 10}},
		{"numeric below one", Condition{Parameter: ParamNumOfSignups, Operator: OpEquals, Number: 0.5}},
		{"numeric NaN", Condition{Parameter: ParamRevenue, Operator: OpEquals, Number: math.NaN()}},
		{"numeric with text", Condition{Parameter: ParamRevenue, Operator: OpEquals, Number: 5, Text: "x"}},
		{"item gt", Condition{Parameter: ParamItemID, Operator: OpGreaterThan, Text: "x"}},
		{"item empty", Condition{Parameter: ParamItemID, Operator: OpEquals}},
		{"item with number", Condition{Parameter: ParamItemID, Operator: OpEquals, Text: "x", Number: 2}},
		{"unknown parameter", Condition{Parameter: "COLOR", Operator: OpEquals, Text: "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			var invalid *InvalidConditionError
			require.True(t, errors.As(err, &invalid), "got %v", err)

			_, evalErr := EvaluateCondition(tt.c, Facts{Trigger: TriggerPurchase, Revenue: 1000, SignUps: 1})
			assert.True(t, errors.As(evalErr, &invalid))
		})
	}
}

func TestCondition_JSON(t *testing.T) {
	t.Run("Success - numeric value", func(t *testing.T) {
		var c Condition
		require.NoError(t, json.Unmarshal([]byte(`{"parameter":"REVENUE","operator":"GREATER_THAN_OR_EQUAL_TO","value":100}`), &c))
		assert.Equal(t, Condition{Parameter: ParamRevenue, Operator: OpGreaterThanOrEqualTo, Number: 100}, c)

		out, err := json.Marshal(c)
		require.NoError(t, err)
		assert.JSONEq(t, `{"parameter":"REVENUE","operator":"GREATER_THAN_OR_EQUAL_TO","value":100}`, string(out))
	})

	t.Run("Success - string value", func(t *testing.T) {
		var c Condition
		require.NoError(t, json.Unmarshal([]byte(`{"parameter":"ITEM_ID","operator":"CONTAINS","value":"shoe"}`), &c))
		assert.Equal(t, "shoe", c.Text)
	})

	t.Run("Error - value type does not match parameter", func(t *testing.T) {
		var c Condition
		err := json.Unmarshal([]byte(`{"parameter":"NUM_OF_SIGNUPS","operator":"EQUALS","value":"five"}`), &c)
		var invalid *InvalidConditionError
		assert.ErrorAs(t, err, &invalid)

		err = json.Unmarshal([]byte(`{"parameter":"ITEM_ID","operator":"EQUALS","value":5}`), &c)
		assert.ErrorAs(t, err, &invalid)
	})
}

// Raising a fact never turns a GREATER_THAN_OR_EQUAL_TO result from true to false.
func TestEvaluateCondition_Monotonic(t *testing.T) {
	faker := gofakeit.New(42)
	params := []Parameter{ParamRevenue, ParamNumOfSignups, ParamNumOfPurchases}

	for i := 0; i < 500; i++ {
		param := params[faker.Number(0, len(params)-1)]
		threshold := float64(faker.Number(1, 1000))
		c, err := NewNumericCondition(param, OpGreaterThanOrEqualTo, threshold)
		require.NoError(t, err)

		base := int64(faker.Number(0, 2000))
		delta := int64(faker.Number(0, 500))
		low, high := factsFor(param, base), factsFor(param, base+delta)

		before, err := EvaluateCondition(c, low)
		require.NoError(t, err)
		after, err := EvaluateCondition(c, high)
		require.NoError(t, err)
		if before {
			assert.True(t, after, "param=%s threshold=%v base=%d delta=%d", param, threshold, base, delta)
		}
	}
}

func factsFor(p Parameter, v int64) Facts {
	switch p {
	case ParamRevenue:
		return Facts{Revenue: Money(v * 100)}
	case ParamNumOfSignups:
		return Facts{SignUps: v}
	default:
		return Facts{Purchases: v}
	}
}
