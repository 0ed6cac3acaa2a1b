package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Parameter discriminates the Condition union
type Parameter string

const (
	ParamRevenue        Parameter = "REVENUE"
	ParamNumOfSignups   Parameter = "NUM_OF_SIGNUPS"
	ParamNumOfPurchases Parameter = "NUM_OF_PURCHASES"
	ParamItemID         Parameter = "ITEM_ID"
)

// Operator is a comparison drawn from the parameter's legal set
type Operator string

const (
	OpGreaterThanOrEqualTo Operator = "GREATER_THAN_OR_EQUAL_TO"
	OpLessThanOrEqualTo    Operator = "LESS_THAN_OR_EQUAL_TO"
	OpGreaterThan          Operator = "GREATER_THAN"
	OpLessThan             Operator = "LESS_THAN"
	OpEquals               Operator = "EQUALS"
	OpContains             Operator = "CONTAINS"
)

var numericOperators = map[Operator]bool{
	OpGreaterThanOrEqualTo: true,
	OpLessThanOrEqualTo:    true,
	OpGreaterThan:          true,
	OpLessThan:             true,
	OpEquals:               true,
}

var stringOperators = map[Operator]bool{
	OpEquals:   true,
	OpContains: true,
}

// Condition is a predicate over accumulated facts or the current event.
// Numeric parameters carry Number, ITEM_ID carries Text; the other field is
// always zero. Build with NewNumericCondition or NewItemCondition.
type Condition struct {
	Parameter Parameter
	Operator  Operator
	Number    float64
	Text      string
}

// NewNumericCondition builds a REVENUE / NUM_OF_SIGNUPS / NUM_OF_PURCHASES condition
func NewNumericCondition(p Parameter, op Operator, value float64) (Condition, error) {
	c := Condition{Parameter: p, Operator: op, Number: value}
	return c, c.Validate()
}

// NewItemCondition builds an ITEM_ID condition
func NewItemCondition(op Operator, value string) (Condition, error) {
	c := Condition{Parameter: ParamItemID, Operator: op, Text: value}
	return c, c.Validate()
}

// Numeric reports whether the condition compares a numeric fact
func (c Condition) Numeric() bool {
	switch c.Parameter {
	case ParamRevenue, ParamNumOfSignups, ParamNumOfPurchases:
		return true
	}
	return false
}

// Validate checks the discriminator, operator and value against the
// parameter's static contract.
func (c Condition) Validate() error {
	invalid := func(reason string) error {
		return &InvalidConditionError{Parameter: c.Parameter, Operator: c.Operator, Reason: reason}
	}
	switch c.Parameter {
	case ParamRevenue, ParamNumOfSignups, ParamNumOfPurchases:
		if !numericOperators[c.Operator] {
			return invalid("operator not allowed for numeric parameter")
		}
		if c.Text != "" {
			return invalid("numeric parameter carries a string value")
		}
		if math.IsNaN(c.Number) || math.IsInf(c.Number, 0) || c.Number < 1 {
			return invalid("value must be a number >= 1")
		}
	case ParamItemID:
		if !stringOperators[c.Operator] {
			return invalid("operator not allowed for ITEM_ID")
		}
		if c.Number != 0 {
			return invalid("ITEM_ID carries a numeric value")
		}
		if c.Text == "" {
			return invalid("value must be a non-empty string")
		}
	default:
		return invalid("unknown parameter")
	}
	return nil
}

// EvaluateCondition evaluates a single condition against the facts.
// Numeric comparison is exact: REVENUE is compared in minor units and counts
// as integers, so EQUALS never tolerates drift. String comparison is case
// sensitive. An ITEM_ID condition outside a PURCHASE event is false.
func EvaluateCondition(c Condition, facts Facts) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	switch c.Parameter {
	case ParamRevenue:
		return compare(int64(facts.Revenue), int64(MoneyFromFloat(c.Number)), c.Operator)
	case ParamNumOfSignups:
		return compare(float64(facts.SignUps), c.Number, c.Operator)
	case ParamNumOfPurchases:
		return compare(float64(facts.Purchases), c.Number, c.Operator)
	case ParamItemID:
		if facts.Trigger != TriggerPurchase {
			return false, nil
		}
		if c.Operator == OpEquals {
			return facts.ItemID == c.Text, nil
		}
		return strings.Contains(facts.ItemID, c.Text), nil
	}
	return false, &InvalidConditionError{Parameter: c.Parameter, Operator: c.Operator, Reason: "unknown parameter"}
}

func compare[T int64 | float64](fact, value T, op Operator) (bool, error) {
	switch op {
	case OpGreaterThanOrEqualTo:
		return fact >= value, nil
	case OpLessThanOrEqualTo:
		return fact <= value, nil
	case OpGreaterThan:
		return fact > value, nil
	case OpLessThan:
		return fact < value, nil
	case OpEquals:
		return fact == value, nil
	}
	return false, fmt.Errorf("unsupported numeric operator %q", op)
}

type conditionJSON struct {
	Parameter Parameter       `json:"parameter"`
	Operator  Operator        `json:"operator"`
	Value     json.RawMessage `json:"value"`
}

// MarshalJSON writes {parameter, operator, value} with a typed value
func (c Condition) MarshalJSON() ([]byte, error) {
	var value any = c.Text
	if c.Numeric() {
		value = c.Number
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionJSON{Parameter: c.Parameter, Operator: c.Operator, Value: raw})
}

// UnmarshalJSON decodes the union using parameter as discriminator and
// rejects values of the wrong type.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	out := raw.loose()
	switch raw.Parameter {
	case ParamRevenue, ParamNumOfSignups, ParamNumOfPurchases:
		if err := json.Unmarshal(raw.Value, new(float64)); err != nil {
			return &InvalidConditionError{Parameter: raw.Parameter, Operator: raw.Operator, Reason: "value must be numeric"}
		}
	case ParamItemID:
		if err := json.Unmarshal(raw.Value, new(string)); err != nil {
			return &InvalidConditionError{Parameter: raw.Parameter, Operator: raw.Operator, Reason: "value must be a string"}
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*c = out
	return nil
}

// loose decodes the value by parameter without checking the contract. A
// value of the wrong type is left zero, which Validate rejects later.
func (raw conditionJSON) loose() Condition {
	out := Condition{Parameter: raw.Parameter, Operator: raw.Operator}
	switch raw.Parameter {
	case ParamRevenue, ParamNumOfSignups, ParamNumOfPurchases:
		_ = json.Unmarshal(raw.Value, &out.Number)
	case ParamItemID:
		_ = json.Unmarshal(raw.Value, &out.Text)
	}
	return out
}
