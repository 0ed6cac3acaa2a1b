package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
)

// Money is an amount in integer minor units (cents).
type Money int64

// MaxAmount is the largest amount a single event or fixed commission may
// carry: one trillion in major units. A 100% commission on it stays far
// inside int64.
const MaxAmount Money = 100_000_000_000_000

// MoneyFromFloat converts a major-unit amount, rounding half away from zero.
// Values outside the int64 range saturate.
func MoneyFromFloat(v float64) Money {
	r := math.Round(v * 100)
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt64:
		return math.MaxInt64
	case r <= math.MinInt64:
		return math.MinInt64
	}
	return Money(r)
}

// Add returns m + o, saturating at the int64 bounds.
func (m Money) Add(o Money) Money {
	sum := m + o
	if o > 0 && sum < m {
		return math.MaxInt64
	}
	if o < 0 && sum > m {
		return math.MinInt64
	}
	return sum
}

// Float64 returns the amount in major units
func (m Money) Float64() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes the amount in major units so payloads read naturally.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Float64())
}

// UnmarshalJSON accepts a major-unit number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = MoneyFromFloat(v)
	return nil
}

// percentBasis is a percentage in hundredths of a percent (10.5% = 1050).
type percentBasis int64

func percentFromFloat(v float64) percentBasis {
	return percentBasis(math.Round(v * 100))
}

// apply returns m * p / 100, rounded half-up. The product is taken in 128
// bits and a quotient past int64 saturates.
func (p percentBasis) apply(m Money) Money {
	if m <= 0 || p <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(m), uint64(p))
	lo, carry := bits.Add64(lo, 5000, 0)
	hi += carry
	if hi >= 10000 {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, 10000)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return Money(q)
}
