package pricing

import (
	"fmt"
	"math"
)

// Amount is a USD amount in nano-dollars (1e-9 USD).
//
// Costs are computed and stored as integers so repeated calculations with the
// same inputs always produce the same result. Per-call LLM costs are
// routinely below one cent, so rounding to the currency minor unit happens
// only at display time.
type Amount int64

// FromDollars converts a dollar value to an Amount, rounding to the nearest
// nano-dollar.
func FromDollars(d float64) Amount {
	return Amount(math.Round(d * 1e9))
}

// Dollars returns the amount as a float64 dollar value.
func (a Amount) Dollars() float64 {
	return float64(a) / 1e9
}

// Cents returns the amount rounded to the nearest cent, in cents.
func (a Amount) Cents() int64 {
	return int64(math.Round(float64(a) / 1e7))
}

// String formats the amount as a dollar string with four decimal places,
// e.g. "$0.0088". Sub-cent precision is kept because individual calls are
// usually fractions of a cent.
func (a Amount) String() string {
	return fmt.Sprintf("$%.4f", a.Dollars())
}
