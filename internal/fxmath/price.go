// Package fxmath implements fixed-point arithmetic for prices and
// quantities. It is the only package in this module permitted to touch
// monetary values; every other package imports types from here instead of
// using float64 directly.
package fxmath

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PricePrecision and QuantityPrecision bound the number of decimal digits
// retained when a Price or Quantity is created from a float or string.
const (
	PricePrecision    = 8
	QuantityPrecision = 4
)

// Price is a non-negative fixed-point scalar quantized to a tick grid.
// The zero value is not a valid Price; use ZeroPrice() or NewPrice.
type Price struct {
	d decimal.Decimal
}

// Quantity is a non-negative fixed-point scalar quantized to a lot size.
type Quantity struct {
	d decimal.Decimal
}

// ZeroPrice returns the additive identity.
func ZeroPrice() Price { return Price{d: decimal.Zero} }

// ZeroQuantity returns the additive identity.
func ZeroQuantity() Quantity { return Quantity{d: decimal.Zero} }

// NewPrice validates and constructs a Price from a decimal string. Returns
// false if s does not parse as a decimal or is negative; zero is accepted.
func NewPrice(s string) (Price, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, false
	}
	if d.IsNegative() {
		return Price{}, false
	}
	return Price{d: d.Round(PricePrecision)}, true
}

// NewQuantity validates and constructs a Quantity from a decimal string.
func NewQuantity(s string) (Quantity, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, false
	}
	if d.IsNegative() {
		return Quantity{}, false
	}
	return Quantity{d: d.Round(QuantityPrecision)}, true
}

// NewPriceFromFloat constructs a Price from a float64. Prefer NewPrice when
// the raw decimal string is available — this exists for adapters that
// receive exchange data as float64 (e.g. already-parsed JSON numbers).
func NewPriceFromFloat(f float64) (Price, bool) {
	if !IsValidPrice(f) {
		return Price{}, false
	}
	return Price{d: decimal.NewFromFloat(f).Round(PricePrecision)}, true
}

// NewQuantityFromFloat mirrors NewPriceFromFloat for quantities.
func NewQuantityFromFloat(f float64) (Quantity, bool) {
	if !IsValidQuantity(f) {
		return Quantity{}, false
	}
	return Quantity{d: decimal.NewFromFloat(f).Round(QuantityPrecision)}, true
}

// IsValidPrice reports whether x is finite and strictly positive.
func IsValidPrice(x float64) bool {
	return isFinite(x) && x > 0
}

// IsValidQuantity reports whether x is finite and strictly positive.
func IsValidQuantity(x float64) bool {
	return isFinite(x) && x > 0
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func (p Price) Decimal() decimal.Decimal    { return p.d }
func (q Quantity) Decimal() decimal.Decimal { return q.d }

func (p Price) String() string    { return p.d.String() }
func (q Quantity) String() string { return q.d.String() }

func (p Price) IsZero() bool { return p.d.IsZero() }
func (q Quantity) IsZero() bool { return q.d.IsZero() }

func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }
func (p Price) LessThan(o Price) bool    { return p.d.LessThan(o.d) }
func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }

func (p Price) Add(o Price) Price { return Price{d: p.d.Add(o.d)} }
func (p Price) Sub(o Price) Price { return Price{d: p.d.Sub(o.d)} }

func (q Quantity) Add(o Quantity) Quantity { return Quantity{d: q.d.Add(o.d)} }
func (q Quantity) Sub(o Quantity) Quantity { return Quantity{d: q.d.Sub(o.d)} }
func (q Quantity) LessThan(o Quantity) bool    { return q.d.LessThan(o.d) }
func (q Quantity) GreaterThan(o Quantity) bool { return q.d.GreaterThan(o.d) }

// Mul multiplies a price by a quantity, producing a notional value
// expressed as a Price-shaped scalar (callers treat it as plain money).
func (p Price) Mul(q Quantity) Price {
	return Price{d: p.d.Mul(q.d)}
}

// ToFloat exposes the value for display/telemetry only. Never feed the
// result back into monetary arithmetic.
func (p Price) ToFloat() float64 { f, _ := p.d.Float64(); return f }
func (q Quantity) ToFloat() float64 { f, _ := q.d.Float64(); return f }

// PriceToInt scales a price into integer minor units at PricePrecision
// digits, rounding half-away-from-zero. This is the canonical integer
// representation used for deterministic cross-platform comparisons.
func PriceToInt(p Price) int64 {
	scaled := p.d.Shift(PricePrecision)
	return roundHalfAwayFromZero(scaled)
}

// IntToPrice is the inverse of PriceToInt.
func IntToPrice(i int64) Price {
	d := decimal.New(i, -PricePrecision)
	return Price{d: d}
}

// QuantityToInt and IntToQuantity mirror PriceToInt/IntToPrice at
// QuantityPrecision digits.
func QuantityToInt(q Quantity) int64 {
	scaled := q.d.Shift(QuantityPrecision)
	return roundHalfAwayFromZero(scaled)
}

func IntToQuantity(i int64) Quantity {
	return Quantity{d: decimal.New(i, -QuantityPrecision)}
}

func roundHalfAwayFromZero(d decimal.Decimal) int64 {
	// decimal.Round already rounds half away from zero (RoundBank is the
	// library's half-to-even variant), so no .5 boundary correction is
	// needed.
	return d.Round(0).IntPart()
}

// NormalizePriceToTick quantizes p to the nearest multiple of tick:
// round(p / tick) * tick, computed entirely in the decimal domain.
func NormalizePriceToTick(p Price, tick Price) (Price, bool) {
	if tick.d.IsZero() {
		return Price{}, false
	}
	ratio := p.d.Div(tick.d)
	rounded := decimal.New(roundHalfAwayFromZero(ratio), 0)
	return Price{d: rounded.Mul(tick.d)}, true
}

// NormalizeQuantityToLot mirrors NormalizePriceToTick for lot sizes.
func NormalizeQuantityToLot(q Quantity, lot Quantity) (Quantity, bool) {
	if lot.d.IsZero() {
		return Quantity{}, false
	}
	ratio := q.d.Div(lot.d)
	rounded := decimal.New(roundHalfAwayFromZero(ratio), 0)
	return Quantity{d: rounded.Mul(lot.d)}, true
}

// MulInt scales a Price by an integer multiplier, used to derive a zone
// width (tick * W) from the configured tick size.
func (p Price) MulInt(n int) Price {
	return Price{d: p.d.Mul(decimal.NewFromInt(int64(n)))}
}

// DivInt2 halves a Price, used for zone half-widths.
func (p Price) DivInt2() Price {
	return Price{d: p.d.Div(decimal.NewFromInt(2))}
}

// MulFloat scales a Price by a float factor (e.g. 1.5 for the zone
// boundary-expansion rule, or a configured price-tolerance fraction). Used
// only for configuration-shaped ratios, never for raw market arithmetic.
func (p Price) MulFloat(f float64) Price {
	return Price{d: p.d.Mul(decimal.NewFromFloat(f))}
}

// Abs returns the absolute value.
func (p Price) Abs() Price { return Price{d: p.d.Abs()} }

// CalculateMid returns (bid+ask)/2 rounded to PricePrecision digits. The
// boolean is always true: CalculateMid has no notion of a missing side,
// so checking that both sides exist is left to its callers.
func CalculateMid(bid, ask Price) (Price, bool) {
	sum := bid.d.Add(ask.d)
	mid := sum.Div(decimal.NewFromInt(2)).Round(PricePrecision)
	return Price{d: mid}, true
}

// CalculateSpread returns ask-bid, which may be negative for an inverted
// book (the caller is responsible for treating that as a consistency
// error, see internal/book).
func CalculateSpread(ask, bid Price) Price {
	return Price{d: ask.d.Sub(bid.d)}
}

func (p Price) GoString() string {
	return fmt.Sprintf("fxmath.Price(%s)", p.d.String())
}
