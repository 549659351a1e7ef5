package fxmath

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SafeAdd, SafeSub and SafeMul are straightforward — decimal.Decimal has
// no overflow mode worth guarding in Go (it grows arbitrary precision),
// but SafeDiv must guard division by zero per spec: it returns false
// rather than a sentinel.
func SafeAdd(a, b decimal.Decimal) decimal.Decimal { return a.Add(b) }
func SafeSub(a, b decimal.Decimal) decimal.Decimal { return a.Sub(b) }
func SafeMul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b) }

// SafeDiv divides a by b. Returns (zero, false) if b is zero — callers
// must treat the false result as "cannot compute", never as zero.
func SafeDiv(a, b decimal.Decimal) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.Div(b), true
}

// Mean returns the arithmetic mean of xs. Returns false for an empty
// slice — an empty aggregate has no mean, and fabricating zero would
// violate the no-silent-default invariant.
func Mean(xs []decimal.Decimal) (decimal.Decimal, bool) {
	if len(xs) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(xs)))), true
}

// StdDev returns the sample standard deviation of xs (divisor n-1).
// Requires at least two samples.
func StdDev(xs []decimal.Decimal) (decimal.Decimal, bool) {
	if len(xs) < 2 {
		return decimal.Zero, false
	}
	mean, ok := Mean(xs)
	if !ok {
		return decimal.Zero, false
	}
	var sumSq decimal.Decimal
	for _, x := range xs {
		diff := x.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(xs) - 1)))
	f, _ := variance.Float64()
	if f < 0 {
		f = 0
	}
	return decimal.NewFromFloat(sqrtFloat(f)), true
}

// Percentile returns the pth percentile (0..100) of xs using linear
// interpolation between closest ranks. Returns false on empty input or an
// out-of-range percentile.
func Percentile(xs []decimal.Decimal, p float64) (decimal.Decimal, bool) {
	if len(xs) == 0 || p < 0 || p > 100 {
		return decimal.Zero, false
	}
	sorted := make([]decimal.Decimal, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	if len(sorted) == 1 {
		return sorted[0], true
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lowIdx := int(rank)
	highIdx := lowIdx + 1
	if highIdx >= len(sorted) {
		return sorted[lowIdx], true
	}
	frac := rank - float64(lowIdx)
	low := sorted[lowIdx]
	high := sorted[highIdx]
	interp := low.Add(high.Sub(low).Mul(decimal.NewFromFloat(frac)))
	return interp, true
}

// Min and Max return the smallest/largest element. False on empty input.
func Min(xs []decimal.Decimal) (decimal.Decimal, bool) {
	if len(xs) == 0 {
		return decimal.Zero, false
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x.LessThan(m) {
			m = x
		}
	}
	return m, true
}

func Max(xs []decimal.Decimal) (decimal.Decimal, bool) {
	if len(xs) == 0 {
		return decimal.Zero, false
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x.GreaterThan(m) {
			m = x
		}
	}
	return m, true
}

// Clamp01 clamps d to [0,1]. It is the decimal counterpart of the
// float64 clamp01 that the detectors in internal/detect apply to their
// confidences.
func Clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if d.GreaterThan(one) {
		return one
	}
	return d
}

// sqrtFloat implements Newton's method to avoid importing math just for
// Sqrt on a single float64 — mirrors the teacher's own hand-rolled sqrt in
// internal/signals/processor.go, generalized with a convergence check.
func sqrtFloat(x float64) float64 {
	if x <= 0 {
		return 0
	}
	guess := x
	for i := 0; i < 40; i++ {
		next := (guess + x/guess) / 2
		if abs64(next-guess) < 1e-12 {
			return next
		}
		guess = next
	}
	return guess
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
