package fxmath

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decs(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestPercentileLinearInterpolation(t *testing.T) {
	xs := decs(1, 2, 3, 4)
	p50, ok := Percentile(xs, 50)
	if !ok {
		t.Fatal("expected percentile to succeed")
	}
	want := decimal.NewFromFloat(2.5)
	if !p50.Equal(want) {
		t.Errorf("p50 = %s, want %s", p50, want)
	}
}

func TestPercentileEmpty(t *testing.T) {
	if _, ok := Percentile(nil, 50); ok {
		t.Error("expected empty percentile to be absent")
	}
	if _, ok := Percentile(decs(1, 2), 150); ok {
		t.Error("expected out-of-range percentile to be absent")
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0.3, 0.3},
		{1.7, 1},
	}
	for _, c := range cases {
		got := Clamp01(decimal.NewFromFloat(c.in))
		want := decimal.NewFromFloat(c.want)
		if !got.Equal(want) {
			t.Errorf("Clamp01(%v) = %s, want %s", c.in, got, want)
		}
	}
}

func TestMinMax(t *testing.T) {
	xs := decs(3, 1, 4, 1, 5)
	min, ok := Min(xs)
	if !ok || !min.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("Min = %s, ok=%v", min, ok)
	}
	max, ok := Max(xs)
	if !ok || !max.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("Max = %s, ok=%v", max, ok)
	}
}
