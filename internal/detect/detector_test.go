package detect

import (
	"testing"
	"time"
)

func TestRenormalizeAlreadyNormalized(t *testing.T) {
	out, ok := renormalize([]float64{0.2, 0.3, 0.5})
	if !ok {
		t.Errorf("expected already-normalized weights to report ok=true")
	}
	sum := out[0] + out[1] + out[2]
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("expected sum ~1.0, got %f", sum)
	}
}

func TestRenormalizeCorrectsSum(t *testing.T) {
	out, ok := renormalize([]float64{1, 1, 2})
	if ok {
		t.Errorf("expected mis-summed weights to report ok=false")
	}
	sum := out[0] + out[1] + out[2]
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("expected renormalized sum ~1.0, got %f", sum)
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-1) != 0 || clamp01(2) != 1 || clamp01(0.5) != 0.5 {
		t.Error("clamp01 did not bound correctly")
	}
}

func TestCircuitBreakerOpensAndResets(t *testing.T) {
	cb := newCircuitBreaker(time.Second, 3)
	now := time.Unix(0, 0)
	if !cb.allow(now) {
		t.Fatal("fresh breaker should allow")
	}
	for i := 0; i < 3; i++ {
		cb.recordError(now)
	}
	if cb.allow(now) {
		t.Error("breaker should be open after max errors")
	}
	later := now.Add(2 * time.Second)
	if !cb.allow(later) {
		t.Error("breaker should auto-reset after window elapses")
	}
}

func TestAdaptiveThresholdsQuantile(t *testing.T) {
	a := newAdaptiveThresholds(100)
	for _, v := range []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		a.observe(v)
	}
	p50, ok := a.quantile(50)
	if !ok {
		t.Fatal("expected enough samples for a quantile")
	}
	if p50 < 5 || p50 > 6 {
		t.Errorf("expected median near 5.5, got %f", p50)
	}
}

func TestAdaptiveThresholdsTooFewSamples(t *testing.T) {
	a := newAdaptiveThresholds(100)
	a.observe(1)
	a.observe(2)
	if _, ok := a.quantile(50); ok {
		t.Error("expected insufficient samples to report ok=false")
	}
}
