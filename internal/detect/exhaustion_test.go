package detect

import (
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

func defaultExhaustionConfig(t *testing.T) ExhaustionConfig {
	t.Helper()
	return ExhaustionConfig{
		ImbalanceHighThreshold:   0.7,
		ImbalanceMediumThreshold: 0.3,
		Weights: ExhaustionWeights{
			Depletion: 0.3, PassiveRatio: 0.3, RefillGap: 0.2, Imbalance: 0.2,
		},
		FinalConfidenceRequired: 0.2,
		EventCooldown:           5 * time.Second,
		HistoryWindow:           60 * time.Second,
		HistoryCapacity:         64,
		StaleAfter:              30 * time.Second,
		CircuitBreakerWindow:    10 * time.Second,
		CircuitBreakerMaxErr:    5,
		MaxZones:                50,
	}
}

// TestAskExhaustionEmitsSignal exercises spec.md scenario E: heavy
// aggressive buying against rapidly depleting ask-side passive
// liquidity, with strong book imbalance.
func TestAskExhaustionEmitsSignal(t *testing.T) {
	cfg := defaultExhaustionConfig(t)
	d := NewExhaustionDetector("exhaustion", cfg)

	center := mustP(t, "100.00")
	base := time.Now()
	passiveReadings := []string{"1000", "1000", "700", "400", "150"}

	var last preprocess.EnrichedTrade
	for i, pr := range passiveReadings {
		snap := preprocess.ZoneSnapshot{
			CenterPrice:          center,
			AggressiveBuyVolume:  mustQ(t, "600"),
			AggressiveSellVolume: fxmath.ZeroQuantity(),
			PassiveVolume:        mustQ(t, pr),
			TradeCount:           i + 1,
			LastUpdate:           base.Add(time.Duration(i*6) * time.Second),
		}
		e := preprocess.EnrichedTrade{
			Trade: preprocess.AggTrade{
				Price:     center,
				Quantity:  mustQ(t, "600"),
				Timestamp: snap.LastUpdate,
			},
			ZoneData:     preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
			Imbalance:    0.85,
			HasImbalance: true,
		}
		last = e
		d.OnEnrichedTrade(e)
	}
	_ = last

	candidates := d.Candidates()
	if len(candidates) == 0 {
		t.Fatal("expected at least one exhaustion candidate for a depleting ask side")
	}
	for _, c := range candidates {
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("confidence out of bounds: %f", c.Confidence)
		}
	}
}

func TestExhaustionCircuitBreakerOpensOnErrors(t *testing.T) {
	cfg := defaultExhaustionConfig(t)
	cfg.CircuitBreakerMaxErr = 3
	d := NewExhaustionDetector("exhaustion", cfg)
	if d.Status().CircuitOpen {
		t.Error("fresh detector should not start with circuit open")
	}

	now := time.Now()
	for i := 0; i < cfg.CircuitBreakerMaxErr; i++ {
		d.breaker.recordError(now)
	}

	// The breaker only surfaces into Status().CircuitOpen on the next
	// OnEnrichedTrade call, which checks breaker.allow before doing any
	// work.
	center := mustP(t, "100.00")
	snap := preprocess.ZoneSnapshot{CenterPrice: center, LastUpdate: now}
	d.OnEnrichedTrade(preprocess.EnrichedTrade{
		Trade:    preprocess.AggTrade{Price: center, Quantity: mustQ(t, "1"), Timestamp: now},
		ZoneData: preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
	})

	if !d.Status().CircuitOpen {
		t.Error("expected circuit to be open after CircuitBreakerMaxErr errors within the window")
	}
}
