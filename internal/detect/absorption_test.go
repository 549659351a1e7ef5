package detect

import (
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

func mustP(t *testing.T, s string) fxmath.Price {
	t.Helper()
	p, ok := fxmath.NewPrice(s)
	if !ok {
		t.Fatalf("invalid price %q", s)
	}
	return p
}

func mustQ(t *testing.T, s string) fxmath.Quantity {
	t.Helper()
	q, ok := fxmath.NewQuantity(s)
	if !ok {
		t.Fatalf("invalid quantity %q", s)
	}
	return q
}

func defaultAbsorptionConfig(t *testing.T) AbsorptionConfig {
	t.Helper()
	return AbsorptionConfig{
		MinAggVolume:             mustQ(t, "100"),
		MinRatio:                 0.05,
		MaxRatio:                 5.0,
		DepletionFraction:        0.1,
		RefillFraction:           0.1,
		MinRefillEvents:          1,
		PriceEfficiencyThreshold: 0.5,
		ExpectedMovementScaling:  1.0,
		DominanceThreshold:       0.7,
		Weights: AbsorptionWeights{
			Volume: 0.2, Ratio: 0.2, Refill: 0.2, Efficiency: 0.2, Spread: 0.2,
		},
		FinalConfidenceRequired: 0.3,
		EventCooldown:           5 * time.Second,
		HistoryWindow:           60 * time.Second,
		HistoryCapacity:         64,
		StaleAfter:              30 * time.Second,
		EnhancementMode:         EnhancementDisabled,
	}
}

// TestAskAbsorptionEmitsSellSignal exercises spec.md scenario A:
// sustained aggressive buying met by refilling passive ask liquidity
// should emit a sell-side absorption signal at the zone center.
func TestAskAbsorptionEmitsSellSignal(t *testing.T) {
	cfg := defaultAbsorptionConfig(t)
	d := NewAbsorptionDetector("absorption", cfg)

	center := mustP(t, "52000.00")
	base := time.Now()
	sizes := []string{"65", "70", "75", "80", "85", "90", "95", "100", "105"}

	for i, sz := range sizes {
		snap := preprocess.ZoneSnapshot{
			CenterPrice:          center,
			AggressiveBuyVolume:  mustQ(t, sz),
			AggressiveSellVolume: fxmath.ZeroQuantity(),
			PassiveVolume:        mustQ(t, passiveReading(i)),
			TradeCount:           i + 1,
			LastUpdate:           base.Add(time.Duration(i*5) * time.Second),
		}
		e := preprocess.EnrichedTrade{
			Trade: preprocess.AggTrade{
				Price:     center,
				Quantity:  mustQ(t, sz),
				Timestamp: snap.LastUpdate,
			},
			ZoneData: preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
		}
		d.OnEnrichedTrade(e)
	}

	candidates := d.Candidates()
	if len(candidates) == 0 {
		t.Fatal("expected at least one absorption candidate after refill episode")
	}
	c := candidates[len(candidates)-1]
	if c.Side != Sell {
		t.Errorf("expected sell side for ask absorption, got %s", c.Side)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		t.Errorf("confidence out of [0,1]: %f", c.Confidence)
	}
}

func passiveReading(i int) string {
	drops := []string{"4500", "4300", "4100", "4000"}
	refills := []string{"4500", "4600", "4700", "4800", "4900"}
	if i < len(drops) {
		return drops[i]
	}
	j := i - len(drops)
	if j < len(refills) {
		return refills[j]
	}
	return "5000"
}

// TestBalancedChopEmitsNoSignal exercises spec.md scenario C: roughly
// even buy/sell flow at stable passive volumes should never cross the
// dominance threshold and so never emit.
func TestBalancedChopEmitsNoSignal(t *testing.T) {
	cfg := defaultAbsorptionConfig(t)
	d := NewAbsorptionDetector("absorption", cfg)

	center := mustP(t, "50000.00")
	base := time.Now()
	for i := 0; i < 20; i++ {
		buy := mustQ(t, "30")
		sell := mustQ(t, "28")
		snap := preprocess.ZoneSnapshot{
			CenterPrice:          center,
			AggressiveBuyVolume:  buy,
			AggressiveSellVolume: sell,
			PassiveVolume:        mustQ(t, "1000"),
			TradeCount:           i + 1,
			LastUpdate:           base.Add(time.Duration(i) * time.Second),
		}
		e := preprocess.EnrichedTrade{
			Trade: preprocess.AggTrade{
				Price:     center,
				Quantity:  buy,
				Timestamp: snap.LastUpdate,
			},
			ZoneData: preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
		}
		d.OnEnrichedTrade(e)
	}
	if len(d.Candidates()) != 0 {
		t.Error("expected no absorption signals from balanced chop")
	}
}

func TestAbsorptionCooldownSuppressesRepeat(t *testing.T) {
	cfg := defaultAbsorptionConfig(t)
	cfg.FinalConfidenceRequired = 0.01
	d := NewAbsorptionDetector("absorption", cfg)

	center := mustP(t, "52000.00")
	base := time.Now()
	snap := preprocess.ZoneSnapshot{
		CenterPrice:          center,
		AggressiveBuyVolume:  mustQ(t, "200"),
		AggressiveSellVolume: fxmath.ZeroQuantity(),
		PassiveVolume:        mustQ(t, "500"),
		TradeCount:           5,
		LastUpdate:           base,
	}
	e := preprocess.EnrichedTrade{
		Trade:    preprocess.AggTrade{Price: center, Quantity: mustQ(t, "200"), Timestamp: base},
		ZoneData: preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
	}
	d.OnEnrichedTrade(e)
	first := len(d.Candidates())

	e.Trade.Timestamp = base.Add(time.Second)
	snap.LastUpdate = e.Trade.Timestamp
	e.ZoneData.Zones5Tick[0] = snap
	d.OnEnrichedTrade(e)
	second := len(d.Candidates())

	if first == 0 {
		t.Fatal("expected first trade to emit")
	}
	if second != 0 {
		t.Error("expected cooldown to suppress an immediate repeat signal")
	}
}

// TestInstitutionalVolumeFilterRequiresLargeTradeOrRatio exercises spec.md
// §4.4's institutional-volume filter: the boost applies only once the
// largest trade in the zone's window crosses the absolute threshold, or
// the zone's aggressive volume crosses the ratio threshold of the
// window's total volume — not merely because the feature is enabled.
func TestInstitutionalVolumeFilterRequiresLargeTradeOrRatio(t *testing.T) {
	cfg := defaultAbsorptionConfig(t)
	cfg.EnhancementMode = EnhancementProduction
	cfg.ConfluenceMinZones = 99 // keep the confluence boost from firing
	cfg.ConfluenceMaxDistance = mustP(t, "0.01")
	cfg.CrossTimeframeStdDevMax = 0.01 // keep the cross-timeframe boost from firing
	cfg.CrossTimeframeMeanMin = 0.99
	cfg.InstitutionalVolumeFeature = true
	cfg.InstitutionalVolumeThreshold = mustQ(t, "1000")
	cfg.InstitutionalVolumeRatioThreshold = 0.9
	cfg.InstitutionalBoost = 0.5
	cfg.FinalConfidenceRequired = 0.01

	center := mustP(t, "52000.00")
	base := time.Now()

	newTrade := func(qty string, at time.Time) preprocess.EnrichedTrade {
		snap := preprocess.ZoneSnapshot{
			CenterPrice:          center,
			AggressiveBuyVolume:  mustQ(t, "200"),
			AggressiveSellVolume: fxmath.ZeroQuantity(),
			PassiveVolume:        mustQ(t, "500"),
			TradeCount:           1,
			LastUpdate:           at,
		}
		return preprocess.EnrichedTrade{
			Trade:    preprocess.AggTrade{Price: center, Quantity: mustQ(t, qty), Timestamp: at},
			ZoneData: preprocess.StandardZoneData{Zones5Tick: []preprocess.ZoneSnapshot{snap}},
		}
	}

	// Small trades, zone aggressive volume well under the ratio threshold
	// of the window total (200 / 700 ≈ 0.29 < 0.9): neither condition
	// should be met, so the boost must not apply.
	d := NewAbsorptionDetector("absorption", cfg)
	d.OnEnrichedTrade(newTrade("10", base))
	boosted := false
	for _, c := range d.Candidates() {
		if c.Confidence >= cfg.InstitutionalBoost {
			boosted = true
		}
	}
	if boosted {
		t.Error("expected no institutional boost when neither the absolute nor ratio condition is met")
	}

	// A single large trade crosses InstitutionalVolumeThreshold: the
	// absolute condition is met, so the boost should apply and the zone
	// should still emit (same zone, after cooldown).
	d2 := NewAbsorptionDetector("absorption", cfg)
	d2.OnEnrichedTrade(newTrade("10", base))
	d2.OnEnrichedTrade(newTrade("1500", base.Add(cfg.EventCooldown+time.Second)))
	found := false
	for _, c := range d2.Candidates() {
		if c.Confidence >= cfg.InstitutionalBoost {
			found = true
		}
	}
	if !found {
		t.Error("expected institutional boost once a trade exceeds the absolute volume threshold")
	}
}
