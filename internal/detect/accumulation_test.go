package detect

import (
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

func defaultZoneConfig(t *testing.T) ZoneConfig {
	t.Helper()
	return ZoneConfig{
		ConfluenceMaxDistance:       mustP(t, "1.00"),
		ConfluenceMinZones:          2,
		ConfluenceBoost:             0.1,
		RatioThreshold:              0.7,
		VolumeThreshold:             mustQ(t, "100"),
		AlignmentBaseline:           0.5,
		AlignmentScoreThreshold:     0.3,
		BaseConfidence:              0.4,
		MinConfidenceBoostThreshold: 0.01,
		CompletionBoostThreshold:    0.05,
		CompletedConfidence:         0.9,
		InvalidatedConfidence:       0.1,
		EventCooldown:               5 * time.Second,
	}
}

// TestAccumulationConfluenceEmitsBuySignal exercises spec.md scenario
// D: three zone widths with a high buy ratio and enough volume should
// emit a buy-side accumulation signal once the completion thresholds
// are crossed.
func TestAccumulationConfluenceEmitsBuySignal(t *testing.T) {
	cfg := defaultZoneConfig(t)
	d := NewZoneDetector("accumulation", Accumulation, cfg)

	center := mustP(t, "85.00")
	now := time.Now()
	makeSnap := func() preprocess.ZoneSnapshot {
		return preprocess.ZoneSnapshot{
			CenterPrice:          center,
			AggressiveBuyVolume:  mustQ(t, "90"),
			AggressiveSellVolume: mustQ(t, "10"),
			LastUpdate:           now,
		}
	}
	zd := preprocess.StandardZoneData{
		Zones5Tick:  []preprocess.ZoneSnapshot{makeSnap(), makeSnap()},
		Zones10Tick: []preprocess.ZoneSnapshot{makeSnap()},
		Zones20Tick: []preprocess.ZoneSnapshot{makeSnap()},
	}
	e := preprocess.EnrichedTrade{
		Trade:    preprocess.AggTrade{Price: center, Quantity: mustQ(t, "90"), Timestamp: now},
		ZoneData: zd,
	}

	for i := 0; i < 3; i++ {
		e.Trade.Timestamp = now.Add(time.Duration(i) * time.Second)
		d.OnEnrichedTrade(e)
	}

	candidates := d.Candidates()
	if len(candidates) == 0 {
		t.Fatal("expected an accumulation signal from sustained confluent buying")
	}
	for _, c := range candidates {
		if c.Side != Buy {
			t.Errorf("expected buy side for accumulation, got %s", c.Side)
		}
		if c.Type != SignalAccumulation {
			t.Errorf("expected accumulation signal type, got %s", c.Type)
		}
	}
}

func TestDistributionUsesSellSide(t *testing.T) {
	cfg := defaultZoneConfig(t)
	d := NewZoneDetector("distribution", Distribution, cfg)
	if d.polarity.side() != Sell {
		t.Error("distribution detector must use sell side")
	}
	if d.polarity.signalType() != SignalDistribution {
		t.Error("distribution detector must emit distribution signal type")
	}
}

func TestZoneDetectorNoConfluenceNoSignal(t *testing.T) {
	cfg := defaultZoneConfig(t)
	d := NewZoneDetector("accumulation", Accumulation, cfg)
	e := preprocess.EnrichedTrade{
		Trade:    preprocess.AggTrade{Price: mustP(t, "85.00"), Quantity: mustQ(t, "1"), Timestamp: time.Now()},
		ZoneData: preprocess.StandardZoneData{},
	}
	d.OnEnrichedTrade(e)
	if len(d.Candidates()) != 0 {
		t.Error("expected no signal with no zone data present")
	}
	_ = fxmath.ZeroQuantity()
}
