package coordinate

import (
	"context"
	"testing"
	"time"

	"github.com/orderflowlabs/flowengine/internal/detect"
)

func defaultManagerConfig() DefaultManagerConfig {
	return DefaultManagerConfig{PriceTolerancePct: 0.02, TimeWindow: 30 * time.Second}
}

func TestDefaultManagerDeduplicatesWithinTolerance(t *testing.T) {
	m := NewDefaultManager(defaultManagerConfig())
	now := time.Now()
	cand := detect.SignalCandidate{
		ID: "a-1", Type: detect.SignalAbsorption, Side: detect.Sell,
		Price: mustPrice(t, "52000.00"), Confidence: 0.7, Timestamp: now,
	}
	_, produced, err := m.Handle(context.Background(), cand)
	if err != nil || !produced {
		t.Fatalf("expected first candidate to be confirmed, produced=%v err=%v", produced, err)
	}

	dup := cand
	dup.ID = "a-2"
	dup.Timestamp = now.Add(time.Second)
	dup.Price = mustPrice(t, "52000.01")
	_, produced, err = m.Handle(context.Background(), dup)
	if err != nil {
		t.Fatal(err)
	}
	if produced {
		t.Error("expected near-identical candidate within tolerance/time-window to be deduplicated")
	}
}

func TestDefaultManagerCorrelatesAcrossTypes(t *testing.T) {
	m := NewDefaultManager(defaultManagerConfig())
	now := time.Now()

	accum := detect.SignalCandidate{
		ID: "acc-1", Type: detect.SignalAccumulation, Side: detect.Buy,
		Price: mustPrice(t, "85.00"), Confidence: 0.6, Timestamp: now,
	}
	if _, produced, err := m.Handle(context.Background(), accum); err != nil || !produced {
		t.Fatalf("expected accumulation candidate confirmed, produced=%v err=%v", produced, err)
	}

	absorb := detect.SignalCandidate{
		ID: "abs-1", Type: detect.SignalAbsorption, Side: detect.Buy,
		Price: mustPrice(t, "90.00"), Confidence: 0.6, Timestamp: now.Add(time.Second),
	}
	confirmed, produced, err := m.Handle(context.Background(), absorb)
	if err != nil || !produced {
		t.Fatalf("expected absorption candidate confirmed, produced=%v err=%v", produced, err)
	}
	if len(confirmed.CorrelatedWith) == 0 {
		t.Error("expected absorption to correlate with the prior accumulation candidate")
	}
	if confirmed.Confidence <= absorb.Confidence {
		t.Error("expected correlation to boost confidence above the raw candidate confidence")
	}
}

func TestDefaultManagerEvictsOldHistory(t *testing.T) {
	cfg := defaultManagerConfig()
	cfg.TimeWindow = time.Second
	m := NewDefaultManager(cfg)
	now := time.Now()

	cand := detect.SignalCandidate{
		ID: "a-1", Type: detect.SignalAbsorption, Side: detect.Sell,
		Price: mustPrice(t, "100.00"), Confidence: 0.5, Timestamp: now,
	}
	m.Handle(context.Background(), cand)

	later := cand
	later.ID = "a-2"
	later.Timestamp = now.Add(5 * time.Second)
	_, produced, err := m.Handle(context.Background(), later)
	if err != nil {
		t.Fatal(err)
	}
	if !produced {
		t.Error("expected a candidate outside the time window to not be deduplicated")
	}
}
