package detect

import (
	"fmt"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

// Polarity distinguishes accumulation (bullish, buy-side bias) from
// distribution (bearish, sell-side bias) — the two detectors are
// mirror images of the same confluence/pressure/alignment pipeline,
// per spec §4.6.
type Polarity int

const (
	Accumulation Polarity = iota
	Distribution
)

func (p Polarity) signalType() SignalType {
	if p == Accumulation {
		return SignalAccumulation
	}
	return SignalDistribution
}

func (p Polarity) side() Side {
	if p == Accumulation {
		return Buy
	}
	return Sell
}

// ZoneConfig fully specifies an AccumulationZoneDetector or
// DistributionZoneDetector instance.
type ZoneConfig struct {
	ConfluenceMaxDistance fxmath.Price
	ConfluenceMinZones    int
	ConfluenceBoost       float64

	RatioThreshold    float64
	VolumeThreshold   fxmath.Quantity

	AlignmentBaseline       float64
	AlignmentScoreThreshold float64

	BaseConfidence              float64
	MinConfidenceBoostThreshold float64
	CompletionBoostThreshold    float64

	CompletedConfidence  float64
	InvalidatedConfidence float64

	EventCooldown time.Duration
}

func (c ZoneConfig) Validate() error {
	switch {
	case c.ConfluenceMaxDistance.IsZero():
		return fmt.Errorf("zone detector: confluence_max_distance must be positive")
	case c.ConfluenceMinZones <= 0:
		return fmt.Errorf("zone detector: confluence_min_zones must be positive")
	case c.RatioThreshold <= 0.5 || c.RatioThreshold > 1:
		return fmt.Errorf("zone detector: ratio_threshold must be in (0.5,1]")
	case c.VolumeThreshold.IsZero():
		return fmt.Errorf("zone detector: volume_threshold must be positive")
	case c.AlignmentBaseline <= 0:
		return fmt.Errorf("zone detector: alignment_baseline must be positive")
	case c.AlignmentScoreThreshold <= 0:
		return fmt.Errorf("zone detector: alignment_score_threshold must be positive")
	case c.BaseConfidence <= 0 || c.BaseConfidence > 1:
		return fmt.Errorf("zone detector: base_confidence must be in (0,1]")
	case c.MinConfidenceBoostThreshold <= 0:
		return fmt.Errorf("zone detector: min_confidence_boost_threshold must be positive")
	case c.CompletionBoostThreshold <= 0:
		return fmt.Errorf("zone detector: completion_boost_threshold must be positive")
	case c.CompletedConfidence <= 0 || c.CompletedConfidence > 1:
		return fmt.Errorf("zone detector: completed_confidence must be in (0,1]")
	case c.InvalidatedConfidence < 0 || c.InvalidatedConfidence >= c.CompletedConfidence:
		return fmt.Errorf("zone detector: invalidated_confidence must be below completed_confidence")
	case c.EventCooldown <= 0:
		return fmt.Errorf("zone detector: event_cooldown_ms must be positive")
	}
	return nil
}

// ZoneDetector implements both AccumulationZoneDetector and
// DistributionZoneDetector from spec §4.6 — the same pipeline mirrored
// by Polarity. Grounded on internal/signals/processor.go's multi-stage
// per-tick analysis (confluence → pressure → alignment → confidence).
type ZoneDetector struct {
	id       string
	polarity Polarity
	cfg      ZoneConfig

	lifecycles map[string]*zoneLifecycle
	lastSignal map[string]time.Time

	candidates []SignalCandidate
	updates    []ZoneUpdate
	status     Status
	nextID     uint64
}

func NewZoneDetector(id string, polarity Polarity, cfg ZoneConfig) *ZoneDetector {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &ZoneDetector{
		id:         id,
		polarity:   polarity,
		cfg:        cfg,
		lifecycles: make(map[string]*zoneLifecycle),
		lastSignal: make(map[string]time.Time),
	}
}

func (d *ZoneDetector) ID() string     { return d.id }
func (d *ZoneDetector) Status() Status { return d.status }

func (d *ZoneDetector) Candidates() []SignalCandidate {
	out := d.candidates
	d.candidates = nil
	return out
}

func (d *ZoneDetector) ZoneUpdates() []ZoneUpdate {
	out := d.updates
	d.updates = nil
	return out
}

func (d *ZoneDetector) OnEnrichedTrade(e preprocess.EnrichedTrade) {
	now := e.Trade.Timestamp
	d.status.SamplesObserved++

	price := e.Trade.Price
	near := e.ZoneData.ZonesNear(price, d.cfg.ConfluenceMaxDistance)
	if len(near) == 0 {
		return
	}

	confluenceBoost := 0.0
	if len(near) >= d.cfg.ConfluenceMinZones {
		confluenceBoost = d.cfg.ConfluenceBoost
	}

	totalAggressive, biasVolume := fxmath.ZeroQuantity(), fxmath.ZeroQuantity()
	for _, z := range near {
		t := z.AggressiveBuyVolume.Add(z.AggressiveSellVolume)
		totalAggressive = totalAggressive.Add(t)
		if d.polarity == Accumulation {
			biasVolume = biasVolume.Add(z.AggressiveBuyVolume)
		} else {
			biasVolume = biasVolume.Add(z.AggressiveSellVolume)
		}
	}
	if totalAggressive.IsZero() {
		return
	}
	biasRatio := biasVolume.ToFloat() / totalAggressive.ToFloat()
	if biasRatio < d.cfg.RatioThreshold || totalAggressive.LessThan(d.cfg.VolumeThreshold) {
		return
	}

	alignment, aligned := d.crossTimeframeAlignment(e.ZoneData)

	confidence := d.cfg.BaseConfidence + confluenceBoost
	if aligned && alignment >= d.cfg.AlignmentScoreThreshold {
		confidence += alignment - d.cfg.AlignmentScoreThreshold
	}
	confidence = clamp01(confidence)
	boost := confidence - d.cfg.BaseConfidence

	key := price.String()
	lc, ok := d.lifecycles[key]
	if !ok {
		lc = &zoneLifecycle{}
		d.lifecycles[key] = lc
	}
	updateType, changed := lc.advance(confidence, d.cfg.CompletedConfidence, d.cfg.InvalidatedConfidence)
	if boost > d.cfg.MinConfidenceBoostThreshold || changed {
		d.updates = append(d.updates, ZoneUpdate{
			DetectorID:   d.id,
			UpdateType:   updateType,
			Zone:         price,
			Significance: confidence,
			Timestamp:    now,
		})
	}

	completionThreshold := d.cfg.RatioThreshold * 1.2
	if biasRatio < completionThreshold || boost <= d.cfg.CompletionBoostThreshold {
		return
	}
	if last, ok := d.lastSignal[key]; ok && now.Sub(last) < d.cfg.EventCooldown {
		return
	}

	d.nextID++
	d.candidates = append(d.candidates, SignalCandidate{
		ID:         fmt.Sprintf("%s-%d", d.id, d.nextID),
		DetectorID: d.id,
		Type:       d.polarity.signalType(),
		Side:       d.polarity.side(),
		Price:      price,
		Timestamp:  now,
		Confidence: confidence,
		Payload: map[string]any{
			"bias_ratio":      biasRatio,
			"confluence_zones": len(near),
			"alignment":       alignment,
		},
	})
	d.lastSignal[key] = now
	d.status.LastSignalAt = now
}

// crossTimeframeAlignment computes per-width bias strength (mean of
// zone bias-ratios after a penalty for ratios below AlignmentBaseline)
// and combines them as mean · max(0, 1 − normalized_variance), per
// spec §4.6 step 3.
func (d *ZoneDetector) crossTimeframeAlignment(zd preprocess.StandardZoneData) (float64, bool) {
	var perWidth []float64
	for _, zones := range zd.PerWidth() {
		if len(zones) == 0 {
			continue
		}
		sum := 0.0
		for _, z := range zones {
			t := z.AggressiveBuyVolume.Add(z.AggressiveSellVolume)
			if t.IsZero() {
				continue
			}
			var ratio float64
			if d.polarity == Accumulation {
				ratio = z.AggressiveBuyVolume.ToFloat() / t.ToFloat()
			} else {
				ratio = z.AggressiveSellVolume.ToFloat() / t.ToFloat()
			}
			if ratio < d.cfg.AlignmentBaseline {
				ratio *= 0.5
			}
			sum += ratio
		}
		perWidth = append(perWidth, sum/float64(len(zones)))
	}
	mean, ok := meanOf(perWidth)
	if !ok {
		return 0, false
	}
	sd, ok := stdDevOf(perWidth)
	if !ok {
		return mean, true
	}
	normalizedVariance := sd
	if mean > 0 {
		normalizedVariance = sd / mean
	}
	factor := 1 - normalizedVariance
	if factor < 0 {
		factor = 0
	}
	return mean * factor, true
}
