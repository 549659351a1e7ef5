package detect

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
	"github.com/orderflowlabs/flowengine/internal/rolling"
)

// EnhancementMode gates the zone-aware checks in AbsorptionDetector and
// the accumulation/distribution detectors, per the external-interfaces
// "enhancement mode" tunable.
type EnhancementMode string

const (
	EnhancementDisabled   EnhancementMode = "disabled"
	EnhancementTesting    EnhancementMode = "testing"
	EnhancementProduction EnhancementMode = "production"
)

// AbsorptionWeights must sum to ~1.0; AbsorptionConfig.Validate checks
// every other field but deliberately leaves weight-sum correction to
// runtime renormalization with a logged warning, per spec §4.4.
type AbsorptionWeights struct {
	Volume     float64
	Ratio      float64
	Refill     float64
	Efficiency float64
	Spread     float64
}

// AbsorptionConfig fully specifies AbsorptionDetector. Every field is
// required; there is no silent default.
type AbsorptionConfig struct {
	MinAggVolume fxmath.Quantity
	MinRatio     float64
	MaxRatio     float64

	DepletionFraction float64
	RefillFraction    float64
	MinRefillEvents   int

	PriceEfficiencyThreshold float64
	ExpectedMovementScaling  float64

	SpreadImpactFeature   bool
	SpreadImpactThreshold fxmath.Price

	DominanceThreshold      float64
	Weights                 AbsorptionWeights
	FinalConfidenceRequired float64
	EventCooldown           time.Duration

	// HistoryWindow bounds how far back passive/price history is kept
	// per zone, mirroring the preprocessor's own T.
	HistoryWindow    time.Duration
	HistoryCapacity  int
	StaleAfter       time.Duration

	EnhancementMode          EnhancementMode
	ConfluenceMaxDistance    fxmath.Price
	ConfluenceMinZones       int
	ConfluenceBoost          float64
	CrossTimeframeStdDevMax  float64
	CrossTimeframeMeanMin    float64
	CrossTimeframeBoost      float64

	InstitutionalVolumeFeature        bool
	InstitutionalVolumeThreshold      fxmath.Quantity
	InstitutionalVolumeRatioThreshold float64
	InstitutionalBoost                float64
}

// Validate reports the first configuration error, or nil.
func (c AbsorptionConfig) Validate() error {
	switch {
	case c.MinAggVolume.IsZero():
		return fmt.Errorf("absorption: min_agg_volume must be positive")
	case c.MinRatio <= 0 || c.MaxRatio <= c.MinRatio:
		return fmt.Errorf("absorption: min_ratio/max_ratio misconfigured")
	case c.DepletionFraction <= 0 || c.DepletionFraction > 1:
		return fmt.Errorf("absorption: depletion_fraction must be in (0,1]")
	case c.RefillFraction <= 0 || c.RefillFraction > 1:
		return fmt.Errorf("absorption: refill_fraction must be in (0,1]")
	case c.MinRefillEvents <= 0:
		return fmt.Errorf("absorption: min_refill_events must be positive")
	case c.PriceEfficiencyThreshold <= 0:
		return fmt.Errorf("absorption: price_efficiency_threshold must be positive")
	case c.ExpectedMovementScaling <= 0:
		return fmt.Errorf("absorption: expected_movement_scaling must be positive")
	case c.DominanceThreshold <= 0.5 || c.DominanceThreshold > 1:
		return fmt.Errorf("absorption: dominance_threshold must be in (0.5,1]")
	case c.FinalConfidenceRequired <= 0 || c.FinalConfidenceRequired > 1:
		return fmt.Errorf("absorption: final_confidence_required must be in (0,1]")
	case c.EventCooldown <= 0:
		return fmt.Errorf("absorption: event_cooldown_ms must be positive")
	case c.HistoryWindow <= 0:
		return fmt.Errorf("absorption: history_window must be positive")
	case c.HistoryCapacity <= 0:
		return fmt.Errorf("absorption: history_capacity must be positive")
	case c.StaleAfter <= 0:
		return fmt.Errorf("absorption: stale_after must be positive")
	}
	if c.SpreadImpactFeature && c.SpreadImpactThreshold.IsZero() {
		return fmt.Errorf("absorption: spread_impact_threshold required when spread_impact feature is enabled")
	}
	if c.EnhancementMode != EnhancementDisabled {
		switch {
		case c.ConfluenceMinZones <= 0:
			return fmt.Errorf("absorption: confluence_min_zones must be positive in enhanced mode")
		case c.ConfluenceMaxDistance.IsZero():
			return fmt.Errorf("absorption: confluence_max_distance must be positive in enhanced mode")
		case c.CrossTimeframeStdDevMax <= 0:
			return fmt.Errorf("absorption: cross_timeframe_stddev_max must be positive in enhanced mode")
		case c.CrossTimeframeMeanMin <= 0:
			return fmt.Errorf("absorption: cross_timeframe_mean_min must be positive in enhanced mode")
		}
	}
	if c.InstitutionalVolumeFeature {
		if c.InstitutionalVolumeThreshold.IsZero() && c.InstitutionalVolumeRatioThreshold <= 0 {
			return fmt.Errorf("absorption: institutional volume feature requires a threshold")
		}
	}
	return nil
}

type passiveSample struct{ value float64 }

// absorptionZone is per-zone, per-side state: a rolling history of
// passive-volume readings (for refill-episode detection) and trade
// prices (for price-efficiency), plus the zone's Idle/Observed/Signal
// phase.
type absorptionZone struct {
	center           fxmath.Price
	passiveHistory   *rolling.Window[passiveSample]
	priceHistory     *rolling.Window[fxmath.Price]
	tradeSizeHistory *rolling.Window[fxmath.Quantity]
	state            absorptionZoneState
}

// AbsorptionDetector detects reversal setups where aggressive flow
// into one side meets sustained passive replenishment. Grounded on
// internal/signals/processor.go's per-tick scoring loop, generalized
// from a single running metric to a weighted multi-component score.
type AbsorptionDetector struct {
	id     string
	cfg    AbsorptionConfig
	zones  map[string]*absorptionZone
	thresh *adaptiveThresholds

	candidates []SignalCandidate
	updates    []ZoneUpdate

	breaker *circuitBreaker
	status  Status
	nextID  uint64
}

// NewAbsorptionDetector constructs a detector bound to id; cfg must
// already have passed Validate().
func NewAbsorptionDetector(id string, cfg AbsorptionConfig) *AbsorptionDetector {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &AbsorptionDetector{
		id:      id,
		cfg:     cfg,
		zones:   make(map[string]*absorptionZone),
		thresh:  newAdaptiveThresholds(256),
		breaker: newCircuitBreaker(30*time.Second, 10),
	}
}

func (d *AbsorptionDetector) ID() string         { return d.id }
func (d *AbsorptionDetector) Status() Status     { return d.status }

func (d *AbsorptionDetector) Candidates() []SignalCandidate {
	out := d.candidates
	d.candidates = nil
	return out
}

func (d *AbsorptionDetector) ZoneUpdates() []ZoneUpdate {
	out := d.updates
	d.updates = nil
	return out
}

func (d *AbsorptionDetector) zoneAt(center fxmath.Price) *absorptionZone {
	key := center.String()
	z, ok := d.zones[key]
	if ok {
		return z
	}
	z = &absorptionZone{
		center:           center,
		passiveHistory:   rolling.New[passiveSample](d.cfg.HistoryCapacity, d.cfg.HistoryWindow),
		priceHistory:     rolling.New[fxmath.Price](d.cfg.HistoryCapacity, d.cfg.HistoryWindow),
		tradeSizeHistory: rolling.New[fxmath.Quantity](d.cfg.HistoryCapacity, d.cfg.HistoryWindow),
	}
	d.zones[key] = z
	return z
}

// OnEnrichedTrade implements Detector. It never panics outward: any
// computation that would fail is treated as insufficient data and
// simply skips emission for this trade, recording a circuit-breaker
// error instead.
func (d *AbsorptionDetector) OnEnrichedTrade(e preprocess.EnrichedTrade) {
	now := e.Trade.Timestamp
	d.status.SamplesObserved++

	if !d.breaker.allow(now) {
		d.status.CircuitOpen = true
		return
	}
	d.status.CircuitOpen = false

	defer func() {
		if r := recover(); r != nil {
			d.breaker.recordError(now)
			d.status.ErrorCount++
			log.Printf("absorption[%s]: recovered from detector error: %v", d.id, r)
		}
	}()

	for _, snap := range e.ZoneData.AllZones() {
		d.evaluateZone(e, snap, now)
	}
}

func (d *AbsorptionDetector) evaluateZone(e preprocess.EnrichedTrade, snap preprocess.ZoneSnapshot, now time.Time) {
	zs := d.zoneAt(snap.CenterPrice)
	zs.state.observe()
	zs.state.recoverIfCooldownElapsed(now, d.cfg.EventCooldown)
	zs.tradeSizeHistory.Add(now, e.Trade.Quantity)

	buy, sell := snap.AggressiveBuyVolume, snap.AggressiveSellVolume
	total := buy.Add(sell)
	if total.IsZero() {
		return
	}
	buyRatio := buy.ToFloat() / total.ToFloat()

	var side Side
	var absorbedPassive fxmath.Quantity
	switch {
	case buyRatio >= d.cfg.DominanceThreshold:
		side = Sell // ask absorption: buyers absorbed ⇒ sell
		absorbedPassive = snap.PassiveVolume
	case (1 - buyRatio) >= d.cfg.DominanceThreshold:
		side = Buy // bid absorption: sellers absorbed ⇒ buy
		absorbedPassive = snap.PassiveVolume
	default:
		return // no clear dominance, no signal
	}

	zs.passiveHistory.Add(now, passiveSample{value: absorbedPassive.ToFloat()})
	zs.priceHistory.Add(now, e.Trade.Price)

	quality := qualityFor(snap.TradeCount, snap.LastUpdate, now, d.cfg.StaleAfter)

	volumeScore := clamp01(total.ToFloat() / d.cfg.MinAggVolume.ToFloat())

	ratio := total.ToFloat() / math.Max(absorbedPassive.ToFloat(), 1e-9)
	d.thresh.observe(ratio)
	ratioScore := 0.0
	if ratio >= d.cfg.MinRatio && ratio <= d.cfg.MaxRatio {
		ratioScore = 1.0
	}

	refillEvents := countRefillEpisodes(zs.passiveHistory.Values(), d.cfg.DepletionFraction, d.cfg.RefillFraction)
	refillScore := 0.0
	if refillEvents >= d.cfg.MinRefillEvents {
		refillScore = clamp01(float64(refillEvents) / float64(d.cfg.MinRefillEvents*2))
	}

	efficiencyScore := 0.0
	if prices := zs.priceHistory.Values(); len(prices) >= 2 {
		change := prices[len(prices)-1].Sub(prices[0]).Abs().ToFloat()
		efficiency := change / (total.ToFloat() * d.cfg.ExpectedMovementScaling)
		if efficiency <= d.cfg.PriceEfficiencyThreshold {
			efficiencyScore = 1.0 - clamp01(efficiency/d.cfg.PriceEfficiencyThreshold)
		}
	}

	spreadScore := 1.0
	if d.cfg.SpreadImpactFeature && e.HasSpread {
		if e.Spread.GreaterThan(d.cfg.SpreadImpactThreshold) {
			spreadScore = 0.0
		}
	}

	weights, ok := renormalize([]float64{
		d.cfg.Weights.Volume, d.cfg.Weights.Ratio, d.cfg.Weights.Refill,
		d.cfg.Weights.Efficiency, d.cfg.Weights.Spread,
	})
	if !ok {
		log.Printf("absorption[%s]: scoring weights did not sum to 1.0, renormalized", d.id)
	}

	score := weights[0]*volumeScore + weights[1]*ratioScore + weights[2]*refillScore +
		weights[3]*efficiencyScore + weights[4]*spreadScore
	score = clamp01(score) * float64(quality)

	if d.cfg.EnhancementMode != EnhancementDisabled {
		score = d.applyEnhancements(e, snap, zs, score)
	}

	if score < d.cfg.FinalConfidenceRequired {
		return
	}
	if !zs.state.readyToEmit(now, d.cfg.EventCooldown) {
		return
	}

	d.nextID++
	d.candidates = append(d.candidates, SignalCandidate{
		ID:         fmt.Sprintf("%s-%d", d.id, d.nextID),
		DetectorID: d.id,
		Type:       SignalAbsorption,
		Side:       side,
		Price:      snap.CenterPrice,
		Timestamp:  now,
		Confidence: score,
		Payload: map[string]any{
			"ratio":          ratio,
			"refill_events":  refillEvents,
			"buy_ratio":      buyRatio,
		},
	})
	zs.state.markSignaled(now)
	d.status.LastSignalAt = now
}

// applyEnhancements implements the zone-aware checks: confluence
// across tick widths, cross-timeframe alignment, and the optional
// institutional-volume filter.
func (d *AbsorptionDetector) applyEnhancements(e preprocess.EnrichedTrade, snap preprocess.ZoneSnapshot, zs *absorptionZone, score float64) float64 {
	near := e.ZoneData.ZonesNear(snap.CenterPrice, d.cfg.ConfluenceMaxDistance)
	if len(near) >= d.cfg.ConfluenceMinZones {
		score = clamp01(score + d.cfg.ConfluenceBoost)
	}

	perWidth := e.ZoneData.PerWidth()
	var dominances []float64
	for _, zones := range perWidth {
		for _, z := range zones {
			t := z.AggressiveBuyVolume.Add(z.AggressiveSellVolume)
			if t.IsZero() {
				continue
			}
			dominances = append(dominances, z.AggressiveBuyVolume.ToFloat()/t.ToFloat())
		}
	}
	if mean, ok := meanOf(dominances); ok {
		if sd, ok := stdDevOf(dominances); ok {
			if sd <= d.cfg.CrossTimeframeStdDevMax && mean >= d.cfg.CrossTimeframeMeanMin {
				score = clamp01(score + d.cfg.CrossTimeframeBoost)
			}
		}
	}

	if d.cfg.InstitutionalVolumeFeature {
		largestTrade, _ := maxQuantity(zs.tradeSizeHistory.Values())
		meetsAbsolute := !d.cfg.InstitutionalVolumeThreshold.IsZero() && largestTrade.GreaterThan(d.cfg.InstitutionalVolumeThreshold)

		zoneAggressive := snap.AggressiveBuyVolume.Add(snap.AggressiveSellVolume)
		windowTotal := zoneAggressive.Add(snap.PassiveVolume)
		meetsRatio := false
		if d.cfg.InstitutionalVolumeRatioThreshold > 0 && !windowTotal.IsZero() {
			meetsRatio = (zoneAggressive.ToFloat() / windowTotal.ToFloat()) >= d.cfg.InstitutionalVolumeRatioThreshold
		}

		if !meetsAbsolute && !meetsRatio {
			return score
		}
		score = clamp01(score + d.cfg.InstitutionalBoost)
	}
	return score
}

// maxQuantity returns the largest value in qs, or the zero quantity and
// false if qs is empty.
func maxQuantity(qs []fxmath.Quantity) (fxmath.Quantity, bool) {
	if len(qs) == 0 {
		return fxmath.ZeroQuantity(), false
	}
	largest := qs[0]
	for _, q := range qs[1:] {
		if q.GreaterThan(largest) {
			largest = q
		}
	}
	return largest, true
}

// countRefillEpisodes counts the number of times the passive series
// drops by at least depletionFraction from a local peak and then
// recovers by at least refillFraction of that drop, per spec §4.4.
func countRefillEpisodes(samples []passiveSample, depletionFraction, refillFraction float64) int {
	if len(samples) < 3 {
		return 0
	}
	episodes := 0
	peak := samples[0].value
	troughed := false
	trough := peak
	for _, s := range samples[1:] {
		v := s.value
		if v > peak {
			peak = v
			troughed = false
			continue
		}
		drop := 0.0
		if peak > 0 {
			drop = (peak - v) / peak
		}
		if drop >= depletionFraction {
			if !troughed || v < trough {
				trough = v
				troughed = true
			}
			continue
		}
		if troughed && trough > 0 {
			recovered := (v - trough) / math.Max(peak-trough, 1e-9)
			if recovered >= refillFraction {
				episodes++
				troughed = false
				peak = v
			}
		}
	}
	return episodes
}
