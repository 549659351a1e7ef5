package detect

import (
	"fmt"
	"log"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
	"github.com/orderflowlabs/flowengine/internal/rolling"
)

// ExhaustionWeights must sum to ~1.0; see AbsorptionWeights for the
// same renormalize-and-warn contract.
type ExhaustionWeights struct {
	Depletion     float64
	PassiveRatio  float64
	RefillGap     float64
	Imbalance     float64
	Spread        float64
	PassiveVelocity float64
}

// ExhaustionConfig fully specifies ExhaustionDetector.
type ExhaustionConfig struct {
	ImbalanceHighThreshold   float64
	ImbalanceMediumThreshold float64

	SpreadAdjustmentFeature bool
	SpreadHighThreshold     fxmath.Price
	SpreadMediumThreshold   fxmath.Price

	VolumeVelocityFeature bool

	Weights                 ExhaustionWeights
	FinalConfidenceRequired float64
	EventCooldown           time.Duration

	HistoryWindow   time.Duration
	HistoryCapacity int
	StaleAfter      time.Duration

	CircuitBreakerWindow time.Duration
	CircuitBreakerMaxErr int

	MaxZones int
}

func (c ExhaustionConfig) Validate() error {
	switch {
	case c.ImbalanceHighThreshold <= c.ImbalanceMediumThreshold:
		return fmt.Errorf("exhaustion: imbalance_high_threshold must exceed imbalance_medium_threshold")
	case c.ImbalanceMediumThreshold <= 0:
		return fmt.Errorf("exhaustion: imbalance_medium_threshold must be positive")
	case c.FinalConfidenceRequired <= 0 || c.FinalConfidenceRequired > 1:
		return fmt.Errorf("exhaustion: final_confidence_required must be in (0,1]")
	case c.EventCooldown <= 0:
		return fmt.Errorf("exhaustion: event_cooldown_ms must be positive")
	case c.HistoryWindow <= 0:
		return fmt.Errorf("exhaustion: history_window must be positive")
	case c.HistoryCapacity <= 0:
		return fmt.Errorf("exhaustion: history_capacity must be positive")
	case c.StaleAfter <= 0:
		return fmt.Errorf("exhaustion: stale_after must be positive")
	case c.CircuitBreakerWindow <= 0:
		return fmt.Errorf("exhaustion: circuit_breaker_window_ms must be positive")
	case c.CircuitBreakerMaxErr <= 0:
		return fmt.Errorf("exhaustion: circuit_breaker max_errors must be positive")
	case c.MaxZones <= 0:
		return fmt.Errorf("exhaustion: max_zones must be positive")
	}
	if c.SpreadAdjustmentFeature && (c.SpreadHighThreshold.IsZero() || c.SpreadMediumThreshold.IsZero()) {
		return fmt.Errorf("exhaustion: spread thresholds required when spread_adjustment feature is enabled")
	}
	return nil
}

type exhaustionZone struct {
	center         fxmath.Price
	passiveHistory *rolling.Window[passiveSample]
	lastUpdate     time.Time
	state          absorptionZoneState
}

// ExhaustionDetector detects depletion setups: one side of the book
// consumed faster than it refills. Grounded on
// internal/signals/quantitative.go's adaptive-quantile scoring.
type ExhaustionDetector struct {
	id    string
	cfg   ExhaustionConfig
	zones map[string]*exhaustionZone

	depletionThresh *adaptiveThresholds
	passiveThresh   *adaptiveThresholds

	candidates []SignalCandidate
	updates    []ZoneUpdate
	breaker    *circuitBreaker
	status     Status
	nextID     uint64
}

func NewExhaustionDetector(id string, cfg ExhaustionConfig) *ExhaustionDetector {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &ExhaustionDetector{
		id:              id,
		cfg:             cfg,
		zones:           make(map[string]*exhaustionZone),
		depletionThresh: newAdaptiveThresholds(256),
		passiveThresh:   newAdaptiveThresholds(256),
		breaker:         newCircuitBreaker(cfg.CircuitBreakerWindow, cfg.CircuitBreakerMaxErr),
	}
}

func (d *ExhaustionDetector) ID() string     { return d.id }
func (d *ExhaustionDetector) Status() Status { return d.status }

func (d *ExhaustionDetector) Candidates() []SignalCandidate {
	out := d.candidates
	d.candidates = nil
	return out
}

func (d *ExhaustionDetector) ZoneUpdates() []ZoneUpdate {
	out := d.updates
	d.updates = nil
	return out
}

func (d *ExhaustionDetector) zoneAt(center fxmath.Price) *exhaustionZone {
	key := center.String()
	z, ok := d.zones[key]
	if ok {
		return z
	}
	z = &exhaustionZone{
		center:         center,
		passiveHistory: rolling.New[passiveSample](d.cfg.HistoryCapacity, d.cfg.HistoryWindow),
	}
	d.zones[key] = z
	d.evictIfOverCapacity(key)
	return z
}

// evictIfOverCapacity enforces max_zones: once resident zones exceed it,
// it drops the least-recently-updated zone other than keep (the zone
// just created). The per-zone history capacity is not changed: every
// zone, old or new, keeps HistoryCapacity samples.
func (d *ExhaustionDetector) evictIfOverCapacity(keep string) {
	if len(d.zones) <= d.cfg.MaxZones {
		return
	}
	var oldestKey string
	var oldest time.Time
	first := true
	for k, z := range d.zones {
		if k == keep {
			continue
		}
		if first || z.lastUpdate.Before(oldest) {
			oldestKey, oldest, first = k, z.lastUpdate, false
		}
	}
	if oldestKey != "" {
		delete(d.zones, oldestKey)
	}
}

func (d *ExhaustionDetector) OnEnrichedTrade(e preprocess.EnrichedTrade) {
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
			log.Printf("exhaustion[%s]: recovered from detector error: %v", d.id, r)
		}
	}()

	for _, snap := range e.ZoneData.AllZones() {
		d.evaluateZone(e, snap, now)
	}
}

func (d *ExhaustionDetector) evaluateZone(e preprocess.EnrichedTrade, snap preprocess.ZoneSnapshot, now time.Time) {
	zs := d.zoneAt(snap.CenterPrice)
	previousUpdate := zs.lastUpdate
	zs.lastUpdate = now
	zs.state.observe()
	zs.state.recoverIfCooldownElapsed(now, d.cfg.EventCooldown)

	zs.passiveHistory.Add(now, passiveSample{value: snap.PassiveVolume.ToFloat()})
	history := zs.passiveHistory.Values()
	if len(history) < 2 {
		return
	}

	avgPassive, ok := meanPassive(history)
	if !ok || avgPassive <= 0 {
		return
	}
	currentPassive := history[len(history)-1].value
	firstPassive := history[0].value

	recentAggressive := snap.AggressiveBuyVolume.Add(snap.AggressiveSellVolume).ToFloat()
	depletionRatio := recentAggressive / avgPassive
	passiveRatio := currentPassive / avgPassive
	refillGap := currentPassive - firstPassive

	d.depletionThresh.observe(depletionRatio)
	d.passiveThresh.observe(-passiveRatio) // higher score for lower ratio

	depletionLevel := d.depletionThresh.classify(depletionRatio, 50, 75, 90)
	passiveDropLevel := d.passiveThresh.classify(-passiveRatio, 50, 75, 90)

	depletionScore := depletionLevel.score()
	passiveScore := passiveDropLevel.score()

	refillGapScore := 0.0
	if refillGap < 0 && avgPassive > 0 {
		refillGapScore = clamp01(-refillGap / avgPassive)
	}

	imbalanceScore := 0.0
	if e.HasImbalance {
		abs := e.Imbalance
		if abs < 0 {
			abs = -abs
		}
		switch {
		case abs >= d.cfg.ImbalanceHighThreshold:
			imbalanceScore = 1.0
		case abs >= d.cfg.ImbalanceMediumThreshold:
			imbalanceScore = 0.5
		}
	}

	spreadScore := 0.0
	if d.cfg.SpreadAdjustmentFeature && e.HasSpread {
		switch {
		case e.Spread.GreaterThan(d.cfg.SpreadHighThreshold):
			spreadScore = 1.0
		case e.Spread.GreaterThan(d.cfg.SpreadMediumThreshold):
			spreadScore = 0.5
		}
	}

	velocityScore := 0.0
	if d.cfg.VolumeVelocityFeature && len(history) >= 2 && !previousUpdate.IsZero() {
		elapsed := now.Sub(previousUpdate).Seconds()
		if elapsed <= 0 {
			elapsed = 1
		}
		velocity := (currentPassive - history[len(history)-2].value) / elapsed
		if velocity < 0 {
			velocityScore = clamp01(-velocity / avgPassive)
		}
	}

	weights, ok := renormalize([]float64{
		d.cfg.Weights.Depletion, d.cfg.Weights.PassiveRatio, d.cfg.Weights.RefillGap,
		d.cfg.Weights.Imbalance, d.cfg.Weights.Spread, d.cfg.Weights.PassiveVelocity,
	})
	if !ok {
		log.Printf("exhaustion[%s]: scoring weights did not sum to 1.0, renormalized", d.id)
	}

	quality := qualityFor(snap.TradeCount, snap.LastUpdate, now, d.cfg.StaleAfter)
	score := weights[0]*depletionScore + weights[1]*passiveScore + weights[2]*refillGapScore +
		weights[3]*imbalanceScore + weights[4]*spreadScore + weights[5]*velocityScore
	score = clamp01(score) * float64(quality)

	if score < d.cfg.FinalConfidenceRequired {
		return
	}
	if !zs.state.readyToEmit(now, d.cfg.EventCooldown) {
		return
	}

	// Signal side is the side being exhausted, per the resolved design
	// note on exhaustion side convention: heavier aggressive buying
	// depletes the ask side, so the exhausted side is reported as sell
	// (ask-side liquidity), and vice versa.
	buy, sell := snap.AggressiveBuyVolume, snap.AggressiveSellVolume
	var side Side
	if buy.GreaterThan(sell) {
		side = Sell
	} else {
		side = Buy
	}

	d.nextID++
	d.candidates = append(d.candidates, SignalCandidate{
		ID:         fmt.Sprintf("%s-%d", d.id, d.nextID),
		DetectorID: d.id,
		Type:       SignalExhaustion,
		Side:       side,
		Price:      snap.CenterPrice,
		Timestamp:  now,
		Confidence: score,
		Payload: map[string]any{
			"depletion_ratio": depletionRatio,
			"passive_ratio":   passiveRatio,
			"refill_gap":      refillGap,
		},
	})
	zs.state.markSignaled(now)
	d.status.LastSignalAt = now
}

func meanPassive(samples []passiveSample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.value
	}
	return sum / float64(len(samples)), true
}
