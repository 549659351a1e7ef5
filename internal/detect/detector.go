// Package detect implements the pattern detectors that operate on the
// enriched-trade stream produced by internal/preprocess: absorption,
// exhaustion, accumulation/distribution zone detectors, and the
// delta-CVD confirmation detector. Detectors are a closed family behind
// a narrow interface, the way internal/signals/processor.go's Processor
// runs a fixed set of signal computations over a shared trade feed.
package detect

import (
	"math"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

// SignalType enumerates the closed family of candidate types a detector
// may emit.
type SignalType string

const (
	SignalAbsorption    SignalType = "absorption"
	SignalExhaustion    SignalType = "exhaustion"
	SignalAccumulation  SignalType = "accumulation"
	SignalDistribution  SignalType = "distribution"
	SignalCVDConfirm    SignalType = "cvd_confirmation"
)

// Side is the directional call of a signal candidate.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// SignalCandidate is a proposed trading signal from one detector, prior
// to cross-detector validation by the external SignalManager.
type SignalCandidate struct {
	ID          string
	DetectorID  string
	Type        SignalType
	Side        Side
	Price       fxmath.Price
	Timestamp   time.Time
	Confidence  float64 // in [0,1]
	Payload     map[string]any
}

// ZoneUpdateType is the six-state zone lifecycle named in the design
// notes: created/updated/strengthened/weakened/completed/invalidated.
type ZoneUpdateType string

const (
	ZoneCreated      ZoneUpdateType = "created"
	ZoneUpdated      ZoneUpdateType = "updated"
	ZoneStrengthened ZoneUpdateType = "strengthened"
	ZoneWeakened     ZoneUpdateType = "weakened"
	ZoneCompleted    ZoneUpdateType = "completed"
	ZoneInvalidated  ZoneUpdateType = "invalidated"
)

// ZoneUpdate is a visualization-only event describing a transition in a
// zone's lifecycle; it never gates a SignalCandidate.
type ZoneUpdate struct {
	DetectorID   string
	UpdateType   ZoneUpdateType
	Zone         fxmath.Price
	Significance float64
	Timestamp    time.Time
}

// Status summarizes a detector's operational health for the coordinator
// and for metrics export.
type Status struct {
	ErrorCount      int
	CircuitOpen     bool
	LastSignalAt    time.Time
	SamplesObserved uint64
}

// Detector is the narrow trait every pattern detector satisfies. The
// coordinator holds detectors only behind this interface — "interface
// abstraction over a narrow trait", per the design notes — never a
// concrete detector type.
type Detector interface {
	ID() string
	OnEnrichedTrade(preprocess.EnrichedTrade)
	Status() Status
	// Candidates drains signal candidates queued since the last call.
	// A detector never blocks on emission; candidates accumulate until
	// drained by the coordinator.
	Candidates() []SignalCandidate
	// ZoneUpdates drains visualization-only zone lifecycle events.
	ZoneUpdates() []ZoneUpdate
}

// dataQuality scales a raw confidence score down when the evidence
// backing it is thin or stale, per spec §4.4's "data-quality factor".
type dataQuality float64

const (
	qualityHigh   dataQuality = 1.0
	qualityMedium dataQuality = 0.75
	qualityLow    dataQuality = 0.5
)

func qualityFor(sampleCount int, lastUpdate, now time.Time, staleAfter time.Duration) dataQuality {
	if sampleCount == 0 {
		return qualityLow
	}
	age := now.Sub(lastUpdate)
	switch {
	case sampleCount >= 8 && age < staleAfter:
		return qualityHigh
	case sampleCount >= 3 && age < staleAfter*2:
		return qualityMedium
	default:
		return qualityLow
	}
}

// meanOf and stdDevOf compute sample statistics over plain float64
// ratios (dominance scores, z-scores) that never carry monetary
// meaning and so do not go through fxmath's decimal types. They return
// ok=false on empty input, the same "no fabricated default" contract
// fxmath.Mean/StdDev uphold for decimal values.
func meanOf(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

func stdDevOf(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	mean, _ := meanOf(xs)
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1)), true
}

// clamp01 bounds a score to [0,1], the confidence contract every
// detector must uphold (spec §8 "ratio bounds").
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// renormalize scales weights to sum to 1.0 if they do not already,
// reporting whether a correction was needed (the caller logs a warning
// when ok is false, per spec §4.4 "weights ... required to sum to 1.0;
// if not, renormalize and warn").
func renormalize(weights []float64) (out []float64, ok bool) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		out = make([]float64, len(weights))
		if len(out) > 0 {
			even := 1.0 / float64(len(out))
			for i := range out {
				out[i] = even
			}
		}
		return out, false
	}
	const tolerance = 0.01
	if sum >= 1-tolerance && sum <= 1+tolerance {
		return weights, true
	}
	out = make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, false
}

// circuitBreaker opens after max errors within a rolling window,
// suppressing emission until the window elapses, per spec §4.5.
type circuitBreaker struct {
	window     time.Duration
	maxErrors  int
	errors     []time.Time
	openedAt   time.Time
	open       bool
}

func newCircuitBreaker(window time.Duration, maxErrors int) *circuitBreaker {
	return &circuitBreaker{window: window, maxErrors: maxErrors}
}

func (c *circuitBreaker) recordError(now time.Time) {
	c.errors = append(c.errors, now)
	cutoff := now.Add(-c.window)
	kept := c.errors[:0]
	for _, t := range c.errors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.errors = kept
	if len(c.errors) >= c.maxErrors {
		c.open = true
		c.openedAt = now
	}
}

func (c *circuitBreaker) allow(now time.Time) bool {
	if !c.open {
		return true
	}
	if now.Sub(c.openedAt) >= c.window {
		c.open = false
		c.errors = nil
		return true
	}
	return false
}
