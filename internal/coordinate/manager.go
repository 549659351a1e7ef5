package coordinate

import (
	"context"
	"fmt"
	"time"

	"github.com/orderflowlabs/flowengine/internal/detect"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
)

// ConfirmedSignal is the coordinator's final output: a candidate that
// survived deduplication and, optionally, cross-type correlation.
type ConfirmedSignal struct {
	ID             string
	Type           detect.SignalType
	Side           detect.Side
	Price          fxmath.Price
	Timestamp      time.Time
	Confidence     float64
	CorrelatedWith []string
}

// SignalManager is the external collaborator's contract, per spec
// §4.9: receive a candidate, validate, deduplicate, correlate, and
// optionally produce a ConfirmedSignal. A false second return means
// the candidate was consumed (deduplicated, or awaiting correlation)
// without producing new output this call — not an error.
type SignalManager interface {
	Handle(ctx context.Context, candidate detect.SignalCandidate) (ConfirmedSignal, bool, error)
}

// correlationFamilies maps each signal type to the types whose recent
// presence on the same side strengthens confidence in a confirmed
// signal (e.g. accumulation + absorption on the buy side).
var correlationFamilies = map[detect.SignalType][]detect.SignalType{
	detect.SignalAccumulation: {detect.SignalAbsorption, detect.SignalCVDConfirm},
	detect.SignalDistribution: {detect.SignalExhaustion, detect.SignalCVDConfirm},
	detect.SignalAbsorption:   {detect.SignalAccumulation, detect.SignalDistribution},
	detect.SignalExhaustion:   {detect.SignalDistribution, detect.SignalAccumulation},
}

// recent is one accepted candidate retained for dedup/correlation
// comparison against future candidates within TimeWindow.
type recent struct {
	candidate detect.SignalCandidate
	seenAt    time.Time
}

// DefaultManagerConfig fully specifies DefaultManager.
type DefaultManagerConfig struct {
	PriceTolerancePct float64
	TimeWindow        time.Duration
}

func (c DefaultManagerConfig) Validate() error {
	if c.PriceTolerancePct <= 0 {
		return fmt.Errorf("coordinate: price_tolerance_pct must be positive")
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("coordinate: time_window must be positive")
	}
	return nil
}

// DefaultManager is a concrete, in-process SignalManager implementing
// the dedup/correlate/confirm contract from spec §4.9. It is the
// module's own default collaborator, not a mock — downstream systems
// may supply a different SignalManager behind the same interface.
type DefaultManager struct {
	cfg     DefaultManagerConfig
	history []recent
	nextID  uint64
}

func NewDefaultManager(cfg DefaultManagerConfig) *DefaultManager {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return &DefaultManager{cfg: cfg}
}

func (m *DefaultManager) Handle(ctx context.Context, cand detect.SignalCandidate) (ConfirmedSignal, bool, error) {
	select {
	case <-ctx.Done():
		return ConfirmedSignal{}, false, ctx.Err()
	default:
	}

	now := cand.Timestamp
	m.evictOld(now)

	if m.isDuplicate(cand, now) {
		return ConfirmedSignal{}, false, nil
	}

	correlated := m.correlatedIDs(cand, now)
	confidence := cand.Confidence
	if len(correlated) > 0 {
		confidence = clamp01Manager(confidence + 0.1*float64(len(correlated)))
	}

	m.nextID++
	confirmed := ConfirmedSignal{
		ID:             fmt.Sprintf("confirmed-%d", m.nextID),
		Type:           cand.Type,
		Side:           cand.Side,
		Price:          cand.Price,
		Timestamp:      now,
		Confidence:     confidence,
		CorrelatedWith: correlated,
	}

	m.history = append(m.history, recent{candidate: cand, seenAt: now})
	return confirmed, true, nil
}

// isDuplicate reports whether an equivalent candidate (exact same
// Type, same side, price within tolerance) was already accepted
// within TimeWindow. This is a narrower check than "overlapping
// family" — correlationFamilies only widens confidence via
// correlatedIDs, it does not widen what counts as a duplicate.
func (m *DefaultManager) isDuplicate(cand detect.SignalCandidate, now time.Time) bool {
	for _, r := range m.history {
		if r.candidate.Type != cand.Type || r.candidate.Side != cand.Side {
			continue
		}
		if !withinTolerance(r.candidate.Price, cand.Price, m.cfg.PriceTolerancePct) {
			continue
		}
		return true
	}
	return false
}

// correlatedIDs returns the ids of recent candidates from a
// correlating type family on the same side, within TimeWindow.
func (m *DefaultManager) correlatedIDs(cand detect.SignalCandidate, now time.Time) []string {
	families := correlationFamilies[cand.Type]
	if len(families) == 0 {
		return nil
	}
	var ids []string
	for _, r := range m.history {
		if r.candidate.Side != cand.Side {
			continue
		}
		for _, fam := range families {
			if r.candidate.Type == fam {
				ids = append(ids, r.candidate.ID)
				break
			}
		}
	}
	return ids
}

func (m *DefaultManager) evictOld(now time.Time) {
	cutoff := now.Add(-m.cfg.TimeWindow)
	kept := m.history[:0]
	for _, r := range m.history {
		if r.seenAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	m.history = kept
}

func withinTolerance(a, b fxmath.Price, pct float64) bool {
	diff := a.Sub(b).Abs()
	tolerance := a.MulFloat(pct / 100)
	return !diff.GreaterThan(tolerance)
}

func clamp01Manager(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
