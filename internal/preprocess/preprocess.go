package preprocess

import (
	"time"

	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/shopspring/decimal"
)

// Subscriber receives every enriched trade, in registration order, on the
// same goroutine that calls OnAggTrade — detectors are not re-entrant and
// must complete before the next trade is dispatched, per spec.md §5.
type Subscriber func(EnrichedTrade)

// widthTracker owns the zone centers for one configured tick width.
type widthTracker struct {
	ticksWide int
	zoneWidth fxmath.Price // ticksWide * tick
	halfWidth fxmath.Price // zoneWidth/2 expanded by 50%, per the
	// boundary-expansion rule in spec.md §4.3
	zones map[string]*zoneState
}

func newWidthTracker(ticksWide int, tick fxmath.Price) *widthTracker {
	zoneWidth := tick.MulInt(ticksWide)
	nominalHalf := zoneWidth.DivInt2()
	expandedHalf := nominalHalf.MulFloat(1.5)
	return &widthTracker{
		ticksWide: ticksWide,
		zoneWidth: zoneWidth,
		halfWidth: expandedHalf,
		zones:     make(map[string]*zoneState),
	}
}

// Preprocessor is the order-flow preprocessor: it owns the order book
// reference and the per-zone rolling aggregations, the way
// internal/state/engine.go's Engine owns the per-market order book and
// trade log and derives every downstream view from them.
type Preprocessor struct {
	cfg   Config
	book  *book.Book
	widths [3]*widthTracker

	subscribers []Subscriber

	accumulatedDelta decimal.Decimal

	onBookUpdate func(*book.Book)
}

// New constructs a Preprocessor bound to an existing order book. cfg must
// already have passed Validate(); New panics if it has not, since this is
// a startup-time configuration error, not a runtime condition.
func New(cfg Config, b *book.Book) *Preprocessor {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	p := &Preprocessor{cfg: cfg, book: b}
	for i, w := range cfg.ZoneWidths {
		p.widths[i] = newWidthTracker(w, cfg.TickSize)
	}
	return p
}

// Subscribe registers a detector (or any observer) to receive every
// enriched trade. Subscribers are invoked in registration order.
func (p *Preprocessor) Subscribe(s Subscriber) {
	p.subscribers = append(p.subscribers, s)
}

// OnDashboardUpdate registers a callback invoked with the current book
// after every depth diff, mirroring the out-of-core
// dashboard_orderbook_update emission named in spec.md §4.3. Optional.
func (p *Preprocessor) OnDashboardUpdate(f func(*book.Book)) {
	p.onBookUpdate = f
}

// OnDepthDiff forwards a depth diff to the owned order book and publishes
// the out-of-core dashboard snapshot hook, if registered.
func (p *Preprocessor) OnDepthDiff(diff book.DepthDiff) {
	p.book.ApplyDepthDiff(diff)
	if p.onBookUpdate != nil {
		p.onBookUpdate(p.book)
	}
}

// OnAggTrade enriches trade and dispatches it to every subscriber, in
// order, before returning. Detector dispatch is synchronous: all state
// updates for this trade complete before the call returns, satisfying the
// FIFO ordering guarantee in spec.md §5.
func (p *Preprocessor) OnAggTrade(trade AggTrade) {
	enriched := p.enrich(trade)
	for _, s := range p.subscribers {
		s(enriched)
	}
}

func (p *Preprocessor) enrich(trade AggTrade) EnrichedTrade {
	aggressorIsBuy := !trade.BuyerIsMaker // buyer_is_maker=false => buyer aggressor

	out := EnrichedTrade{
		Trade: trade,
	}
	if aggressorIsBuy {
		out.Aggressor = SideBuyer
		out.DeltaSign = 1
	} else {
		out.Aggressor = SideSeller
		out.DeltaSign = -1
	}
	out.Delta = trade.Quantity

	signedQty := trade.Quantity.Decimal()
	if !aggressorIsBuy {
		signedQty = signedQty.Neg()
	}
	p.accumulatedDelta = p.accumulatedDelta.Add(signedQty)
	out.AccumulatedDelta = p.accumulatedDelta

	if bid, ok := p.book.BestBid(); ok {
		out.BestBid, out.HasBestBid = bid, true
	}
	if ask, ok := p.book.BestAsk(); ok {
		out.BestAsk, out.HasBestAsk = ask, true
	}
	if out.HasBestBid && out.HasBestAsk {
		if mid, ok := fxmath.CalculateMid(out.BestBid, out.BestAsk); ok {
			out.Mid, out.HasMid = mid, true
		}
		out.Spread, out.HasSpread = fxmath.CalculateSpread(out.BestAsk, out.BestBid), true
	}

	if bidQty, askQty, ok := p.book.DepthAt(trade.Price); ok {
		out.PassiveBidAtPrice, out.PassiveAskAtPrice, out.HasPassiveAtPrice = bidQty, askQty, true
	}

	if bidTotal, askTotal := p.book.TotalDepth(); !bidTotal.IsZero() || !askTotal.IsZero() {
		denom := bidTotal.Decimal().Add(askTotal.Decimal())
		if !denom.IsZero() {
			imbalance := bidTotal.Decimal().Sub(askTotal.Decimal()).Div(denom)
			f, _ := imbalance.Float64()
			out.Imbalance, out.HasImbalance = f, true
		}
	}

	out.ZoneData = p.updateZones(trade, aggressorIsBuy)

	return out
}

// updateZones implements spec.md §4.3 steps 1-4 for all three configured
// widths.
func (p *Preprocessor) updateZones(trade AggTrade, aggressorIsBuy bool) StandardZoneData {
	now := trade.Timestamp
	seqs := make([][]ZoneSnapshot, 3)

	for i, wt := range p.widths {
		center, ok := fxmath.NormalizePriceToTick(trade.Price, wt.zoneWidth)
		if !ok {
			continue
		}
		zs := p.zoneAt(wt, center, now)
		zs.addTrade(now, trade.Quantity, aggressorIsBuy)
		p.evictStale(wt, now)

		// Select the neighborhood of zones near the trade price for this
		// width — the zone just touched plus any other resident zones in
		// confluence range.
		var near []ZoneSnapshot
		for _, other := range wt.zones {
			diff := other.center.Sub(trade.Price).Abs()
			if diff.LessThan(p.cfg.ConfluenceDistance) || diff.Equal(p.cfg.ConfluenceDistance) {
				near = append(near, other.snapshot(p.book, wt.halfWidth))
			}
		}
		seqs[i] = near
	}

	return StandardZoneData{
		Zones5Tick:  seqs[0],
		Zones10Tick: seqs[1],
		Zones20Tick: seqs[2],
	}
}

func (p *Preprocessor) zoneAt(wt *widthTracker, center fxmath.Price, now time.Time) *zoneState {
	key := center.String()
	zs, ok := wt.zones[key]
	if ok {
		return zs
	}
	zs = newZoneState(center, p.cfg.MaxSamplesPerZone, p.cfg.Window)
	wt.zones[key] = zs
	p.evictLRU(wt, key)
	return zs
}

// evictLRU drops the least-recently-updated zone other than keep (the
// zone just created) once the width's resident zone count exceeds
// MaxZonesPerWidth, per the memory-discipline requirement in spec.md §5.
func (p *Preprocessor) evictLRU(wt *widthTracker, keep string) {
	if len(wt.zones) <= p.cfg.MaxZonesPerWidth {
		return
	}
	var oldestKey string
	var oldest time.Time
	first := true
	for k, z := range wt.zones {
		if k == keep {
			continue
		}
		if first || z.lastUpdate.Before(oldest) {
			oldestKey, oldest, first = k, z.lastUpdate, false
		}
	}
	if oldestKey != "" {
		delete(wt.zones, oldestKey)
	}
}

// evictStale removes zones whose window has aged out entirely — they
// have not been touched within the configured window and contribute
// nothing to confluence analysis any longer.
func (p *Preprocessor) evictStale(wt *widthTracker, now time.Time) {
	for k, z := range wt.zones {
		z.window.Prune(now)
		if z.window.Len() == 0 {
			delete(wt.zones, k)
		}
	}
}

// Book exposes the underlying order book for ambient callers (dashboard
// mirror, health checks) that are not detectors. Detectors themselves
// must never call this — they receive book state only through the
// enriched trade, per spec.md §5.
func (p *Preprocessor) Book() *book.Book { return p.book }
