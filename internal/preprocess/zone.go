package preprocess

import (
	"time"

	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/rolling"
)

// tradeSample is one trade's contribution to a zone's rolling window.
type tradeSample struct {
	quantity fxmath.Quantity
	aggressorIsBuy bool
}

// zoneState is the live, mutable state for one zone center at one tick
// width. Bounded by its rolling window's age/capacity.
type zoneState struct {
	center     fxmath.Price
	window     *rolling.Window[tradeSample]
	lastUpdate time.Time
}

func newZoneState(center fxmath.Price, maxSamples int, maxAge time.Duration) *zoneState {
	return &zoneState{
		center: center,
		window: rolling.New[tradeSample](maxSamples, maxAge),
	}
}

func (z *zoneState) addTrade(at time.Time, qty fxmath.Quantity, aggressorIsBuy bool) {
	z.window.Add(at, tradeSample{quantity: qty, aggressorIsBuy: aggressorIsBuy})
	z.lastUpdate = at
}

// snapshot recomputes aggregates from resident samples and the book's
// current passive depth over the zone's price range, per spec §4.3 step 3.
func (z *zoneState) snapshot(b *book.Book, halfWidth fxmath.Price) ZoneSnapshot {
	buy := fxmath.ZeroQuantity()
	sell := fxmath.ZeroQuantity()
	count := 0
	for _, s := range z.window.Values() {
		if s.aggressorIsBuy {
			buy = buy.Add(s.quantity)
		} else {
			sell = sell.Add(s.quantity)
		}
		count++
	}
	total := buy.Add(sell)

	lo := z.center.Sub(halfWidth)
	hi := z.center.Add(halfWidth)
	var passive fxmath.Quantity
	if b != nil {
		bidDepth, askDepth := b.DepthInRange(lo, hi)
		passive = bidDepth.Add(askDepth)
	}

	strength := strengthOf(buy, total)

	return ZoneSnapshot{
		CenterPrice:          z.center,
		AggressiveVolume:     total,
		AggressiveBuyVolume:  buy,
		AggressiveSellVolume: sell,
		PassiveVolume:        passive,
		TradeCount:           count,
		Strength:             strength,
		LastUpdate:           z.lastUpdate,
	}
}

// strengthOf computes aggressive_buy_volume / (aggressive_volume + eps),
// clamped to [0,1]. A small epsilon avoids a division-by-zero special
// case while keeping the result well-defined for a zone with no trades
// yet (strength 0, not absent — the zone itself is absent in that case).
func strengthOf(buy, total fxmath.Quantity) float64 {
	const eps = 1e-9
	denom := total.ToFloat() + eps
	s := buy.ToFloat() / denom
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}
