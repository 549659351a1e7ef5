// Package preprocess implements the order-flow preprocessor: for every
// incoming aggregated trade it produces an enriched trade event carrying
// the raw trade plus live passive-liquidity context and multi-timeframe
// zone snapshots, the way internal/state/engine.go's Engine owns the
// order book and derives per-market signals from it — generalized from a
// polling snapshot model to a per-trade enrichment model.
package preprocess

import (
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade.
type Side int

const (
	SideBuyer Side = iota
	SideSeller
)

func (s Side) String() string {
	if s == SideBuyer {
		return "buyer"
	}
	return "seller"
}

// AggTrade is the raw, immutable trade event as received from the
// exchange feed.
type AggTrade struct {
	TradeID      uint64
	Price        fxmath.Price
	Quantity     fxmath.Quantity
	Timestamp    time.Time
	BuyerIsMaker bool
}

// ZoneSnapshot is a read-only view of one zone's rolling aggregates at
// the moment a trade was processed.
type ZoneSnapshot struct {
	CenterPrice         fxmath.Price
	AggressiveVolume    fxmath.Quantity
	AggressiveBuyVolume fxmath.Quantity
	AggressiveSellVolume fxmath.Quantity
	PassiveVolume       fxmath.Quantity
	TradeCount          int
	Strength            float64 // in [0,1]
	LastUpdate          time.Time
}

// StandardZoneData carries the three tick-width zone neighborhoods
// relevant to one trade.
type StandardZoneData struct {
	Zones5Tick  []ZoneSnapshot
	Zones10Tick []ZoneSnapshot
	Zones20Tick []ZoneSnapshot
}

// AllZones returns the three sequences concatenated, convenient for
// detectors that scan across all configured tick widths (confluence
// analysis).
func (d StandardZoneData) AllZones() []ZoneSnapshot {
	out := make([]ZoneSnapshot, 0, len(d.Zones5Tick)+len(d.Zones10Tick)+len(d.Zones20Tick))
	out = append(out, d.Zones5Tick...)
	out = append(out, d.Zones10Tick...)
	out = append(out, d.Zones20Tick...)
	return out
}

// PerWidth returns the three zone sequences in configured width order
// (Zones5Tick, Zones10Tick, Zones20Tick), for per-width alignment
// scoring. The widths themselves are not included.
func (d StandardZoneData) PerWidth() [][]ZoneSnapshot {
	return [][]ZoneSnapshot{d.Zones5Tick, d.Zones10Tick, d.Zones20Tick}
}

// ZonesNear returns every zone (across all three widths) whose center
// lies within distance of price. This is the narrow helper detectors use
// for confluence analysis instead of holding a back-reference to the
// preprocessor — it operates only on the zone data already carried by the
// enriched trade.
func (d StandardZoneData) ZonesNear(price, distance fxmath.Price) []ZoneSnapshot {
	var out []ZoneSnapshot
	for _, z := range d.AllZones() {
		diff := z.CenterPrice.Sub(price).Abs()
		if diff.LessThan(distance) || diff.Equal(distance) {
			out = append(out, z)
		}
	}
	return out
}

// EnrichedTrade is the one-shot event dispatched to every detector. It is
// never mutated after construction.
type EnrichedTrade struct {
	Trade AggTrade

	BestBid    fxmath.Price
	HasBestBid bool
	BestAsk    fxmath.Price
	HasBestAsk bool
	Mid        fxmath.Price
	HasMid     bool
	Spread     fxmath.Price
	HasSpread  bool

	PassiveBidAtPrice fxmath.Quantity
	PassiveAskAtPrice fxmath.Quantity
	HasPassiveAtPrice bool

	ZoneData StandardZoneData

	Aggressor        Side
	Delta            fxmath.Quantity // unsigned magnitude; sign given by DeltaSign
	DeltaSign        int             // +1 aggressive buy, -1 aggressive sell
	AccumulatedDelta decimal.Decimal // signed running total (quantity units)
	Imbalance        float64
	HasImbalance     bool
}
