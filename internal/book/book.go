// Package book maintains the live best-bid/best-ask and per-price passive
// depth for a single trading pair, updated by depth diffs. It generalizes
// internal/state/orderbook.go's sorted-slice-of-levels design (there,
// rebuilt wholesale from a REST snapshot; here, maintained incrementally
// from a stream of diffs) and adds the connection-health bookkeeping the
// teacher's orderbook type has no analogue for.
package book

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
)

// RecoveryReason explains why a recovery (authoritative resnapshot) was
// requested.
type RecoveryReason string

const (
	ReasonNegativeQuantity RecoveryReason = "negative_quantity"
	ReasonInvertedBook     RecoveryReason = "inverted_book"
	ReasonStaleOnReconnect RecoveryReason = "stale_on_reconnect"
)

// Book is the order book for one trading pair. Mutated only through
// ApplyDepthDiff and the stream-lifecycle hooks; it emits no signals of
// its own — its role is purely state, per spec.
type Book struct {
	mu sync.RWMutex

	levels map[string]*Level

	// bidPrices is kept sorted descending (best bid first); askPrices
	// ascending (best ask first). Insertion finds its position by binary
	// search (O(log n)) and shifts in O(n); removal and membership checks
	// are linear scans. The same trade-off the teacher accepts with
	// sort.Slice on every UpdateFromKalshi call — here the slices change
	// only on structural change.
	bidPrices []fxmath.Price
	askPrices []fxmath.Price

	lastUpdate time.Time

	connected      bool
	disconnectedAt time.Time
	healthTimeout  time.Duration

	onRecovery func(reason RecoveryReason, detail string)
}

// New constructs an empty book. healthTimeout bounds how stale
// LastUpdate() may be while still considered healthy; onRecovery, if
// non-nil, is invoked (synchronously, on the caller's goroutine) whenever
// a consistency error requires an authoritative resnapshot.
func New(healthTimeout time.Duration, onRecovery func(reason RecoveryReason, detail string)) *Book {
	return &Book{
		levels:        make(map[string]*Level),
		healthTimeout: healthTimeout,
		onRecovery:    onRecovery,
		connected:     true,
	}
}

// ApplyDepthDiff upserts the level at diff.Price. A level that reaches
// zero on both sides is removed. Malformed diffs (negative quantity) are
// discarded with a logged warning rather than applied partially.
func (b *Book) ApplyDepthDiff(diff DepthDiff) {
	if diff.BidQty.Decimal().IsNegative() || diff.AskQty.Decimal().IsNegative() {
		log.Printf("book: discarding depth diff with negative quantity at price %s", diff.Price)
		b.requestRecovery(ReasonNegativeQuantity, fmt.Sprintf("price=%s", diff.Price))
		return
	}

	b.mu.Lock()

	key := diff.Price.String()
	removeEmpty := diff.BidQty.IsZero() && diff.AskQty.IsZero()

	_, existed := b.levels[key]

	if removeEmpty {
		if existed {
			delete(b.levels, key)
			b.bidPrices = removePrice(b.bidPrices, diff.Price)
			b.askPrices = removePrice(b.askPrices, diff.Price)
		}
	} else {
		lvl := &Level{BidQty: diff.BidQty, AskQty: diff.AskQty}
		b.levels[key] = lvl
		if !existed {
			if !diff.BidQty.IsZero() {
				b.bidPrices = insertDescending(b.bidPrices, diff.Price)
			}
			if !diff.AskQty.IsZero() {
				b.askPrices = insertAscending(b.askPrices, diff.Price)
			}
		} else {
			// Existing level's side membership may have flipped between
			// zero and non-zero without the level itself vanishing.
			b.reconcileSideMembership(diff.Price, diff.BidQty, diff.AskQty)
		}
	}

	b.lastUpdate = diff.Timestamp

	bestBid, hasBid := b.bestBidLocked()
	bestAsk, hasAsk := b.bestAskLocked()
	inverted := hasBid && hasAsk && !bestBid.LessThan(bestAsk)
	b.mu.Unlock()

	if inverted {
		log.Printf("book: inverted best bid/ask (bid=%s ask=%s), requesting recovery", bestBid, bestAsk)
		b.requestRecovery(ReasonInvertedBook, fmt.Sprintf("bid=%s ask=%s", bestBid, bestAsk))
	}
}

func (b *Book) reconcileSideMembership(price fxmath.Price, bidQty, askQty fxmath.Quantity) {
	hasBid := containsPrice(b.bidPrices, price)
	hasAsk := containsPrice(b.askPrices, price)
	if bidQty.IsZero() && hasBid {
		b.bidPrices = removePrice(b.bidPrices, price)
	} else if !bidQty.IsZero() && !hasBid {
		b.bidPrices = insertDescending(b.bidPrices, price)
	}
	if askQty.IsZero() && hasAsk {
		b.askPrices = removePrice(b.askPrices, price)
	} else if !askQty.IsZero() && !hasAsk {
		b.askPrices = insertAscending(b.askPrices, price)
	}
}

func (b *Book) requestRecovery(reason RecoveryReason, detail string) {
	if b.onRecovery != nil {
		b.onRecovery(reason, detail)
	}
}

// BestBid returns the highest price with resident bid depth.
func (b *Book) BestBid() (fxmath.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

func (b *Book) bestBidLocked() (fxmath.Price, bool) {
	if len(b.bidPrices) == 0 {
		return fxmath.Price{}, false
	}
	return b.bidPrices[0], true
}

// BestAsk returns the lowest price with resident ask depth.
func (b *Book) BestAsk() (fxmath.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestAskLocked() (fxmath.Price, bool) {
	if len(b.askPrices) == 0 {
		return fxmath.Price{}, false
	}
	return b.askPrices[0], true
}

// Spread returns best ask minus best bid. False if either side is
// missing.
func (b *Book) Spread() (fxmath.Price, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return fxmath.Price{}, false
	}
	return fxmath.CalculateSpread(ask, bid), true
}

// Mid returns the midpoint of best bid and best ask.
func (b *Book) Mid() (fxmath.Price, bool) {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return fxmath.Price{}, false
	}
	return fxmath.CalculateMid(bid, ask)
}

// DepthAt returns the resident bid/ask quantity exactly at price. False
// if no level is resident there.
func (b *Book) DepthAt(price fxmath.Price) (bidQty, askQty fxmath.Quantity, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lvl, exists := b.levels[price.String()]
	if !exists {
		return fxmath.Quantity{}, fxmath.Quantity{}, false
	}
	return lvl.BidQty, lvl.AskQty, true
}

// DepthInRange sums resident bid/ask quantity for prices in [lo, hi]
// (inclusive), used by the preprocessor's zone passive-volume recompute.
func (b *Book) DepthInRange(lo, hi fxmath.Price) (bidQty, askQty fxmath.Quantity) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidSum := fxmath.ZeroQuantity()
	for _, p := range b.bidPrices {
		if p.LessThan(lo) || p.GreaterThan(hi) {
			continue
		}
		if lvl, ok := b.levels[p.String()]; ok {
			bidSum = bidSum.Add(lvl.BidQty)
		}
	}
	askSum := fxmath.ZeroQuantity()
	for _, p := range b.askPrices {
		if p.LessThan(lo) || p.GreaterThan(hi) {
			continue
		}
		if lvl, ok := b.levels[p.String()]; ok {
			askSum = askSum.Add(lvl.AskQty)
		}
	}
	return bidSum, askSum
}

// TotalDepth sums resident bid/ask quantity across the whole book,
// used for the preprocessor's book-wide imbalance field.
func (b *Book) TotalDepth() (bidQty, askQty fxmath.Quantity) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bidSum := fxmath.ZeroQuantity()
	for _, p := range b.bidPrices {
		if lvl, ok := b.levels[p.String()]; ok {
			bidSum = bidSum.Add(lvl.BidQty)
		}
	}
	askSum := fxmath.ZeroQuantity()
	for _, p := range b.askPrices {
		if lvl, ok := b.levels[p.String()]; ok {
			askSum = askSum.Add(lvl.AskQty)
		}
	}
	return bidSum, askSum
}

// LastUpdate reports the timestamp of the most recently applied diff.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// IsHealthy reports whether the book is connected and has been updated
// within healthTimeout. While disconnected, health checks are relaxed:
// a disconnected book is unhealthy regardless of update recency.
func (b *Book) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.connected {
		return false
	}
	if b.healthTimeout <= 0 {
		return true
	}
	return time.Since(b.lastUpdate) <= b.healthTimeout
}

// OnStreamConnected marks the book connected. Callers should follow this
// with a full recovery (replace levels from an authoritative snapshot)
// per spec.
func (b *Book) OnStreamConnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
}

// OnStreamDisconnected marks the book disconnected and records the
// reason for diagnostics; health-timeout checks are relaxed (moot, since
// IsHealthy already returns false while disconnected) but LastUpdate
// bookkeeping is left untouched so a subsequent recovery can log the gap.
func (b *Book) OnStreamDisconnected(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnectedAt = time.Now()
	log.Printf("book: stream disconnected: %s", reason)
}

// Reset clears all resident levels, used when applying an authoritative
// recovery snapshot.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels = make(map[string]*Level)
	b.bidPrices = nil
	b.askPrices = nil
}

func containsPrice(prices []fxmath.Price, p fxmath.Price) bool {
	for _, x := range prices {
		if x.Equal(p) {
			return true
		}
	}
	return false
}

func insertDescending(prices []fxmath.Price, p fxmath.Price) []fxmath.Price {
	idx := sort.Search(len(prices), func(i int) bool { return prices[i].LessThan(p) || prices[i].Equal(p) })
	if idx < len(prices) && prices[idx].Equal(p) {
		return prices
	}
	prices = append(prices, fxmath.Price{})
	copy(prices[idx+1:], prices[idx:])
	prices[idx] = p
	return prices
}

func insertAscending(prices []fxmath.Price, p fxmath.Price) []fxmath.Price {
	idx := sort.Search(len(prices), func(i int) bool { return prices[i].GreaterThan(p) || prices[i].Equal(p) })
	if idx < len(prices) && prices[idx].Equal(p) {
		return prices
	}
	prices = append(prices, fxmath.Price{})
	copy(prices[idx+1:], prices[idx:])
	prices[idx] = p
	return prices
}

func removePrice(prices []fxmath.Price, p fxmath.Price) []fxmath.Price {
	for i, x := range prices {
		if x.Equal(p) {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}
