package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

// wireAggTrade mirrors a Binance-style aggTrade stream frame: price and
// quantity travel as JSON strings (exchange convention — floats would
// lose precision across the wire), per spec.md §6.
type wireAggTrade struct {
	Event        string `json:"e"`
	TradeID      uint64 `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTimeMs  int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// wireLevel is a single [price, quantity] pair as the exchange emits it.
type wireLevel [2]string

// wireDepthUpdate mirrors a Binance-style depthUpdate frame: incremental
// bid/ask level changes, zero quantity meaning "level removed".
type wireDepthUpdate struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Bids      []wireLevel `json:"b"`
	Asks      []wireLevel `json:"a"`
}

// wireDepthSnapshot is the REST full-book-snapshot response shape, used
// to seed the book right after a (re)connect.
type wireDepthSnapshot struct {
	Bids []wireLevel `json:"bids"`
	Asks []wireLevel `json:"asks"`
}

func parseFrame(raw []byte) (event string, err error) {
	var probe struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("ingestion: decoding frame: %w", err)
	}
	return probe.Event, nil
}

func decodeAggTrade(raw []byte) (preprocess.AggTrade, error) {
	var w wireAggTrade
	if err := json.Unmarshal(raw, &w); err != nil {
		return preprocess.AggTrade{}, fmt.Errorf("ingestion: decoding aggTrade: %w", err)
	}
	price, ok := fxmath.NewPrice(w.Price)
	if !ok {
		return preprocess.AggTrade{}, fmt.Errorf("ingestion: invalid trade price %q", w.Price)
	}
	qty, ok := fxmath.NewQuantity(w.Quantity)
	if !ok {
		return preprocess.AggTrade{}, fmt.Errorf("ingestion: invalid trade quantity %q", w.Quantity)
	}
	return preprocess.AggTrade{
		TradeID:      w.TradeID,
		Price:        price,
		Quantity:     qty,
		Timestamp:    time.UnixMilli(w.TradeTimeMs),
		BuyerIsMaker: w.BuyerIsMaker,
	}, nil
}

func decodeDepthUpdate(raw []byte) ([]book.DepthDiff, error) {
	var w wireDepthUpdate
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("ingestion: decoding depthUpdate: %w", err)
	}
	ts := time.UnixMilli(w.EventTime)
	diffs := make([]book.DepthDiff, 0, len(w.Bids)+len(w.Asks))
	byPrice := make(map[string]int)

	apply := func(levels []wireLevel, isBid bool) error {
		for _, lvl := range levels {
			price, ok := fxmath.NewPrice(lvl[0])
			if !ok {
				return fmt.Errorf("ingestion: invalid depth price %q", lvl[0])
			}
			qty, ok := fxmath.NewQuantity(lvl[1])
			if !ok {
				return fmt.Errorf("ingestion: invalid depth quantity %q", lvl[1])
			}
			key := price.String()
			idx, exists := byPrice[key]
			if !exists {
				diffs = append(diffs, book.DepthDiff{Price: price, Timestamp: ts})
				idx = len(diffs) - 1
				byPrice[key] = idx
			}
			if isBid {
				diffs[idx].BidQty = qty
			} else {
				diffs[idx].AskQty = qty
			}
		}
		return nil
	}
	if err := apply(w.Bids, true); err != nil {
		return nil, err
	}
	if err := apply(w.Asks, false); err != nil {
		return nil, err
	}
	return diffs, nil
}

func decodeDepthSnapshot(raw []byte) ([]book.DepthDiff, error) {
	var w wireDepthSnapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("ingestion: decoding depth snapshot: %w", err)
	}
	now := time.Now()
	diffs := make([]book.DepthDiff, 0, len(w.Bids)+len(w.Asks))
	byPrice := make(map[string]int)

	add := func(lvl wireLevel, isBid bool) error {
		price, ok := fxmath.NewPrice(lvl[0])
		if !ok {
			return fmt.Errorf("ingestion: invalid snapshot price %q", lvl[0])
		}
		qty, ok := fxmath.NewQuantity(lvl[1])
		if !ok {
			return fmt.Errorf("ingestion: invalid snapshot quantity %q", lvl[1])
		}
		key := price.String()
		if idx, exists := byPrice[key]; exists {
			if isBid {
				diffs[idx].BidQty = qty
			} else {
				diffs[idx].AskQty = qty
			}
			return nil
		}
		d := book.DepthDiff{Price: price, Timestamp: now}
		if isBid {
			d.BidQty = qty
		} else {
			d.AskQty = qty
		}
		byPrice[key] = len(diffs)
		diffs = append(diffs, d)
		return nil
	}
	for _, lvl := range w.Bids {
		if err := add(lvl, true); err != nil {
			return nil, err
		}
	}
	for _, lvl := range w.Asks {
		if err := add(lvl, false); err != nil {
			return nil, err
		}
	}
	return diffs, nil
}
