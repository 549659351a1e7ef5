package book

import (
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
)

// DepthDiff is a single price-level update from the exchange depth
// stream. Either side may be zero, meaning "level removed at that price".
type DepthDiff struct {
	Price     fxmath.Price
	BidQty    fxmath.Quantity
	AskQty    fxmath.Quantity
	Timestamp time.Time
}

// Level holds the passive quantity resting on each side at one price.
// A level with both sides at zero is not resident in the book.
type Level struct {
	BidQty fxmath.Quantity
	AskQty fxmath.Quantity
}
