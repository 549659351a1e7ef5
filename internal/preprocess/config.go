package preprocess

import (
	"fmt"
	"time"

	"github.com/orderflowlabs/flowengine/internal/fxmath"
)

// Config fully specifies the preprocessor. Every field is required; a
// zero value in a field that has no valid zero is a startup error, per
// spec.md §6's "no value has a silent default".
type Config struct {
	TickSize fxmath.Price

	// ZoneWidths is the list of tick-multiple zone widths, e.g. {5, 10, 20}.
	// Exactly three are required: the preprocessor's StandardZoneData has
	// a fixed 5/10/20-tick shape.
	ZoneWidths [3]int

	// Window is the rolling time window (T) over which zone aggregates
	// are accumulated.
	Window time.Duration

	// ConfluenceDistance bounds how far from the trade price a zone
	// center may lie and still be included in StandardZoneData.
	ConfluenceDistance fxmath.Price

	// MaxZonesPerWidth bounds resident zone centers per tick width;
	// least-recently-updated zones are evicted past this cap.
	MaxZonesPerWidth int

	// MaxSamplesPerZone bounds each zone's rolling trade-sample window.
	MaxSamplesPerZone int
}

// Validate reports the first configuration error found, or nil. Called
// once at startup; any error is fatal.
func (c Config) Validate() error {
	if c.TickSize.IsZero() || c.TickSize.Decimal().IsNegative() {
		return fmt.Errorf("preprocess: tick_size must be positive")
	}
	for i, w := range c.ZoneWidths {
		if w <= 0 {
			return fmt.Errorf("preprocess: zone_widths[%d] must be positive, got %d", i, w)
		}
	}
	if c.Window <= 0 {
		return fmt.Errorf("preprocess: window must be positive")
	}
	if c.ConfluenceDistance.Decimal().IsNegative() {
		return fmt.Errorf("preprocess: confluence_distance must be non-negative")
	}
	if c.MaxZonesPerWidth <= 0 {
		return fmt.Errorf("preprocess: max_zones_per_width must be positive")
	}
	if c.MaxSamplesPerZone <= 0 {
		return fmt.Errorf("preprocess: max_samples_per_zone must be positive")
	}
	return nil
}
