package ingestion

import (
	"fmt"
	"time"
)

// Config fully specifies the ingestion client. Every field is required;
// there is no silent default, per the module's fatal-at-startup
// configuration discipline.
type Config struct {
	WebSocketURL       string
	Symbol             string
	ReconnectDelay     time.Duration
	MaxReconnectDelay  time.Duration
	RateLimitPerSecond int
	SnapshotBaseURL    string
	HealthTimeout      time.Duration
}

func (c Config) Validate() error {
	switch {
	case c.WebSocketURL == "":
		return fmt.Errorf("ingestion: websocket_url is required")
	case c.Symbol == "":
		return fmt.Errorf("ingestion: symbol is required")
	case c.ReconnectDelay <= 0:
		return fmt.Errorf("ingestion: reconnect_delay_ms must be positive")
	case c.MaxReconnectDelay < c.ReconnectDelay:
		return fmt.Errorf("ingestion: max_reconnect_delay_ms must be >= reconnect_delay_ms")
	case c.RateLimitPerSecond <= 0:
		return fmt.Errorf("ingestion: rate_limit_per_second must be positive")
	case c.SnapshotBaseURL == "":
		return fmt.Errorf("ingestion: snapshot_base_url is required")
	case c.HealthTimeout <= 0:
		return fmt.Errorf("ingestion: health_timeout_ms must be positive")
	}
	return nil
}
