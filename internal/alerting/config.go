package alerting

import (
	"fmt"
	"time"
)

// Config fully specifies the webhook fan-out layer. Grounded on
// config.AlertingConfig; kept as its own package-level type so this
// package stays ignorant of TOML, matching the ingestion/api split.
type Config struct {
	Enabled           bool
	SlackWebhookURL   string
	DiscordWebhookURL string
	Cooldown          time.Duration
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SlackWebhookURL == "" && c.DiscordWebhookURL == "" {
		return fmt.Errorf("alerting: enabled requires at least one webhook URL")
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("alerting: cooldown must be positive")
	}
	return nil
}
