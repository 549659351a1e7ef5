// Package alerting is the webhook fan-out layer named in SPEC_FULL.md
// §2: a Slack and/or Discord notification for every confirmed signal
// the coordinator emits, cooldown-gated per (type, side) pair so a
// noisy detector can't flood a channel. Grounded on
// internal/alerting/manager.go's cooldown-map and fan-out-goroutine
// shape, adapted from the teacher's signals.Signal/channel-consumer
// pattern to the coordinator's synchronous OnEvent listener contract.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/orderflowlabs/flowengine/internal/coordinate"
)

// Manager fans a confirmed signal out to every configured webhook
// client, subject to a per-(type,side) cooldown.
type Manager struct {
	cfg     Config
	slack   *SlackClient
	discord *DiscordClient

	mu       sync.Mutex
	cooldown map[string]time.Time
}

// NewManager constructs a Manager. cfg must already have passed
// Validate(); NewManager panics otherwise.
func NewManager(cfg Config) *Manager {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	m := &Manager{cfg: cfg, cooldown: make(map[string]time.Time)}
	if cfg.SlackWebhookURL != "" {
		m.slack = NewSlackClient(cfg.SlackWebhookURL)
	}
	if cfg.DiscordWebhookURL != "" {
		m.discord = NewDiscordClient(cfg.DiscordWebhookURL)
	}
	return m
}

// Notify is the coordinate.Coordinator.OnEvent listener: it must not
// block, so every webhook send happens on its own goroutine. A no-op
// when alerting is disabled.
func (m *Manager) Notify(sig coordinate.ConfirmedSignal) {
	if !m.cfg.Enabled {
		return
	}

	key := string(sig.Type) + "|" + string(sig.Side)
	m.mu.Lock()
	last, inCooldown := m.cooldown[key]
	if inCooldown && time.Since(last) < m.cfg.Cooldown {
		m.mu.Unlock()
		return
	}
	m.cooldown[key] = time.Now()
	m.mu.Unlock()

	message := formatSignalMessage(sig)
	if m.slack != nil {
		go m.slack.Send(message)
	}
	if m.discord != nil {
		go m.discord.Send(message)
	}
}

func formatSignalMessage(sig coordinate.ConfirmedSignal) string {
	return fmt.Sprintf("signal: %s\nside: %s\nprice: %s\nconfidence: %.0f%%\ncorrelated_with: %v\nat: %s",
		sig.Type, sig.Side, sig.Price.String(), sig.Confidence*100, sig.CorrelatedWith,
		sig.Timestamp.Format(time.RFC3339))
}
