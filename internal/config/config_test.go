package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validTOML = `
[market]
symbol = "BTCUSDT"
tick_size = "0.01"
lot_size = "0.0001"

[ingestion]
websocket_url = "wss://example.invalid/stream"
snapshot_base_url = "https://example.invalid/depth"
reconnect_delay_ms = 1000
max_reconnect_delay_ms = 30000
rate_limit_per_second = 5
health_timeout_ms = 10000

[preprocess]
zone_widths = [5, 10, 20]
window_ms = 60000
confluence_distance = "0.05"
max_zones_per_width = 50
max_samples_per_zone = 200

[absorption]
min_agg_volume = "1.0"
min_ratio = 0.6
max_ratio = 0.95
depletion_fraction = 0.5
refill_fraction = 0.3
min_refill_events = 2
price_efficiency_threshold = 0.4
expected_movement_scaling = 1.0
spread_impact_feature = false
spread_impact_threshold = "0"
dominance_threshold = 0.7
final_confidence_required = 0.6
event_cooldown_ms = 5000
history_window_ms = 60000
history_capacity = 500
stale_after_ms = 30000
enhancement_mode = "disabled"
confluence_max_distance = "0.05"
confluence_min_zones = 2
confluence_boost = 0.1
cross_timeframe_stddev_max = 1.5
cross_timeframe_mean_min = 0.5
cross_timeframe_boost = 0.1
institutional_volume_feature = false
institutional_volume_threshold = "0"
institutional_volume_ratio_threshold = 0.0
institutional_boost = 0.0

[absorption.weights]
volume = 0.2
ratio = 0.2
refill = 0.2
efficiency = 0.1
spread = 0.1
depletion = 0.1
passive_ratio = 0.1
refill_gap = 0.0
imbalance = 0.0
passive_velocity = 0.0

[exhaustion]
imbalance_high_threshold = 0.8
imbalance_medium_threshold = 0.5
spread_adjustment_feature = false
spread_high_threshold = "0"
spread_medium_threshold = "0"
volume_velocity_feature = false
final_confidence_required = 0.6
event_cooldown_ms = 5000
history_window_ms = 60000
history_capacity = 500
stale_after_ms = 30000
circuit_breaker_window_ms = 60000
circuit_breaker_max_errors = 5
max_zones = 50

[exhaustion.weights]
volume = 0.2
ratio = 0.2
refill = 0.2
efficiency = 0.1
spread = 0.1
depletion = 0.1
passive_ratio = 0.1
refill_gap = 0.0
imbalance = 0.0
passive_velocity = 0.0

[accumulation]
confluence_max_distance = "0.05"
confluence_min_zones = 2
confluence_boost = 0.1
ratio_threshold = 0.65
volume_threshold = "1.0"
alignment_baseline = 0.5
alignment_score_threshold = 0.5
base_confidence = 0.5
min_confidence_boost_threshold = 0.1
completion_boost_threshold = 0.2
completed_confidence = 0.9
invalidated_confidence = 0.1
event_cooldown_ms = 5000

[distribution]
confluence_max_distance = "0.05"
confluence_min_zones = 2
confluence_boost = 0.1
ratio_threshold = 0.65
volume_threshold = "1.0"
alignment_baseline = 0.5
alignment_score_threshold = 0.5
base_confidence = 0.5
min_confidence_boost_threshold = 0.1
completion_boost_threshold = 0.2
completed_confidence = 0.9
invalidated_confidence = 0.1
event_cooldown_ms = 5000

[cvd]
short_window = "1m"
z_score_threshold = 2.0
event_cooldown_ms = 5000

[[cvd.windows]]
name = "1m"
duration_ms = 60000
capacity = 500

[[cvd.windows]]
name = "5m"
duration_ms = 300000
capacity = 500

[coordinator]
max_queue_depth = 1000
signal_processing_timeout_ms = 2000
max_retries = 2

[manager]
price_tolerance_pct = 0.02
time_window_ms = 30000

[api]
bind_address = ":8080"
cors_origins = ["*"]

[alerting]
enabled = false
slack_webhook_url = ""
discord_webhook_url = ""
alert_cooldown_ms = 60000
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validTOML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid config to load, got: %v", err)
	}
	if cfg.Market.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol: %s", cfg.Market.Symbol)
	}
	if cfg.IngestionHealthTimeout().Seconds() != 10 {
		t.Errorf("expected 10s health timeout, got %v", cfg.IngestionHealthTimeout())
	}
}

func TestLoadMissingFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error loading a nonexistent file")
	}
}

func TestLoadRejectsMissingSymbol(t *testing.T) {
	path := writeTempConfig(t, `
[market]
symbol = ""
tick_size = "0.01"
lot_size = "0.0001"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a missing market.symbol")
	}
}

func TestBuildMethodsProduceValidSubsystemConfigs(t *testing.T) {
	path := writeTempConfig(t, validTOML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cfg.BuildPreprocess().Validate(); err != nil {
		t.Errorf("BuildPreprocess: %v", err)
	}
	if err := cfg.BuildAbsorption().Validate(); err != nil {
		t.Errorf("BuildAbsorption: %v", err)
	}
	if err := cfg.BuildExhaustion().Validate(); err != nil {
		t.Errorf("BuildExhaustion: %v", err)
	}
	if err := cfg.BuildAccumulation().Validate(); err != nil {
		t.Errorf("BuildAccumulation: %v", err)
	}
	if err := cfg.BuildDistribution().Validate(); err != nil {
		t.Errorf("BuildDistribution: %v", err)
	}
	if err := cfg.BuildCVD().Validate(); err != nil {
		t.Errorf("BuildCVD: %v", err)
	}
	if err := cfg.BuildCoordinator().Validate(); err != nil {
		t.Errorf("BuildCoordinator: %v", err)
	}
	if err := cfg.BuildManager().Validate(); err != nil {
		t.Errorf("BuildManager: %v", err)
	}
	if err := cfg.BuildAPI().Validate(); err != nil {
		t.Errorf("BuildAPI: %v", err)
	}
	if err := cfg.BuildIngestion().Validate(); err != nil {
		t.Errorf("BuildIngestion: %v", err)
	}
}

func TestBuildAlertingDisabledWithNoWebhooksIsValid(t *testing.T) {
	path := writeTempConfig(t, validTOML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.BuildAlerting().Validate(); err != nil {
		t.Errorf("expected disabled alerting with no webhooks to validate, got: %v", err)
	}
}
