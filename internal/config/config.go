// Package config loads the engine's full configuration from a TOML
// file. Every tunable named in the external-interfaces surface is a
// required field: there is no default-with-fallback layer. A missing
// or out-of-range value is a startup error, and main.go treats Load's
// error as fatal — re-architected from the teacher's
// getEnv/getEnvInt-with-fallback pattern, which conflated sensible
// defaults with configuration (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/orderflowlabs/flowengine/internal/alerting"
	"github.com/orderflowlabs/flowengine/internal/api"
	"github.com/orderflowlabs/flowengine/internal/coordinate"
	"github.com/orderflowlabs/flowengine/internal/detect"
	"github.com/orderflowlabs/flowengine/internal/fxmath"
	"github.com/orderflowlabs/flowengine/internal/ingestion"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

// Config is the root TOML document shape. Durations are expressed in
// milliseconds (the unit every spec tunable names, e.g.
// event_cooldown_ms) and converted to time.Duration once at load time.
type Config struct {
	Market     MarketConfig     `toml:"market"`
	Ingestion  IngestionConfig  `toml:"ingestion"`
	Preprocess PreprocessConfig `toml:"preprocess"`
	Absorption AbsorptionConfig `toml:"absorption"`
	Exhaustion ExhaustionConfig `toml:"exhaustion"`
	Accumulation ZoneConfig     `toml:"accumulation"`
	Distribution ZoneConfig     `toml:"distribution"`
	CVD          CVDConfig      `toml:"cvd"`
	Coordinator  CoordinatorConfig `toml:"coordinator"`
	Manager      ManagerConfig     `toml:"manager"`
	API          APIConfig         `toml:"api"`
	Alerting     AlertingConfig    `toml:"alerting"`
}

type MarketConfig struct {
	Symbol   string `toml:"symbol"`
	TickSize string `toml:"tick_size"`
	LotSize  string `toml:"lot_size"`
}

type IngestionConfig struct {
	WebSocketURL             string `toml:"websocket_url"`
	SnapshotBaseURL          string `toml:"snapshot_base_url"`
	ReconnectDelayMs         int    `toml:"reconnect_delay_ms"`
	MaxReconnectDelayMs      int    `toml:"max_reconnect_delay_ms"`
	RateLimitPerSecond       int    `toml:"rate_limit_per_second"`
	HealthTimeoutMs          int    `toml:"health_timeout_ms"`
}

type PreprocessConfig struct {
	ZoneWidths         [3]int `toml:"zone_widths"`
	WindowMs           int    `toml:"window_ms"`
	ConfluenceDistance string `toml:"confluence_distance"`
	MaxZonesPerWidth   int    `toml:"max_zones_per_width"`
	MaxSamplesPerZone  int    `toml:"max_samples_per_zone"`
}

type WeightsConfig struct {
	Volume          float64 `toml:"volume"`
	Ratio           float64 `toml:"ratio"`
	Refill          float64 `toml:"refill"`
	Efficiency      float64 `toml:"efficiency"`
	Spread          float64 `toml:"spread"`
	Depletion       float64 `toml:"depletion"`
	PassiveRatio    float64 `toml:"passive_ratio"`
	RefillGap       float64 `toml:"refill_gap"`
	Imbalance       float64 `toml:"imbalance"`
	PassiveVelocity float64 `toml:"passive_velocity"`
}

type AbsorptionConfig struct {
	MinAggVolume             string        `toml:"min_agg_volume"`
	MinRatio                 float64       `toml:"min_ratio"`
	MaxRatio                 float64       `toml:"max_ratio"`
	DepletionFraction        float64       `toml:"depletion_fraction"`
	RefillFraction           float64       `toml:"refill_fraction"`
	MinRefillEvents          int           `toml:"min_refill_events"`
	PriceEfficiencyThreshold float64       `toml:"price_efficiency_threshold"`
	ExpectedMovementScaling  float64       `toml:"expected_movement_scaling"`
	SpreadImpactFeature      bool          `toml:"spread_impact_feature"`
	SpreadImpactThreshold    string        `toml:"spread_impact_threshold"`
	DominanceThreshold       float64       `toml:"dominance_threshold"`
	Weights                  WeightsConfig `toml:"weights"`
	FinalConfidenceRequired  float64       `toml:"final_confidence_required"`
	EventCooldownMs          int           `toml:"event_cooldown_ms"`
	HistoryWindowMs          int           `toml:"history_window_ms"`
	HistoryCapacity          int           `toml:"history_capacity"`
	StaleAfterMs             int           `toml:"stale_after_ms"`
	EnhancementMode          string        `toml:"enhancement_mode"`
	ConfluenceMaxDistance    string        `toml:"confluence_max_distance"`
	ConfluenceMinZones       int           `toml:"confluence_min_zones"`
	ConfluenceBoost          float64       `toml:"confluence_boost"`
	CrossTimeframeStdDevMax  float64       `toml:"cross_timeframe_stddev_max"`
	CrossTimeframeMeanMin    float64       `toml:"cross_timeframe_mean_min"`
	CrossTimeframeBoost      float64       `toml:"cross_timeframe_boost"`
	InstitutionalVolumeFeature        bool    `toml:"institutional_volume_feature"`
	InstitutionalVolumeThreshold      string  `toml:"institutional_volume_threshold"`
	InstitutionalVolumeRatioThreshold float64 `toml:"institutional_volume_ratio_threshold"`
	InstitutionalBoost                float64 `toml:"institutional_boost"`
}

type ExhaustionConfig struct {
	ImbalanceHighThreshold   float64       `toml:"imbalance_high_threshold"`
	ImbalanceMediumThreshold float64       `toml:"imbalance_medium_threshold"`
	SpreadAdjustmentFeature  bool          `toml:"spread_adjustment_feature"`
	SpreadHighThreshold      string        `toml:"spread_high_threshold"`
	SpreadMediumThreshold    string        `toml:"spread_medium_threshold"`
	VolumeVelocityFeature    bool          `toml:"volume_velocity_feature"`
	Weights                  WeightsConfig `toml:"weights"`
	FinalConfidenceRequired  float64       `toml:"final_confidence_required"`
	EventCooldownMs          int           `toml:"event_cooldown_ms"`
	HistoryWindowMs          int           `toml:"history_window_ms"`
	HistoryCapacity          int           `toml:"history_capacity"`
	StaleAfterMs             int           `toml:"stale_after_ms"`
	CircuitBreakerWindowMs   int           `toml:"circuit_breaker_window_ms"`
	CircuitBreakerMaxErrors  int           `toml:"circuit_breaker_max_errors"`
	MaxZones                 int          `toml:"max_zones"`
}

type ZoneConfig struct {
	ConfluenceMaxDistance       string  `toml:"confluence_max_distance"`
	ConfluenceMinZones          int     `toml:"confluence_min_zones"`
	ConfluenceBoost             float64 `toml:"confluence_boost"`
	RatioThreshold               float64 `toml:"ratio_threshold"`
	VolumeThreshold              string  `toml:"volume_threshold"`
	AlignmentBaseline            float64 `toml:"alignment_baseline"`
	AlignmentScoreThreshold      float64 `toml:"alignment_score_threshold"`
	BaseConfidence               float64 `toml:"base_confidence"`
	MinConfidenceBoostThreshold  float64 `toml:"min_confidence_boost_threshold"`
	CompletionBoostThreshold     float64 `toml:"completion_boost_threshold"`
	CompletedConfidence          float64 `toml:"completed_confidence"`
	InvalidatedConfidence        float64 `toml:"invalidated_confidence"`
	EventCooldownMs              int     `toml:"event_cooldown_ms"`
}

type CVDWindowConfig struct {
	Name         string `toml:"name"`
	DurationMs   int    `toml:"duration_ms"`
	Capacity     int    `toml:"capacity"`
}

type CVDConfig struct {
	Windows         []CVDWindowConfig `toml:"windows"`
	ShortWindow     string            `toml:"short_window"`
	ZScoreThreshold float64           `toml:"z_score_threshold"`
	EventCooldownMs int               `toml:"event_cooldown_ms"`
}

type CoordinatorConfig struct {
	MaxQueueDepth              int `toml:"max_queue_depth"`
	SignalProcessingTimeoutMs  int `toml:"signal_processing_timeout_ms"`
	MaxRetries                 int `toml:"max_retries"`
}

type ManagerConfig struct {
	PriceTolerancePct float64 `toml:"price_tolerance_pct"`
	TimeWindowMs      int     `toml:"time_window_ms"`
}

type APIConfig struct {
	BindAddress string   `toml:"bind_address"`
	CORSOrigins []string `toml:"cors_origins"`
}

type AlertingConfig struct {
	Enabled           bool   `toml:"enabled"`
	SlackWebhookURL   string `toml:"slack_webhook_url"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	AlertCooldownMs   int    `toml:"alert_cooldown_ms"`
}

// Load reads and validates a TOML configuration file. Any parse error
// or failed Validate() is returned; the caller (main.go) treats it as
// fatal, per spec §7's "misconfiguration at startup ... process exits
// with a diagnostic".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if _, ok := parsePrice(c.Market.TickSize); !ok {
		return fmt.Errorf("market.tick_size must be a positive decimal")
	}
	if _, ok := parsePrice(c.Market.LotSize); !ok {
		return fmt.Errorf("market.lot_size must be a positive decimal")
	}
	if c.Ingestion.WebSocketURL == "" {
		return fmt.Errorf("ingestion.websocket_url is required")
	}
	if c.Ingestion.ReconnectDelayMs <= 0 || c.Ingestion.MaxReconnectDelayMs <= 0 {
		return fmt.Errorf("ingestion reconnect delays must be positive")
	}
	if c.Ingestion.RateLimitPerSecond <= 0 {
		return fmt.Errorf("ingestion.rate_limit_per_second must be positive")
	}
	if c.Ingestion.HealthTimeoutMs <= 0 {
		return fmt.Errorf("ingestion.health_timeout_ms must be positive")
	}
	if c.Ingestion.SnapshotBaseURL == "" {
		return fmt.Errorf("ingestion.snapshot_base_url is required")
	}
	if _, err := c.buildIngestion(); err != nil {
		return err
	}

	if _, err := c.buildPreprocess(); err != nil {
		return err
	}
	if _, err := c.buildAbsorption(); err != nil {
		return err
	}
	if _, err := c.buildExhaustion(); err != nil {
		return err
	}
	if _, err := c.buildZone(c.Accumulation); err != nil {
		return fmt.Errorf("accumulation: %w", err)
	}
	if _, err := c.buildZone(c.Distribution); err != nil {
		return fmt.Errorf("distribution: %w", err)
	}
	if _, err := c.buildCVD(); err != nil {
		return err
	}

	coordCfg := coordinate.Config{
		MaxQueueDepth:           c.Coordinator.MaxQueueDepth,
		SignalProcessingTimeout: time.Duration(c.Coordinator.SignalProcessingTimeoutMs) * time.Millisecond,
		MaxRetries:              c.Coordinator.MaxRetries,
	}
	if err := coordCfg.Validate(); err != nil {
		return err
	}

	managerCfg := coordinate.DefaultManagerConfig{
		PriceTolerancePct: c.Manager.PriceTolerancePct,
		TimeWindow:        time.Duration(c.Manager.TimeWindowMs) * time.Millisecond,
	}
	if err := managerCfg.Validate(); err != nil {
		return err
	}

	if err := c.buildAPI().Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if c.Alerting.Enabled && c.Alerting.SlackWebhookURL == "" && c.Alerting.DiscordWebhookURL == "" {
		return fmt.Errorf("alerting.enabled requires at least one webhook URL")
	}
	if c.Alerting.AlertCooldownMs <= 0 {
		return fmt.Errorf("alerting.alert_cooldown_ms must be positive")
	}
	return nil
}

func parsePrice(s string) (fxmath.Price, bool) { return fxmath.NewPrice(s) }
func parseQty(s string) (fxmath.Quantity, bool) { return fxmath.NewQuantity(s) }

// TickSize returns the parsed market.tick_size. It does not panic: if
// the string does not parse (Validate() has not succeeded), it returns
// the zero Price.
func (c *Config) TickSize() fxmath.Price {
	p, _ := parsePrice(c.Market.TickSize)
	return p
}

func (c *Config) buildPreprocess() (preprocess.Config, error) {
	tick, ok := parsePrice(c.Market.TickSize)
	if !ok {
		return preprocess.Config{}, fmt.Errorf("preprocess: invalid tick_size")
	}
	confluence, ok := parsePrice(c.Preprocess.ConfluenceDistance)
	if !ok {
		return preprocess.Config{}, fmt.Errorf("preprocess.confluence_distance must be a valid decimal")
	}
	pc := preprocess.Config{
		TickSize:           tick,
		ZoneWidths:         c.Preprocess.ZoneWidths,
		Window:             time.Duration(c.Preprocess.WindowMs) * time.Millisecond,
		ConfluenceDistance: confluence,
		MaxZonesPerWidth:   c.Preprocess.MaxZonesPerWidth,
		MaxSamplesPerZone:  c.Preprocess.MaxSamplesPerZone,
	}
	if err := pc.Validate(); err != nil {
		return preprocess.Config{}, err
	}
	return pc, nil
}

// BuildPreprocess is the exported constructor main.go uses once Load
// has validated the document.
func (c *Config) BuildPreprocess() preprocess.Config {
	pc, _ := c.buildPreprocess()
	return pc
}

func (c *Config) buildAbsorption() (detect.AbsorptionConfig, error) {
	a := c.Absorption
	minAgg, ok := parseQty(a.MinAggVolume)
	if !ok {
		return detect.AbsorptionConfig{}, fmt.Errorf("absorption.min_agg_volume must be a valid decimal")
	}
	ac := detect.AbsorptionConfig{
		MinAggVolume:             minAgg,
		MinRatio:                 a.MinRatio,
		MaxRatio:                 a.MaxRatio,
		DepletionFraction:        a.DepletionFraction,
		RefillFraction:           a.RefillFraction,
		MinRefillEvents:          a.MinRefillEvents,
		PriceEfficiencyThreshold: a.PriceEfficiencyThreshold,
		ExpectedMovementScaling:  a.ExpectedMovementScaling,
		SpreadImpactFeature:      a.SpreadImpactFeature,
		DominanceThreshold:       a.DominanceThreshold,
		Weights: detect.AbsorptionWeights{
			Volume: a.Weights.Volume, Ratio: a.Weights.Ratio, Refill: a.Weights.Refill,
			Efficiency: a.Weights.Efficiency, Spread: a.Weights.Spread,
		},
		FinalConfidenceRequired:    a.FinalConfidenceRequired,
		EventCooldown:              time.Duration(a.EventCooldownMs) * time.Millisecond,
		HistoryWindow:              time.Duration(a.HistoryWindowMs) * time.Millisecond,
		HistoryCapacity:            a.HistoryCapacity,
		StaleAfter:                 time.Duration(a.StaleAfterMs) * time.Millisecond,
		EnhancementMode:            detect.EnhancementMode(a.EnhancementMode),
		ConfluenceMinZones:         a.ConfluenceMinZones,
		ConfluenceBoost:            a.ConfluenceBoost,
		CrossTimeframeStdDevMax:    a.CrossTimeframeStdDevMax,
		CrossTimeframeMeanMin:      a.CrossTimeframeMeanMin,
		CrossTimeframeBoost:        a.CrossTimeframeBoost,
		InstitutionalVolumeFeature: a.InstitutionalVolumeFeature,
		InstitutionalVolumeRatioThreshold: a.InstitutionalVolumeRatioThreshold,
		InstitutionalBoost:                a.InstitutionalBoost,
	}
	if a.SpreadImpactThreshold != "" {
		if p, ok := parsePrice(a.SpreadImpactThreshold); ok {
			ac.SpreadImpactThreshold = p
		}
	}
	if a.ConfluenceMaxDistance != "" {
		if p, ok := parsePrice(a.ConfluenceMaxDistance); ok {
			ac.ConfluenceMaxDistance = p
		}
	}
	if a.InstitutionalVolumeThreshold != "" {
		if q, ok := parseQty(a.InstitutionalVolumeThreshold); ok {
			ac.InstitutionalVolumeThreshold = q
		}
	}
	if err := ac.Validate(); err != nil {
		return detect.AbsorptionConfig{}, err
	}
	return ac, nil
}

func (c *Config) BuildAbsorption() detect.AbsorptionConfig {
	ac, _ := c.buildAbsorption()
	return ac
}

func (c *Config) buildExhaustion() (detect.ExhaustionConfig, error) {
	e := c.Exhaustion
	ec := detect.ExhaustionConfig{
		ImbalanceHighThreshold:   e.ImbalanceHighThreshold,
		ImbalanceMediumThreshold: e.ImbalanceMediumThreshold,
		SpreadAdjustmentFeature:  e.SpreadAdjustmentFeature,
		VolumeVelocityFeature:    e.VolumeVelocityFeature,
		Weights: detect.ExhaustionWeights{
			Depletion: e.Weights.Depletion, PassiveRatio: e.Weights.PassiveRatio,
			RefillGap: e.Weights.RefillGap, Imbalance: e.Weights.Imbalance,
			Spread: e.Weights.Spread, PassiveVelocity: e.Weights.PassiveVelocity,
		},
		FinalConfidenceRequired: e.FinalConfidenceRequired,
		EventCooldown:           time.Duration(e.EventCooldownMs) * time.Millisecond,
		HistoryWindow:           time.Duration(e.HistoryWindowMs) * time.Millisecond,
		HistoryCapacity:         e.HistoryCapacity,
		StaleAfter:              time.Duration(e.StaleAfterMs) * time.Millisecond,
		CircuitBreakerWindow:    time.Duration(e.CircuitBreakerWindowMs) * time.Millisecond,
		CircuitBreakerMaxErr:    e.CircuitBreakerMaxErrors,
		MaxZones:                e.MaxZones,
	}
	if e.SpreadHighThreshold != "" {
		if p, ok := parsePrice(e.SpreadHighThreshold); ok {
			ec.SpreadHighThreshold = p
		}
	}
	if e.SpreadMediumThreshold != "" {
		if p, ok := parsePrice(e.SpreadMediumThreshold); ok {
			ec.SpreadMediumThreshold = p
		}
	}
	if err := ec.Validate(); err != nil {
		return detect.ExhaustionConfig{}, err
	}
	return ec, nil
}

func (c *Config) BuildExhaustion() detect.ExhaustionConfig {
	ec, _ := c.buildExhaustion()
	return ec
}

func (c *Config) buildZone(z ZoneConfig) (detect.ZoneConfig, error) {
	maxDist, ok := parsePrice(z.ConfluenceMaxDistance)
	if !ok {
		return detect.ZoneConfig{}, fmt.Errorf("confluence_max_distance must be a valid decimal")
	}
	volThresh, ok := parseQty(z.VolumeThreshold)
	if !ok {
		return detect.ZoneConfig{}, fmt.Errorf("volume_threshold must be a valid decimal")
	}
	zc := detect.ZoneConfig{
		ConfluenceMaxDistance:       maxDist,
		ConfluenceMinZones:          z.ConfluenceMinZones,
		ConfluenceBoost:             z.ConfluenceBoost,
		RatioThreshold:              z.RatioThreshold,
		VolumeThreshold:             volThresh,
		AlignmentBaseline:           z.AlignmentBaseline,
		AlignmentScoreThreshold:     z.AlignmentScoreThreshold,
		BaseConfidence:              z.BaseConfidence,
		MinConfidenceBoostThreshold: z.MinConfidenceBoostThreshold,
		CompletionBoostThreshold:    z.CompletionBoostThreshold,
		CompletedConfidence:         z.CompletedConfidence,
		InvalidatedConfidence:       z.InvalidatedConfidence,
		EventCooldown:               time.Duration(z.EventCooldownMs) * time.Millisecond,
	}
	if err := zc.Validate(); err != nil {
		return detect.ZoneConfig{}, err
	}
	return zc, nil
}

func (c *Config) BuildAccumulation() detect.ZoneConfig {
	zc, _ := c.buildZone(c.Accumulation)
	return zc
}

func (c *Config) BuildDistribution() detect.ZoneConfig {
	zc, _ := c.buildZone(c.Distribution)
	return zc
}

func (c *Config) buildCVD() (detect.CVDConfig, error) {
	windows := make([]detect.CVDWindow, 0, len(c.CVD.Windows))
	for _, w := range c.CVD.Windows {
		windows = append(windows, detect.CVDWindow{
			Name:     w.Name,
			Duration: time.Duration(w.DurationMs) * time.Millisecond,
			Capacity: w.Capacity,
		})
	}
	cc := detect.CVDConfig{
		Windows:         windows,
		ShortWindow:     c.CVD.ShortWindow,
		ZScoreThreshold: c.CVD.ZScoreThreshold,
		EventCooldown:   time.Duration(c.CVD.EventCooldownMs) * time.Millisecond,
	}
	if err := cc.Validate(); err != nil {
		return detect.CVDConfig{}, err
	}
	return cc, nil
}

func (c *Config) BuildCVD() detect.CVDConfig {
	cc, _ := c.buildCVD()
	return cc
}

func (c *Config) BuildCoordinator() coordinate.Config {
	return coordinate.Config{
		MaxQueueDepth:           c.Coordinator.MaxQueueDepth,
		SignalProcessingTimeout: time.Duration(c.Coordinator.SignalProcessingTimeoutMs) * time.Millisecond,
		MaxRetries:              c.Coordinator.MaxRetries,
	}
}

func (c *Config) BuildManager() coordinate.DefaultManagerConfig {
	return coordinate.DefaultManagerConfig{
		PriceTolerancePct: c.Manager.PriceTolerancePct,
		TimeWindow:        time.Duration(c.Manager.TimeWindowMs) * time.Millisecond,
	}
}

func (c *Config) IngestionHealthTimeout() time.Duration {
	return time.Duration(c.Ingestion.HealthTimeoutMs) * time.Millisecond
}

func (c *Config) buildIngestion() (ingestion.Config, error) {
	ic := ingestion.Config{
		WebSocketURL:       c.Ingestion.WebSocketURL,
		Symbol:             c.Market.Symbol,
		ReconnectDelay:     time.Duration(c.Ingestion.ReconnectDelayMs) * time.Millisecond,
		MaxReconnectDelay:  time.Duration(c.Ingestion.MaxReconnectDelayMs) * time.Millisecond,
		RateLimitPerSecond: c.Ingestion.RateLimitPerSecond,
		SnapshotBaseURL:    c.Ingestion.SnapshotBaseURL,
		HealthTimeout:      time.Duration(c.Ingestion.HealthTimeoutMs) * time.Millisecond,
	}
	if err := ic.Validate(); err != nil {
		return ingestion.Config{}, err
	}
	return ic, nil
}

func (c *Config) BuildIngestion() ingestion.Config {
	ic, _ := c.buildIngestion()
	return ic
}

func (c *Config) buildAPI() api.Config {
	return api.Config{BindAddress: c.API.BindAddress, CORSOrigins: c.API.CORSOrigins}
}

func (c *Config) BuildAPI() api.Config {
	return c.buildAPI()
}

func (c *Config) buildAlerting() alerting.Config {
	return alerting.Config{
		Enabled:           c.Alerting.Enabled,
		SlackWebhookURL:   c.Alerting.SlackWebhookURL,
		DiscordWebhookURL: c.Alerting.DiscordWebhookURL,
		Cooldown:          time.Duration(c.Alerting.AlertCooldownMs) * time.Millisecond,
	}
}

// BuildAlerting converts the validated Alerting section into the
// webhook fan-out layer's own config type.
func (c *Config) BuildAlerting() alerting.Config {
	return c.buildAlerting()
}
