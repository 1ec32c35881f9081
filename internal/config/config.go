// Package config loads the engine's immutable configuration from a YAML file,
// with ${VAR} environment substitution and viper-driven env overrides, in the
// same shape the rest of this codebase's ambient tooling uses.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ArbitrageConfig holds detector thresholds and named profile overrides.
type ArbitrageConfig struct {
	MinSpreadThreshold float64                     `mapstructure:"min_spread_threshold"`
	MaxPositionSize    float64                     `mapstructure:"max_position_size"`
	MinProfitThreshold float64                     `mapstructure:"min_profit_threshold"`
	Profiles           map[string]ProfileThreshold `mapstructure:"profiles"`
}

// ProfileThreshold is one named threshold profile (conservative/aggressive/test).
type ProfileThreshold struct {
	MinSpreadThreshold float64 `mapstructure:"min_spread_threshold"`
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
	MinProfitThreshold float64 `mapstructure:"min_profit_threshold"`
}

// RiskConfig mirrors every RiskParameters field from the risk gate design.
type RiskConfig struct {
	MaxPositionSize      float64 `mapstructure:"max_position_size"`
	MaxTotalExposure     float64 `mapstructure:"max_total_exposure"`
	MaxPositionsPerSym   int     `mapstructure:"max_positions_per_symbol"`
	MaxTotalPositions    int     `mapstructure:"max_total_positions"`
	MaxSlippagePct       float64 `mapstructure:"max_slippage_percentage"`
	MinNetSpread         float64 `mapstructure:"min_net_spread"`
	MaxPositionDuration  int     `mapstructure:"max_position_duration"` // seconds
	CooldownPeriod       int     `mapstructure:"cooldown_period"`       // seconds
	MaxDailyLoss         float64 `mapstructure:"max_daily_loss"`
	MaxDrawdown          float64 `mapstructure:"max_drawdown"`
	StopLossPct          float64 `mapstructure:"stop_loss_percentage"`
	MaxExchangeExposure  float64 `mapstructure:"max_exchange_exposure"`
	MinExchangeBalance   float64 `mapstructure:"min_exchange_balance"`
	BlockDurationMinutes int     `mapstructure:"block_duration_minutes"`
}

// FeeConfig is one venue's maker/taker rates as decimal fractions.
type FeeConfig struct {
	Maker float64 `mapstructure:"maker"`
	Taker float64 `mapstructure:"taker"`
}

// ExchangeConfig is per-venue config: fees, REST/WS endpoints, credentials,
// and rate-limit bucket sizing.
type ExchangeConfig struct {
	Fees        FeeConfig       `mapstructure:"fees"`
	RestBaseURL string          `mapstructure:"rest_base_url"`
	WSBaseURL   string          `mapstructure:"ws_base_url"`
	APIKey      string          `mapstructure:"api_key"`
	APISecret   string          `mapstructure:"api_secret"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig sizes the per-call-class token buckets a venue adapter
// uses to throttle outbound REST calls.
type RateLimitConfig struct {
	BookCapacity   int     `mapstructure:"book_capacity"`
	BookRate       float64 `mapstructure:"book_rate"`
	OrderCapacity  int     `mapstructure:"order_capacity"`
	OrderRate      float64 `mapstructure:"order_rate"`
	CancelCapacity int     `mapstructure:"cancel_capacity"`
	CancelRate     float64 `mapstructure:"cancel_rate"`
}

// DefaultRateLimit is used whenever a venue carries no explicit
// exchanges.<name>.rate_limit entry.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		BookCapacity:   10,
		BookRate:       5,
		OrderCapacity:  20,
		OrderRate:      10,
		CancelCapacity: 20,
		CancelRate:     10,
	}
}

// PriceLoggerConfig controls the recorder's delta-mode threshold.
type PriceLoggerConfig struct {
	PriceChangeThreshold float64 `mapstructure:"price_change_threshold"`
	OutputDir            string  `mapstructure:"output_dir"`
	Compress             bool    `mapstructure:"compress"`
}

// WebSocketConfig controls venue adapter reconnect behavior.
type WebSocketConfig struct {
	ReconnectDelaySeconds float64 `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts  int     `mapstructure:"max_reconnect_attempts"`
	PingIntervalSeconds   float64 `mapstructure:"ping_interval"`
}

// DashboardConfig controls the optional monitorapi HTTP/WS surface.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig selects slog handler and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Config is the top-level immutable configuration struct, unmarshalled once
// at startup and passed by value thereafter.
type Config struct {
	DryRun      bool                      `mapstructure:"dry_run"`
	Arbitrage   ArbitrageConfig           `mapstructure:"arbitrage"`
	Risk        RiskConfig                `mapstructure:"risk"`
	Exchanges   map[string]ExchangeConfig `mapstructure:"exchanges"`
	PriceLogger PriceLoggerConfig         `mapstructure:"price_logger"`
	WebSocket   WebSocketConfig           `mapstructure:"websocket"`
	Dashboard   DashboardConfig           `mapstructure:"dashboard"`
	Logging     LoggingConfig             `mapstructure:"logging"`
}

// defaultTakerFees codifies per-venue taker-fee fallbacks used whenever a
// venue is referenced but carries no explicit exchanges.<name>.fees entry.
var defaultTakerFees = map[string]float64{
	"hyperliquid": 0.000389,
	"bybit":       0.0006,
	"binance":     0.0004,
	"gate":        0.0005,
	"bitget":      0.0006,
	"kucoin":      0.0006,
}

var defaultMakerFees = map[string]float64{
	"hyperliquid": 0.00013,
	"bybit":       0.0001,
	"binance":     0.0002,
	"gate":        0.0002,
	"bitget":      0.0002,
	"kucoin":      0.0002,
}

// FeesFor returns the configured fees for venue, falling back to the
// codified per-venue defaults, then to a generic 0.0002/0.0005 fallback.
func (c Config) FeesFor(venue string) FeeConfig {
	key := strings.ToLower(venue)
	if ex, ok := c.Exchanges[key]; ok && (ex.Fees.Maker != 0 || ex.Fees.Taker != 0) {
		return ex.Fees
	}
	maker, ok := defaultMakerFees[key]
	if !ok {
		maker = 0.0002
	}
	taker, ok := defaultTakerFees[key]
	if !ok {
		taker = 0.0005
	}
	return FeeConfig{Maker: maker, Taker: taker}
}

// Load reads the YAML file at path, substitutes ${VAR} references from the
// environment, applies ARB_-prefixed env overrides, and unmarshals into a
// Config. Defaults are seeded before unmarshalling so a minimal config file
// still produces sane values.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	tree = expandEnvTree(tree).(map[string]interface{})

	expanded, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("re-marshal expanded config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(string(expanded))); err != nil {
		return nil, fmt.Errorf("load config into viper: %w", err)
	}

	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arbitrage.min_spread_threshold", 0.2)
	v.SetDefault("arbitrage.max_position_size", 10000)
	v.SetDefault("arbitrage.min_profit_threshold", 5)

	v.SetDefault("risk.max_position_size", 10000)
	v.SetDefault("risk.max_total_exposure", 50000)
	v.SetDefault("risk.max_positions_per_symbol", 3)
	v.SetDefault("risk.max_total_positions", 10)
	v.SetDefault("risk.max_slippage_percentage", 0.5)
	v.SetDefault("risk.min_net_spread", 0.2)
	v.SetDefault("risk.max_position_duration", 24*3600)
	v.SetDefault("risk.cooldown_period", 300)
	v.SetDefault("risk.max_daily_loss", 1000)
	v.SetDefault("risk.max_drawdown", 5000)
	v.SetDefault("risk.stop_loss_percentage", 2.0)
	v.SetDefault("risk.max_exchange_exposure", 20000)
	v.SetDefault("risk.min_exchange_balance", 1000)
	v.SetDefault("risk.block_duration_minutes", 60)

	v.SetDefault("price_logger.price_change_threshold", 1e-5)
	v.SetDefault("price_logger.output_dir", "data/price_logs")

	v.SetDefault("websocket.reconnect_delay", 1.0)
	v.SetDefault("websocket.max_reconnect_attempts", 3)
	v.SetDefault("websocket.ping_interval", 50.0)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// expandEnvTree walks a decoded YAML tree performing ${VAR} substitution on
// every leaf string, mirroring the source's recursive _substitute_env_vars.
func expandEnvTree(node interface{}) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = expandEnvTree(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = expandEnvTree(val)
		}
		return out
	case string:
		return os.Expand(v, func(name string) string {
			return os.Getenv(name)
		})
	default:
		return v
	}
}

// Validate checks required fields and reasonable ranges, returning the
// first problem found.
func (c Config) Validate() error {
	if c.Arbitrage.MinSpreadThreshold <= 0 {
		return fmt.Errorf("arbitrage.min_spread_threshold must be positive")
	}
	if c.Arbitrage.MaxPositionSize <= 0 {
		return fmt.Errorf("arbitrage.max_position_size must be positive")
	}
	if c.Risk.MaxPositionsPerSym <= 0 {
		return fmt.Errorf("risk.max_positions_per_symbol must be positive")
	}
	if c.Risk.MaxTotalPositions <= 0 {
		return fmt.Errorf("risk.max_total_positions must be positive")
	}
	if c.Risk.CooldownPeriod < 0 {
		return fmt.Errorf("risk.cooldown_period must not be negative")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// ThresholdFor resolves the effective arbitrage thresholds for a named
// profile (conservative/aggressive/test), falling back to the base
// arbitrage.* values when the profile is unset or unknown — mirroring the
// source's get_arbitrage_threshold.
func (c Config) ThresholdFor(profile string) ProfileThreshold {
	base := ProfileThreshold{
		MinSpreadThreshold: c.Arbitrage.MinSpreadThreshold,
		MaxPositionSize:    c.Arbitrage.MaxPositionSize,
		MinProfitThreshold: c.Arbitrage.MinProfitThreshold,
	}
	if profile == "" || profile == "default" {
		return base
	}
	if p, ok := c.Arbitrage.Profiles[profile]; ok {
		if p.MinSpreadThreshold == 0 {
			p.MinSpreadThreshold = base.MinSpreadThreshold
		}
		if p.MaxPositionSize == 0 {
			p.MaxPositionSize = base.MaxPositionSize
		}
		if p.MinProfitThreshold == 0 {
			p.MinProfitThreshold = base.MinProfitThreshold
		}
		return p
	}
	return base
}

// CooldownDuration returns the configured cooldown as a time.Duration.
func (r RiskConfig) CooldownDuration() time.Duration {
	return time.Duration(r.CooldownPeriod) * time.Second
}

// MaxPositionDurationDuration returns the configured max position age.
func (r RiskConfig) MaxPositionDurationDuration() time.Duration {
	return time.Duration(r.MaxPositionDuration) * time.Second
}

// BlockDuration returns the configured auto-unblock duration.
func (r RiskConfig) BlockDuration() time.Duration {
	return time.Duration(r.BlockDurationMinutes) * time.Minute
}
