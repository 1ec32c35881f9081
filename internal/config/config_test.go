package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, "arbitrage:\n  min_spread_threshold: 0.3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Arbitrage.MinSpreadThreshold != 0.3 {
		t.Errorf("min_spread_threshold = %v, want 0.3", cfg.Arbitrage.MinSpreadThreshold)
	}
	if cfg.Risk.MaxTotalPositions != 10 {
		t.Errorf("risk.max_total_positions default = %v, want 10", cfg.Risk.MaxTotalPositions)
	}
	if cfg.Risk.CooldownPeriod != 300 {
		t.Errorf("risk.cooldown_period default = %v, want 300", cfg.Risk.CooldownPeriod)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_MAX_POS", "42000")

	path := writeTestConfig(t, "risk:\n  max_total_exposure: ${TEST_MAX_POS}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Risk.MaxTotalExposure != 42000 {
		t.Errorf("risk.max_total_exposure = %v, want 42000", cfg.Risk.MaxTotalExposure)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.Risk.MaxPositionsPerSym = 3
	cfg.Risk.MaxTotalPositions = 10
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject zero min_spread_threshold")
	}
}

func TestFeesForFallsBackToDefault(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	fees := cfg.FeesFor("Bybit")
	if fees.Taker != 0.0006 {
		t.Errorf("Bybit taker default = %v, want 0.0006", fees.Taker)
	}

	fees = cfg.FeesFor("Unknown")
	if fees.Taker != 0.0005 {
		t.Errorf("unknown venue taker fallback = %v, want 0.0005", fees.Taker)
	}
}

func TestThresholdForProfile(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Arbitrage: ArbitrageConfig{
			MinSpreadThreshold: 0.2,
			MaxPositionSize:    10000,
			MinProfitThreshold: 5,
			Profiles: map[string]ProfileThreshold{
				"conservative": {MinSpreadThreshold: 0.5},
			},
		},
	}

	th := cfg.ThresholdFor("conservative")
	if th.MinSpreadThreshold != 0.5 {
		t.Errorf("conservative min_spread_threshold = %v, want 0.5", th.MinSpreadThreshold)
	}
	if th.MaxPositionSize != 10000 {
		t.Errorf("conservative should inherit base max_position_size, got %v", th.MaxPositionSize)
	}

	def := cfg.ThresholdFor("")
	if def.MinSpreadThreshold != 0.2 {
		t.Errorf("default profile should equal base config")
	}
}
