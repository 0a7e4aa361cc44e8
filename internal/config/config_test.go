package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		// viper treats an explicit missing file as an error; load without a
		// path instead to exercise defaults.
		cfg, err = Load("")
	}
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Detection.FailOpen)
	assert.Equal(t, 0.5, cfg.Detection.AnomalyThreshold)
	assert.Equal(t, 8, cfg.Detection.BatchConcurrency)
}

func TestLoadRuleSetFallsBackToDefaults(t *testing.T) {
	set, err := LoadRuleSet(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	require.NotNil(t, set)
	assert.True(t, set.Get("high_value_transfer").Enabled)
	assert.Equal(t, "CRITICAL", set.Get("blacklist_interaction").Severity)
}

func TestLoadRuleSetRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	set, err := LoadRuleSet(path)
	assert.Error(t, err)
	require.NotNil(t, set, "malformed file must still yield the default set")
	assert.NotEmpty(t, set.Rules)
}

func TestLoadRuleSetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	raw := `{"institutional_rules":{"high_value_transfer":{"enabled":true,"severity":"HIGH","action":"alert","threshold_usd":50000}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	set, err := LoadRuleSet(path)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, set.Get("high_value_transfer").ThresholdUSD)
	assert.False(t, set.Get("absent_rule").Enabled)
}

func TestWashTradingDefaults(t *testing.T) {
	cfg, err := LoadWashTradingConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SelfTrading.MaxHops)
	assert.Equal(t, 5, cfg.Circular.MaxHops)
	assert.Equal(t, 20*time.Minute, cfg.Cache.TTL)
	assert.InDelta(t, 1.0, cfg.BackAndForth.AlternationWeight+cfg.BackAndForth.ValueWeight+cfg.BackAndForth.FrequencyWeight, 1e-9)
	assert.Equal(t, 0.8, cfg.SelfTrading.MinConfidence)
	assert.Equal(t, 0.5, cfg.Circular.MinConfidence)
}

func TestWashTradingConfigOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wash.yaml")
	raw := "min_confidence: 0.6\ncircular_detection:\n  enabled: true\n  max_hops: 4\n  time_window: 6h\n  min_transactions_in_cycle: 3\n  value_preservation_threshold: 0.8\n  preservation_weight: 0.5\n  temporal_weight: 0.3\n  complexity_weight: 0.2\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadWashTradingConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.MinConfidence)
	assert.Equal(t, 4, cfg.Circular.MaxHops)
	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.BackAndForth.MinAlternations)
}

func TestWashTradingConfigValidation(t *testing.T) {
	cfg := DefaultWashTradingConfig()
	cfg.Circular.MaxHops = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultWashTradingConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultWashTradingConfig()
	cfg.SelfTrading.MinConfidence = -0.1
	assert.Error(t, cfg.Validate())

	cfg = DefaultWashTradingConfig()
	assert.NoError(t, cfg.Validate())
}
