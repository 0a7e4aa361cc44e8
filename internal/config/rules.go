package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RuleSet is the caller-facing rule configuration, keyed by rule name.
type RuleSet struct {
	Rules map[string]RuleConfig `json:"institutional_rules"`
}

// RuleConfig carries the per-rule switches and thresholds. Fields not
// relevant to a given rule are simply absent from its JSON block.
type RuleConfig struct {
	Enabled  bool   `json:"enabled"`
	Severity string `json:"severity"`
	Action   string `json:"action"`

	// high_value_transfer
	ThresholdUSD float64 `json:"threshold_usd,omitempty"`

	// new_wallet_interaction
	WalletAgeHours float64 `json:"wallet_age_hours,omitempty"`
	MinValueUSD    float64 `json:"min_value_usd,omitempty"`

	// suspicious_gas_price
	GasMultiplier    float64 `json:"gas_multiplier,omitempty"`
	MinGasMultiplier float64 `json:"min_gas_multiplier,omitempty"`
	MaxGasPriceGwei  float64 `json:"max_gas_price_gwei,omitempty"`

	// unusual_time_pattern
	OffHoursStart int  `json:"off_hours_start,omitempty"`
	OffHoursEnd   int  `json:"off_hours_end,omitempty"`
	FlagWeekends  bool `json:"flag_weekends,omitempty"`

	// multiple_small_transfers
	TimeWindowMinutes     int     `json:"time_window_minutes,omitempty"`
	MinTransferCount      int     `json:"min_transfer_count,omitempty"`
	MaxIndividualValueUSD float64 `json:"max_individual_value_usd,omitempty"`
	TotalThresholdUSD     float64 `json:"total_threshold_usd,omitempty"`

	// token_swap_anomaly
	PriceDeviationThreshold float64 `json:"price_deviation_threshold,omitempty"`
	VolumeSpikeMultiplier   float64 `json:"volume_spike_multiplier,omitempty"`
}

// Get returns the configuration for a rule, falling back to a disabled
// zero config when the rule is absent from the set.
func (s *RuleSet) Get(name string) RuleConfig {
	if s == nil || s.Rules == nil {
		return RuleConfig{}
	}
	return s.Rules[name]
}

// LoadRuleSet reads the rule configuration from a JSON file. When the file
// is missing or malformed it returns the built-in default set together with
// the load error, so the caller can log the degradation and keep running.
func LoadRuleSet(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DefaultRuleSet(), fmt.Errorf("read rule set: %w", err)
	}
	var set RuleSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return DefaultRuleSet(), fmt.Errorf("parse rule set: %w", err)
	}
	if len(set.Rules) == 0 {
		return DefaultRuleSet(), fmt.Errorf("rule set %s defines no rules", path)
	}
	return &set, nil
}

// DefaultRuleSet returns the built-in rule configuration used when no rule
// file can be loaded.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{Rules: map[string]RuleConfig{
		"high_value_transfer": {
			Enabled:      true,
			Severity:     "HIGH",
			Action:       "alert",
			ThresholdUSD: 100000,
		},
		"new_wallet_interaction": {
			Enabled:        true,
			Severity:       "MEDIUM",
			Action:         "alert",
			WalletAgeHours: 24,
			MinValueUSD:    10000,
		},
		"blacklist_interaction": {
			Enabled:  true,
			Severity: "CRITICAL",
			Action:   "block",
		},
		"suspicious_gas_price": {
			Enabled:          true,
			Severity:         "MEDIUM",
			Action:           "alert",
			GasMultiplier:    5,
			MinGasMultiplier: 0.2,
			MaxGasPriceGwei:  500,
		},
		"unusual_time_pattern": {
			Enabled:       true,
			Severity:      "LOW",
			Action:        "monitor",
			MinValueUSD:   50000,
			OffHoursStart: 22,
			OffHoursEnd:   6,
			FlagWeekends:  true,
		},
		"wash_trading_pattern": {
			Enabled:  true,
			Severity: "HIGH",
			Action:   "alert",
		},
		"multiple_small_transfers": {
			Enabled:               true,
			Severity:              "MEDIUM",
			Action:                "alert",
			TimeWindowMinutes:     60,
			MinTransferCount:      5,
			MaxIndividualValueUSD: 10000,
			TotalThresholdUSD:     30000,
		},
		"token_swap_anomaly": {
			Enabled:                 true,
			Severity:                "MEDIUM",
			Action:                  "alert",
			PriceDeviationThreshold: 0.15,
			VolumeSpikeMultiplier:   10,
		},
	}}
}
