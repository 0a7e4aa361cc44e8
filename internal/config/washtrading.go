package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WashTradingConfig tunes the wash-trading detection service and its
// strategies.
type WashTradingConfig struct {
	MinConfidence       float64            `yaml:"min_confidence"`
	AnalysisWindowHours int                `yaml:"analysis_window_hours"`
	Cache               CacheConfig        `yaml:"cache"`
	SelfTrading         SelfTradingConfig  `yaml:"self_trading"`
	BackAndForth        BackAndForthConfig `yaml:"back_and_forth"`
	Circular            CircularConfig     `yaml:"circular_detection"`
	Statistical         StatisticalConfig  `yaml:"statistical_analysis"`
}

// CacheConfig bounds the detection result cache.
type CacheConfig struct {
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SelfTradingConfig tunes direct and via-path self-trade detection.
type SelfTradingConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxHops bounds the search for short return paths to the origin.
	MaxHops int `yaml:"max_hops"`
	// PreservationThreshold is the value-preservation ratio a return path
	// must keep to count as routed self-trading.
	PreservationThreshold float64       `yaml:"preservation_threshold"`
	PathWindow            time.Duration `yaml:"path_window"`
	// MinConfidence gates this strategy's patterns before synthesis.
	MinConfidence float64 `yaml:"min_confidence"`
}

// BackAndForthConfig tunes alternating-pair detection.
type BackAndForthConfig struct {
	Enabled                  bool          `yaml:"enabled"`
	TimeWindow               time.Duration `yaml:"time_window"`
	MinAlternations          int           `yaml:"min_alternations"`
	ValueSimilarityThreshold float64       `yaml:"value_similarity_threshold"`
	AlternationWeight        float64       `yaml:"alternation_weight"`
	ValueWeight              float64       `yaml:"value_weight"`
	FrequencyWeight          float64       `yaml:"frequency_weight"`
	MinConfidence            float64       `yaml:"min_confidence"`
}

// CircularConfig tunes circular-flow detection.
type CircularConfig struct {
	Enabled                    bool          `yaml:"enabled"`
	MaxHops                    int           `yaml:"max_hops"`
	TimeWindow                 time.Duration `yaml:"time_window"`
	MinTransactionsInCycle     int           `yaml:"min_transactions_in_cycle"`
	ValuePreservationThreshold float64       `yaml:"value_preservation_threshold"`
	PreservationWeight         float64       `yaml:"preservation_weight"`
	TemporalWeight             float64       `yaml:"temporal_weight"`
	ComplexityWeight           float64       `yaml:"complexity_weight"`
	MinConfidence              float64       `yaml:"min_confidence"`
}

// StatisticalConfig tunes the confidence boosts layered on top of the
// strategy results.
type StatisticalConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxBoost       float64 `yaml:"max_boost"`
	DiversityBoost float64 `yaml:"diversity_boost"`
	AdvancedBoost  float64 `yaml:"advanced_boost"`
}

// DefaultWashTradingConfig returns the tuning used when no file is provided.
func DefaultWashTradingConfig() *WashTradingConfig {
	return &WashTradingConfig{
		MinConfidence:       0.5,
		AnalysisWindowHours: 24,
		Cache: CacheConfig{
			MaxEntries:    10000,
			TTL:           20 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		SelfTrading: SelfTradingConfig{
			Enabled:               true,
			MaxHops:               3,
			PreservationThreshold: 0.90,
			PathWindow:            10 * time.Minute,
			MinConfidence:         0.8,
		},
		BackAndForth: BackAndForthConfig{
			Enabled:                  true,
			TimeWindow:               2 * time.Hour,
			MinAlternations:          3,
			ValueSimilarityThreshold: 0.85,
			AlternationWeight:        0.5,
			ValueWeight:              0.3,
			FrequencyWeight:          0.2,
			MinConfidence:            0.5,
		},
		Circular: CircularConfig{
			Enabled:                    true,
			MaxHops:                    5,
			TimeWindow:                 6 * time.Hour,
			MinTransactionsInCycle:     3,
			ValuePreservationThreshold: 0.80,
			PreservationWeight:         0.5,
			TemporalWeight:             0.3,
			ComplexityWeight:           0.2,
			MinConfidence:              0.5,
		},
		Statistical: StatisticalConfig{
			Enabled:        true,
			MaxBoost:       0.2,
			DiversityBoost: 0.1,
			AdvancedBoost:  0.05,
		},
	}
}

// LoadWashTradingConfig reads the tuning file, layering it over defaults.
// A missing file yields the defaults without error; a malformed file is an
// error because silently mis-tuned detection is worse than failing fast.
func LoadWashTradingConfig(path string) (*WashTradingConfig, error) {
	cfg := DefaultWashTradingConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read wash trading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse wash trading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects tunings that would disable or distort detection in
// non-obvious ways.
func (c *WashTradingConfig) Validate() error {
	for name, v := range map[string]float64{
		"min_confidence":                    c.MinConfidence,
		"self_trading.min_confidence":       c.SelfTrading.MinConfidence,
		"back_and_forth.min_confidence":     c.BackAndForth.MinConfidence,
		"circular_detection.min_confidence": c.Circular.MinConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %v out of [0,1]", name, v)
		}
	}
	if c.Circular.MaxHops < 2 {
		return fmt.Errorf("circular_detection.max_hops %d below minimum 2", c.Circular.MaxHops)
	}
	if c.BackAndForth.MinAlternations < 2 {
		return fmt.Errorf("back_and_forth.min_alternations %d below minimum 2", c.BackAndForth.MinAlternations)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	for name, w := range map[string]float64{
		"back_and_forth.alternation_weight": c.BackAndForth.AlternationWeight,
		"back_and_forth.value_weight":       c.BackAndForth.ValueWeight,
		"back_and_forth.frequency_weight":   c.BackAndForth.FrequencyWeight,
		"circular_detection.preservation_weight": c.Circular.PreservationWeight,
		"circular_detection.temporal_weight":     c.Circular.TemporalWeight,
		"circular_detection.complexity_weight":   c.Circular.ComplexityWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s %v out of [0,1]", name, w)
		}
	}
	return nil
}
