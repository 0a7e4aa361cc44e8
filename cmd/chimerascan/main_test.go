package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection"
)

func newReloadDetector() *detection.FraudDetector {
	cfg := config.DetectionConfig{AnomalyThreshold: 0.5, FailOpen: true, ReviewScore: 0.7}
	engine := detection.NewRuleEngine(config.DefaultRuleSet(), detection.Providers{}, nil)
	scorer := detection.NewRiskScorer(cfg, nil, nil, nil, nil)
	return detection.NewFraudDetector(cfg, engine, scorer, nil, nil, nil)
}

func TestReloadRulesAppliesValidFile(t *testing.T) {
	detector := newReloadDetector()
	path := filepath.Join(t.TempDir(), "rules.json")
	raw := `{"institutional_rules":{"high_value_transfer":{"enabled":true,"severity":"HIGH","action":"alert","threshold_usd":5000}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	reloadRules(path, detector, zap.NewNop().Sugar())
	assert.Equal(t, []string{"high_value_transfer"}, detector.ActiveRules())
}

func TestReloadRulesKeepsActiveSetOnBadFile(t *testing.T) {
	detector := newReloadDetector()
	path := filepath.Join(t.TempDir(), "rules.json")
	raw := `{"institutional_rules":{"high_value_transfer":{"enabled":true,"severity":"HIGH","action":"alert","threshold_usd":5000}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	reloadRules(path, detector, zap.NewNop().Sugar())
	before := detector.ActiveRules()

	require.NoError(t, os.WriteFile(path, []byte("{half-written"), 0o600))
	reloadRules(path, detector, zap.NewNop().Sugar())
	assert.Equal(t, before, detector.ActiveRules())
}
