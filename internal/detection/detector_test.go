package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (s *recordingSink) Publish(_ context.Context, alert models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type recordingStore struct {
	mu    sync.Mutex
	saved int
	err   error
}

func (s *recordingStore) SaveAnalysis(context.Context, *models.TransactionEvent, *models.DetectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved++
	return nil
}

func newDetector(p Providers, sink AlertSink, store ResultStore) *FraudDetector {
	cfg := config.DetectionConfig{
		AnomalyThreshold: 0.5,
		FailOpen:         true,
		ReviewScore:      0.7,
		BatchConcurrency: 4,
	}
	engine := NewRuleEngine(config.DefaultRuleSet(), p, nil)
	scorer := NewRiskScorer(cfg, p.WalletAge, p.History, p.Denylist, nil)
	return NewFraudDetector(cfg, engine, scorer, sink, store, nil)
}

func TestAnalyzeCleanTransaction(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	res, err := d.AnalyzeTransaction(context.Background(), event("0x200", 120))
	require.NoError(t, err)

	assert.False(t, res.IsSuspicious)
	assert.Empty(t, res.TriggeredRules)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, models.RiskLevelLow, res.RiskLevel)
}

func TestAnalyzeHighValueGeneratesAlert(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	d := newDetector(Providers{}, sink, store)

	res, err := d.AnalyzeTransaction(context.Background(), event("0x201", 500000))
	require.NoError(t, err)

	assert.True(t, res.IsSuspicious)
	assert.Equal(t, []string{"high_value_transfer"}, res.TriggeredRules)
	require.Len(t, res.Alerts, 1)
	alert := res.Alerts[0]
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "0x201", alert.TransactionHash)
	assert.Equal(t, models.AlertStatusPending, alert.Status)
	assert.Equal(t, res.RiskScore, alert.RiskScore)

	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, store.saved)
}

func TestAnalyzeDenylistedIsCritical(t *testing.T) {
	denylist := &stubDenylist{listed: map[string]bool{"0xbbb": true}}
	d := newDetector(Providers{Denylist: denylist}, nil, nil)

	res, err := d.AnalyzeTransaction(context.Background(), event("0x202", 25))
	require.NoError(t, err)

	assert.True(t, res.IsSuspicious)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, models.RiskLevelCritical, res.Alerts[0].Severity)
}

func TestAnalyzeRejectsInvalidEvents(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	_, err := d.AnalyzeTransaction(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	missingHash := event("", 10)
	_, err = d.AnalyzeTransaction(context.Background(), missingHash)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	negative := event("0x203", 10)
	negative.Value = decimal.NewFromInt(-5)
	_, err = d.AnalyzeTransaction(context.Background(), negative)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	noTime := event("0x204", 10)
	noTime.Timestamp = time.Time{}
	_, err = d.AnalyzeTransaction(context.Background(), noTime)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestAnalyzeAcceptsContractCreation(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	creation := event("0x205", 10)
	creation.ToAddress = ""
	creation.TransactionType = models.TxTypeContractInteraction

	res, err := d.AnalyzeTransaction(context.Background(), creation)
	require.NoError(t, err)
	assert.False(t, res.IsSuspicious)
}

func TestAnalyzeSurvivesSinkAndStoreFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("kafka down")}
	store := &recordingStore{err: errors.New("db down")}
	d := newDetector(Providers{}, sink, store)

	res, err := d.AnalyzeTransaction(context.Background(), event("0x205", 500000))
	require.NoError(t, err)
	assert.True(t, res.IsSuspicious)
	require.Len(t, res.Alerts, 1)
}

func TestAnalyzeBatchPreservesOrder(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	var txs []*models.TransactionEvent
	for i := 0; i < 25; i++ {
		value := float64(100)
		if i%5 == 0 {
			value = 300000
		}
		txs = append(txs, event(fmt.Sprintf("0x3%02d", i), value))
	}
	results, err := d.AnalyzeBatch(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, results, len(txs))

	for i, res := range results {
		require.NotNil(t, res, "missing result at %d", i)
		assert.Equal(t, i%5 == 0, res.IsSuspicious, "index %d", i)
	}
}

func TestAnalyzeBatchIsolatesFailingMembers(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	txs := []*models.TransactionEvent{
		event("0x400", 10),
		event("", 10), // invalid, must not sink the rest of the batch
		event("0x401", 500000),
	}
	results, err := d.AnalyzeBatch(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, results, len(txs))

	assert.False(t, results[0].IsSuspicious)

	require.NotNil(t, results[1])
	assert.Equal(t, true, results[1].Context["degraded"])
	assert.False(t, results[1].IsSuspicious)
	assert.Equal(t, models.RiskLevelLow, results[1].RiskLevel)

	assert.True(t, results[2].IsSuspicious)
}

func TestDetectorStats(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	_, err := d.AnalyzeTransaction(context.Background(), event("0x500", 500000))
	require.NoError(t, err)
	_, err = d.AnalyzeTransaction(context.Background(), event("0x501", 10))
	require.NoError(t, err)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Analyzed)
	assert.Equal(t, uint64(1), stats.Suspicious)
	assert.Equal(t, uint64(1), stats.AlertsGenerated)
	assert.Equal(t, uint64(1), stats.ByRule["high_value_transfer"])

	// the snapshot is detached from live counters
	stats.ByRule["high_value_transfer"] = 99
	assert.Equal(t, uint64(1), d.Stats().ByRule["high_value_transfer"])
}

func TestDetectorReloadMidStream(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	res, err := d.AnalyzeTransaction(context.Background(), event("0x600", 500000))
	require.NoError(t, err)
	assert.Contains(t, res.TriggeredRules, "high_value_transfer")

	d.Reload(&config.RuleSet{Rules: map[string]config.RuleConfig{
		"high_value_transfer": {Enabled: true, Severity: "HIGH", Action: "alert", ThresholdUSD: 1000000},
	}})

	res, err = d.AnalyzeTransaction(context.Background(), event("0x601", 500000))
	require.NoError(t, err)
	assert.Empty(t, res.TriggeredRules)
}

func TestAnalyzeConcurrentWithReload(t *testing.T) {
	d := newDetector(Providers{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := d.AnalyzeTransaction(context.Background(), event(fmt.Sprintf("0x7%d_%d", n, j), 200000))
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < 20; i++ {
		d.Reload(config.DefaultRuleSet())
	}
	wg.Wait()
	assert.Equal(t, uint64(400), d.Stats().Analyzed)
}
