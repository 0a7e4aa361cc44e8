package washtrading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/graph"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// memoryLedger backs both the history provider and the graph data source.
type memoryLedger struct {
	txs []models.TransactionEvent
}

func (m *memoryLedger) inWindow(tx models.TransactionEvent, from, to time.Time) bool {
	return !tx.Timestamp.Before(from) && !tx.Timestamp.After(to)
}

func (m *memoryLedger) TransactionsByAddress(_ context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	for _, tx := range m.txs {
		if (strings.EqualFold(tx.FromAddress, address) || strings.EqualFold(tx.ToAddress, address)) && m.inWindow(tx, from, to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memoryLedger) AddressHistory(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	return m.TransactionsByAddress(ctx, address, from, to)
}

func (m *memoryLedger) PairHistory(_ context.Context, a, b string, from, to time.Time) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	for _, tx := range m.txs {
		fwd := strings.EqualFold(tx.FromAddress, a) && strings.EqualFold(tx.ToAddress, b)
		rev := strings.EqualFold(tx.FromAddress, b) && strings.EqualFold(tx.ToAddress, a)
		if (fwd || rev) && m.inWindow(tx, from, to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func ledgerTx(hash, from, to string, value int64, at time.Time) models.TransactionEvent {
	return models.TransactionEvent{
		Hash:        hash,
		FromAddress: from,
		ToAddress:   to,
		Value:       decimal.NewFromInt(value),
		Timestamp:   at,
	}
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDetector(ledger *memoryLedger) *Detector {
	cfg := config.DefaultWashTradingConfig()
	g := graph.NewProvider(ledger, nil)
	return NewDetector(cfg, ledger, g, nil)
}

func TestDetectDirectSelfTrade(t *testing.T) {
	ledger := &memoryLedger{}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x01", "0xAAA", "0xaaa", 1000, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.True(t, res.IsDetected)
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
	require.NotEmpty(t, res.Patterns)
	assert.Equal(t, PatternSelfTrading, res.Patterns[0].Type)
	assert.Equal(t, true, res.Patterns[0].Evidence["direct"])
}

func TestDetectBackAndForthPair(t *testing.T) {
	ledger := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0x10", "0xAAA", "0xBBB", 500, base),
		ledgerTx("0x11", "0xBBB", "0xAAA", 495, base.Add(10*time.Minute)),
		ledgerTx("0x12", "0xAAA", "0xBBB", 498, base.Add(20*time.Minute)),
		ledgerTx("0x13", "0xBBB", "0xAAA", 492, base.Add(30*time.Minute)),
	}}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x14", "0xAAA", "0xBBB", 496, base.Add(40*time.Minute))
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.True(t, res.IsDetected)
	found := false
	for _, p := range res.Patterns {
		if p.Type == PatternBackAndForth {
			found = true
			assert.GreaterOrEqual(t, p.Evidence["alternations"].(int), 3)
		}
	}
	assert.True(t, found, "expected a back and forth pattern")
}

func TestDetectCircularFlow(t *testing.T) {
	ledger := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0x20", "0xAAA", "0xBBB", 1000, base),
		ledgerTx("0x21", "0xBBB", "0xCCC", 980, base.Add(5*time.Minute)),
		ledgerTx("0x22", "0xCCC", "0xAAA", 950, base.Add(10*time.Minute)),
	}}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x20", "0xAAA", "0xBBB", 1000, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.True(t, res.IsDetected)
	var circular *Pattern
	for i := range res.Patterns {
		if res.Patterns[i].Type == PatternCircular {
			circular = &res.Patterns[i]
		}
	}
	require.NotNil(t, circular, "expected a circular pattern")
	assert.Equal(t, 3, circular.Evidence["hops"])
	assert.GreaterOrEqual(t, circular.Confidence, 0.5)
}

func TestDetectCleanTransaction(t *testing.T) {
	ledger := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0x30", "0xDDD", "0xEEE", 120, base.Add(-3*time.Hour)),
	}}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x31", "0xAAA", "0xBBB", 250, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.False(t, res.IsDetected)
	assert.Zero(t, res.Confidence)
	assert.Empty(t, res.Patterns)
}

func TestDetectIsIdempotentViaCache(t *testing.T) {
	ledger := &memoryLedger{}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x40", "0xAAA", "0xAAA", 777, base)
	first, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)
	assert.True(t, second.FromCache)

	second.FromCache = first.FromCache
	assert.Equal(t, first, second)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Analyzed)
	assert.Equal(t, uint64(1), stats.CacheHits)
}

func TestCacheExpiry(t *testing.T) {
	ledger := &memoryLedger{}
	cfg := config.DefaultWashTradingConfig()
	cfg.Cache.TTL = time.Millisecond
	d := NewDetector(cfg, ledger, graph.NewProvider(ledger, nil), nil)

	tx := ledgerTx("0x50", "0xAAA", "0xAAA", 1, base)
	_, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)
	assert.False(t, res.FromCache, "expired entry must be recomputed")
}

func TestCacheBounded(t *testing.T) {
	ledger := &memoryLedger{}
	cfg := config.DefaultWashTradingConfig()
	cfg.Cache.MaxEntries = 5
	d := NewDetector(cfg, ledger, graph.NewProvider(ledger, nil), nil)

	for i := 0; i < 20; i++ {
		tx := ledgerTx(string(rune('a'+i)), "0xAAA", "0xBBB", int64(i), base)
		_, err := d.Detect(context.Background(), &tx)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, d.Stats().CacheSize, 5)
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }
func (failingStrategy) Detect(context.Context, *models.TransactionEvent) ([]Pattern, error) {
	return nil, errors.New("upstream unavailable")
}

type fixedStrategy struct{ confidence float64 }

func (fixedStrategy) Name() string { return "fixed" }
func (s fixedStrategy) Detect(_ context.Context, tx *models.TransactionEvent) ([]Pattern, error) {
	return []Pattern{{Type: PatternBackAndForth, Confidence: s.confidence, TxHashes: []string{tx.Hash}}}, nil
}

func TestDetectSurvivesFailingStrategy(t *testing.T) {
	cfg := config.DefaultWashTradingConfig()
	d := NewDetectorWithStrategies(cfg, nil, nil, failingStrategy{}, fixedStrategy{confidence: 0.8})

	tx := ledgerTx("0x60", "0xAAA", "0xBBB", 10, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.True(t, res.IsDetected)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestSynthesisDiversityBoost(t *testing.T) {
	cfg := config.DefaultWashTradingConfig()
	multi := NewDetectorWithStrategies(cfg, nil, nil,
		fixedStrategy{confidence: 0.6},
		fixedTypeStrategy{ptype: PatternCircular, confidence: 0.6})

	tx := ledgerTx("0x70", "0xAAA", "0xBBB", 10, base)
	res, err := multi.Detect(context.Background(), &tx)
	require.NoError(t, err)

	// 0.6 base + 0.1 diversity + 0.05 routed
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
}

func TestStrategyConfidenceFloorSuppressesWeakPatterns(t *testing.T) {
	ledger := &memoryLedger{}
	cfg := config.DefaultWashTradingConfig()
	cfg.SelfTrading.MinConfidence = 0.96 // above what a direct self-trade scores
	d := NewDetector(cfg, ledger, graph.NewProvider(ledger, nil), nil)

	tx := ledgerTx("0x80", "0xAAA", "0xaaa", 1000, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	assert.False(t, res.IsDetected)
	assert.Empty(t, res.Patterns)
}

func TestDetectCircularFlagsEngineeredPreservation(t *testing.T) {
	// the loop returns the full round amount, dips excluded: an engineered
	// preservation profile
	ledger := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0x90", "0xAAA", "0xBBB", 1000, base),
		ledgerTx("0x91", "0xBBB", "0xCCC", 995, base.Add(5*time.Minute)),
		ledgerTx("0x92", "0xCCC", "0xAAA", 1000, base.Add(10*time.Minute)),
	}}
	d := newTestDetector(ledger)

	tx := ledgerTx("0x90", "0xAAA", "0xBBB", 1000, base)
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)

	require.True(t, res.IsDetected)
	var circular *Pattern
	for i := range res.Patterns {
		if res.Patterns[i].Type == PatternCircular {
			circular = &res.Patterns[i]
		}
	}
	require.NotNil(t, circular, "expected a circular pattern")
	assert.Equal(t, true, circular.Evidence["artificial_preservation"])
}

func TestStatisticalBoostNeedsStrongRegularity(t *testing.T) {
	cfg := config.DefaultWashTradingConfig()

	// machine-regular history: identical values on a fixed cadence
	regular := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0xa0", "0xAAA", "0xBBB", 700, base),
		ledgerTx("0xa1", "0xAAA", "0xBBB", 700, base.Add(10*time.Minute)),
		ledgerTx("0xa2", "0xAAA", "0xBBB", 700, base.Add(20*time.Minute)),
		ledgerTx("0xa3", "0xAAA", "0xBBB", 700, base.Add(30*time.Minute)),
	}}
	d := NewDetectorWithStrategies(cfg, regular, nil, fixedStrategy{confidence: 0.6})
	tx := ledgerTx("0xa4", "0xAAA", "0xBBB", 700, base.Add(40*time.Minute))
	res, err := d.Detect(context.Background(), &tx)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	// organic history must not inflate the pattern confidence at all
	organic := &memoryLedger{txs: []models.TransactionEvent{
		ledgerTx("0xb0", "0xAAA", "0xBBB", 700, base),
		ledgerTx("0xb1", "0xAAA", "0xBBB", 12, base.Add(time.Minute)),
		ledgerTx("0xb2", "0xAAA", "0xBBB", 90000, base.Add(3*time.Hour+time.Minute)),
		ledgerTx("0xb3", "0xAAA", "0xBBB", 45, base.Add(3*time.Hour+time.Minute+7*time.Second)),
	}}
	d = NewDetectorWithStrategies(cfg, organic, nil, fixedStrategy{confidence: 0.6})
	tx = ledgerTx("0xb4", "0xAAA", "0xBBB", 333, base.Add(4*time.Hour))
	res, err = d.Detect(context.Background(), &tx)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, res.Confidence, 1e-9)
}

type fixedTypeStrategy struct {
	ptype      PatternType
	confidence float64
}

func (fixedTypeStrategy) Name() string { return "fixed_type" }
func (s fixedTypeStrategy) Detect(_ context.Context, tx *models.TransactionEvent) ([]Pattern, error) {
	return []Pattern{{Type: s.ptype, Confidence: s.confidence, TxHashes: []string{tx.Hash}}}, nil
}
