package structuring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

type memoryHistory struct {
	txs []models.TransactionEvent
	err error
}

func (m *memoryHistory) OutboundTransfers(_ context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.TransactionEvent
	for _, tx := range m.txs {
		if strings.EqualFold(tx.FromAddress, address) && !tx.Timestamp.Before(from) && !tx.Timestamp.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func transfer(hash string, value float64, at time.Time) models.TransactionEvent {
	return models.TransactionEvent{
		Hash:        hash,
		FromAddress: "0xAAA",
		ToAddress:   "0xBBB",
		Value:       decimal.NewFromFloat(value),
		Timestamp:   at,
	}
}

var start = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAnalyzeOutOfBandShortCircuits(t *testing.T) {
	svc := NewService(DefaultConfig(), &memoryHistory{err: errors.New("must not be called")}, nil)

	small := transfer("0x01", 1200, start)
	res, err := svc.Analyze(context.Background(), &small)
	require.NoError(t, err)
	assert.False(t, res.IsDetected)
	assert.Equal(t, false, res.Evidence["in_band"])

	big := transfer("0x02", 25000, start)
	res, err = svc.Analyze(context.Background(), &big)
	require.NoError(t, err)
	assert.False(t, res.IsDetected)
}

func TestAnalyzeDetectsRepeatedSubCeilingTransfers(t *testing.T) {
	// 12 transfers of $8000 inside ten minutes: $96000 moved in sub-ceiling
	// slices, well past both the count and the aggregate gates.
	history := &memoryHistory{}
	for i := 0; i < 12; i++ {
		history.txs = append(history.txs,
			transfer(fmt.Sprintf("0x1%02d", i), 8000, start.Add(time.Duration(i)*50*time.Second)))
	}
	svc := NewService(DefaultConfig(), history, nil)

	tx := history.txs[11]
	res, err := svc.Analyze(context.Background(), &tx)
	require.NoError(t, err)

	assert.True(t, res.IsDetected)
	assert.Greater(t, res.Confidence, 0.5)
	assert.Equal(t, 12, res.Count)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(96000)), "got %s", res.TotalAmount)
	assert.LessOrEqual(t, res.TimeSpan, 10*time.Minute)
	assert.Equal(t, 12, res.Evidence["related_transfers"])
}

func TestAnalyzeFewInBandTransfersBelowGates(t *testing.T) {
	// A handful of in-band transfers is not structuring: three $6000 sends
	// miss the count gate and the aggregate gate alike.
	history := &memoryHistory{txs: []models.TransactionEvent{
		transfer("0x15", 6000, start),
		transfer("0x16", 6000, start.Add(time.Hour)),
	}}
	svc := NewService(DefaultConfig(), history, nil)

	tx := transfer("0x17", 6000, start.Add(2*time.Hour))
	res, err := svc.Analyze(context.Background(), &tx)
	require.NoError(t, err)

	assert.False(t, res.IsDetected)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 3, res.Count)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(18000)))
}

func TestAnalyzeSingleInBandTransferIsClean(t *testing.T) {
	svc := NewService(DefaultConfig(), &memoryHistory{}, nil)

	tx := transfer("0x20", 9000, start)
	res, err := svc.Analyze(context.Background(), &tx)
	require.NoError(t, err)

	assert.False(t, res.IsDetected)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Evidence["related_transfers"])
}

func TestAnalyzeHeuristicFallbackOnHistoryError(t *testing.T) {
	svc := NewService(DefaultConfig(), &memoryHistory{err: errors.New("provider down")}, nil)

	near := transfer("0x30", 9600, start)
	res, err := svc.Analyze(context.Background(), &near)
	require.NoError(t, err)
	assert.True(t, res.IsDetected)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Equal(t, true, res.Evidence["heuristic"])

	mid := transfer("0x31", 7800, start)
	res, err = svc.Analyze(context.Background(), &mid)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)

	low := transfer("0x32", 6000, start)
	res, err = svc.Analyze(context.Background(), &low)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.False(t, res.IsDetected)
}

func TestAnalyzeIgnoresUnrelatedValues(t *testing.T) {
	// large and tiny transfers in the window must not count as related
	history := &memoryHistory{txs: []models.TransactionEvent{
		transfer("0x40", 50000, start),
		transfer("0x41", 12, start.Add(10*time.Minute)),
	}}
	svc := NewService(DefaultConfig(), history, nil)

	tx := transfer("0x42", 9100, start.Add(time.Hour))
	res, err := svc.Analyze(context.Background(), &tx)
	require.NoError(t, err)
	assert.False(t, res.IsDetected)
	assert.Equal(t, 1, res.Evidence["related_transfers"])
}
