// Package structuring detects value splitting: breaking a large transfer
// into several transfers kept just below a reporting ceiling.
package structuring

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/analyzers"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Config tunes the structuring detector.
type Config struct {
	// ReportingCeilingUSD is the threshold structurers stay under.
	ReportingCeilingUSD float64 `yaml:"reporting_ceiling_usd"`
	// BandLow and BandHigh bound the suspicious fraction of the ceiling.
	// Values below BandLow×ceiling are ordinary small transfers, values at
	// or above the ceiling are reported anyway.
	BandLow  float64 `yaml:"band_low"`
	BandHigh float64 `yaml:"band_high"`
	// Window is how far back related transfers are considered.
	Window time.Duration `yaml:"window"`
	// MinCount is the number of in-band transfers, current one included,
	// a history-based detection needs.
	MinCount int `yaml:"min_count"`
	// TotalThresholdUSD is the aggregate value the related transfers must
	// reach. Both gates have to hold before any confidence is computed.
	TotalThresholdUSD float64 `yaml:"total_threshold_usd"`
	// MinConfidence gates detection.
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		ReportingCeilingUSD: 10000,
		BandLow:             0.5,
		BandHigh:            1.0,
		Window:              24 * time.Hour,
		MinCount:            10,
		TotalThresholdUSD:   50000,
		MinConfidence:       0.5,
	}
}

// Result is the outcome of structuring analysis for one transaction.
type Result struct {
	IsDetected  bool                   `json:"is_detected"`
	Confidence  float64                `json:"confidence"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Count       int                    `json:"count"`
	TimeSpan    time.Duration          `json:"time_span"`
	Evidence    map[string]interface{} `json:"evidence"`
}

// HistoryProvider supplies the sender's recent outbound transfers.
type HistoryProvider interface {
	OutboundTransfers(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error)
}

const (
	countWeight       = 0.3
	consistencyWeight = 0.3
	timingWeight      = 0.2
	proximityWeight   = 0.2
)

// Service analyzes transactions for structuring. Stateless and safe for
// concurrent use.
type Service struct {
	cfg      Config
	history  HistoryProvider
	temporal *analyzers.TemporalAnalyzer
	logger   *zap.SugaredLogger
}

func NewService(cfg Config, history HistoryProvider, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:      cfg,
		history:  history,
		temporal: analyzers.NewTemporalAnalyzer(logger),
		logger:   logger,
	}
}

// Analyze scores one transaction. Values outside the suspicious band short
// circuit to a clean result without touching history. When history is
// unavailable the proximity heuristic stands in, so a provider outage
// degrades precision instead of blinding the detector.
func (s *Service) Analyze(ctx context.Context, tx *models.TransactionEvent) (Result, error) {
	value, _ := tx.Value.Float64()
	ceiling := s.cfg.ReportingCeilingUSD
	if value < s.cfg.BandLow*ceiling || value >= s.cfg.BandHigh*ceiling {
		return Result{Evidence: map[string]interface{}{"in_band": false}}, nil
	}
	proximity := value / ceiling

	if s.history == nil {
		return s.heuristic(proximity), nil
	}
	related, err := s.relatedTransfers(ctx, tx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warnw("history unavailable, falling back to proximity heuristic",
				"address", tx.FromAddress, "error", err)
		}
		return s.heuristic(proximity), nil
	}
	total := decimal.Zero
	earliest, latest := related[0].Timestamp, related[0].Timestamp
	for _, r := range related {
		total = total.Add(r.Value)
		if r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	span := latest.Sub(earliest)
	totalf, _ := total.Float64()

	if len(related) < s.cfg.MinCount || totalf < s.cfg.TotalThresholdUSD {
		return Result{
			Confidence:  0,
			TotalAmount: total,
			Count:       len(related),
			TimeSpan:    span,
			Evidence: map[string]interface{}{
				"in_band":           true,
				"related_transfers": len(related),
				"total_usd":         totalf,
			},
		}, nil
	}

	countScore := minf(1, float64(len(related))/float64(2*s.cfg.MinCount))
	consistency := valueConsistency(related)
	timestamps := make([]time.Time, len(related))
	for i, r := range related {
		timestamps[i] = r.Timestamp
	}
	timing := s.temporal.AnalyzeTimingPatterns(timestamps).OverallScore

	confidence := countWeight*countScore +
		consistencyWeight*consistency +
		timingWeight*timing +
		proximityWeight*proximity
	confidence = models.Clamp01(confidence)

	return Result{
		IsDetected:  confidence >= s.cfg.MinConfidence,
		Confidence:  confidence,
		TotalAmount: total,
		Count:       len(related),
		TimeSpan:    span,
		Evidence: map[string]interface{}{
			"in_band":           true,
			"related_transfers": len(related),
			"total_usd":         totalf,
			"count_score":       countScore,
			"consistency":       consistency,
			"timing":            timing,
			"ceiling_proximity": proximity,
		},
	}, nil
}

// relatedTransfers returns the sender's in-band outbound transfers inside
// the window, the analyzed transaction included.
func (s *Service) relatedTransfers(ctx context.Context, tx *models.TransactionEvent) ([]models.TransactionEvent, error) {
	txs, err := s.history.OutboundTransfers(ctx, tx.FromAddress,
		tx.Timestamp.Add(-s.cfg.Window), tx.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("outbound transfers: %w", err)
	}
	low := decimal.NewFromFloat(s.cfg.BandLow * s.cfg.ReportingCeilingUSD)
	high := decimal.NewFromFloat(s.cfg.BandHigh * s.cfg.ReportingCeilingUSD)

	related := make([]models.TransactionEvent, 0, len(txs)+1)
	seen := false
	for _, h := range txs {
		if h.Value.LessThan(low) || h.Value.GreaterThanOrEqual(high) {
			continue
		}
		if h.Hash == tx.Hash {
			seen = true
		}
		related = append(related, h)
	}
	if !seen {
		related = append(related, *tx)
	}
	return related, nil
}

// heuristic scores by ceiling proximity alone. The closer a transfer sits
// under the ceiling, the less likely the amount is coincidental.
func (s *Service) heuristic(proximity float64) Result {
	confidence := 0.3
	switch {
	case proximity >= 0.9:
		confidence = 0.7
	case proximity >= 0.75:
		confidence = 0.5
	}
	return Result{
		IsDetected: confidence >= s.cfg.MinConfidence,
		Confidence: confidence,
		Evidence: map[string]interface{}{
			"in_band":           true,
			"heuristic":         true,
			"ceiling_proximity": proximity,
		},
	}
}

func valueConsistency(txs []models.TransactionEvent) float64 {
	if len(txs) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(txs); i++ {
		sum += analyzers.ValueSimilarity(txs[i].Value, txs[i-1].Value)
	}
	return sum / float64(len(txs)-1)
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
