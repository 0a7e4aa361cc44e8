package washtrading

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/analyzers"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/graph"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

const (
	directSelfTradeConfidence = 0.95
	routedSelfTradeConfidence = 0.85
)

// SelfTradingStrategy flags transfers where sender and receiver are the
// same wallet, directly or through a short routing path that returns the
// value to its origin.
type SelfTradingStrategy struct {
	cfg    config.SelfTradingConfig
	graph  *graph.Provider
	logger *zap.SugaredLogger
}

func NewSelfTradingStrategy(cfg config.SelfTradingConfig, g *graph.Provider, logger *zap.SugaredLogger) *SelfTradingStrategy {
	return &SelfTradingStrategy{cfg: cfg, graph: g, logger: logger}
}

func (s *SelfTradingStrategy) Name() string { return "self_trading" }

func (s *SelfTradingStrategy) Detect(ctx context.Context, tx *models.TransactionEvent) ([]Pattern, error) {
	if tx.IsSelfTransfer() {
		if directSelfTradeConfidence < s.cfg.MinConfidence {
			return nil, nil
		}
		return []Pattern{{
			Type:       PatternSelfTrading,
			Confidence: directSelfTradeConfidence,
			Addresses:  []string{strings.ToLower(tx.FromAddress)},
			TxHashes:   []string{tx.Hash},
			Evidence: map[string]interface{}{
				"direct": true,
				"value":  tx.Value.String(),
			},
			DetectedAt: time.Now().UTC(),
		}}, nil
	}

	if s.graph == nil || routedSelfTradeConfidence < s.cfg.MinConfidence {
		return nil, nil
	}
	// look for the value returning to the sender through a few hops
	paths, err := s.graph.FindPaths(ctx, tx.FromAddress, s.cfg.MaxHops,
		tx.Timestamp.Add(-s.cfg.PathWindow), tx.Timestamp.Add(s.cfg.PathWindow))
	if err != nil {
		return nil, fmt.Errorf("self trading path search: %w", err)
	}

	var patterns []Pattern
	for _, path := range paths {
		if !path.IsCycle || path.Preservation <= s.cfg.PreservationThreshold {
			continue
		}
		if path.Duration > s.cfg.PathWindow {
			continue
		}
		hashes := make([]string, 0, len(path.Transactions))
		for _, ptx := range path.Transactions {
			hashes = append(hashes, ptx.Hash)
		}
		patterns = append(patterns, Pattern{
			Type:       PatternSelfTrading,
			Confidence: routedSelfTradeConfidence,
			Addresses:  path.Addresses,
			TxHashes:   hashes,
			Evidence: map[string]interface{}{
				"direct":       false,
				"hops":         path.Hops,
				"preservation": path.Preservation,
				"duration":     path.Duration.String(),
			},
			DetectedAt: time.Now().UTC(),
		})
	}
	return patterns, nil
}

// BackAndForthStrategy flags pairs of wallets that trade the same value
// repeatedly in alternating directions.
type BackAndForthStrategy struct {
	cfg     config.BackAndForthConfig
	history HistoryProvider
	logger  *zap.SugaredLogger
}

func NewBackAndForthStrategy(cfg config.BackAndForthConfig, history HistoryProvider, logger *zap.SugaredLogger) *BackAndForthStrategy {
	return &BackAndForthStrategy{cfg: cfg, history: history, logger: logger}
}

func (s *BackAndForthStrategy) Name() string { return "back_and_forth" }

func (s *BackAndForthStrategy) Detect(ctx context.Context, tx *models.TransactionEvent) ([]Pattern, error) {
	if tx.IsSelfTransfer() {
		return nil, nil
	}
	txs, err := s.history.PairHistory(ctx, tx.FromAddress, tx.ToAddress,
		tx.Timestamp.Add(-s.cfg.TimeWindow), tx.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("pair history: %w", err)
	}
	txs = appendIfMissing(txs, *tx)
	if len(txs) < s.cfg.MinAlternations+1 {
		return nil, nil
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.Before(txs[j].Timestamp)
		}
		return txs[i].Hash < txs[j].Hash
	})

	alternations := 0
	similaritySum := 0.0
	for i := 1; i < len(txs); i++ {
		if !strings.EqualFold(txs[i].FromAddress, txs[i-1].FromAddress) {
			alternations++
		}
		similaritySum += analyzers.ValueSimilarity(txs[i].Value, txs[i-1].Value)
	}
	if alternations < s.cfg.MinAlternations {
		return nil, nil
	}

	meanSimilarity := similaritySum / float64(len(txs)-1)
	if meanSimilarity < s.cfg.ValueSimilarityThreshold {
		return nil, nil
	}

	// score how completely the sequence alternates, how alike the values
	// are, and how dense the activity is for the window
	alternationScore := float64(alternations) / float64(len(txs)-1)
	frequencyScore := math.Min(1, float64(len(txs))/(s.cfg.TimeWindow.Hours()*4))
	confidence := models.Clamp01(s.cfg.AlternationWeight*alternationScore +
		s.cfg.ValueWeight*meanSimilarity +
		s.cfg.FrequencyWeight*frequencyScore)
	if confidence < s.cfg.MinConfidence {
		return nil, nil
	}

	hashes := make([]string, 0, len(txs))
	for _, ptx := range txs {
		hashes = append(hashes, ptx.Hash)
	}
	return []Pattern{{
		Type:       PatternBackAndForth,
		Confidence: confidence,
		Addresses:  []string{strings.ToLower(tx.FromAddress), strings.ToLower(tx.ToAddress)},
		TxHashes:   hashes,
		Evidence: map[string]interface{}{
			"alternations":    alternations,
			"tx_count":        len(txs),
			"mean_similarity": meanSimilarity,
			"window":          s.cfg.TimeWindow.String(),
		},
		DetectedAt: time.Now().UTC(),
	}}, nil
}

// CircularStrategy flags value that travels a loop of wallets and arrives
// back where it started mostly intact.
type CircularStrategy struct {
	cfg    config.CircularConfig
	graph  *graph.Provider
	logger *zap.SugaredLogger
}

func NewCircularStrategy(cfg config.CircularConfig, g *graph.Provider, logger *zap.SugaredLogger) *CircularStrategy {
	return &CircularStrategy{cfg: cfg, graph: g, logger: logger}
}

func (s *CircularStrategy) Name() string { return "circular_detection" }

func (s *CircularStrategy) Detect(ctx context.Context, tx *models.TransactionEvent) ([]Pattern, error) {
	if tx.IsSelfTransfer() {
		return nil, nil
	}
	paths, err := s.graph.FindPaths(ctx, tx.FromAddress, s.cfg.MaxHops,
		tx.Timestamp.Add(-s.cfg.TimeWindow), tx.Timestamp.Add(s.cfg.TimeWindow))
	if err != nil {
		return nil, fmt.Errorf("circular path search: %w", err)
	}

	var patterns []Pattern
	for _, path := range paths {
		if !path.IsCycle {
			continue
		}
		if len(path.Transactions) < s.cfg.MinTransactionsInCycle {
			continue
		}
		chain := make([]decimal.Decimal, 0, len(path.Transactions))
		for _, ptx := range path.Transactions {
			chain = append(chain, ptx.Value)
		}
		preservation := analyzers.DetectVolumePreservation(chain, s.cfg.ValuePreservationThreshold)
		if !preservation.Preserved {
			continue
		}

		temporal := 1 - path.Duration.Seconds()/s.cfg.TimeWindow.Seconds()
		if temporal < 0 {
			temporal = 0
		}
		complexity := math.Min(1, float64(path.Hops)/float64(s.cfg.MaxHops))
		confidence := models.Clamp01(s.cfg.PreservationWeight*preservation.Ratio +
			s.cfg.TemporalWeight*temporal +
			s.cfg.ComplexityWeight*complexity)
		if confidence < s.cfg.MinConfidence {
			continue
		}

		hashes := make([]string, 0, len(path.Transactions))
		for _, ptx := range path.Transactions {
			hashes = append(hashes, ptx.Hash)
		}
		ptype := PatternCircular
		if path.Hops > 3 {
			ptype = PatternMultiHop
		}
		patterns = append(patterns, Pattern{
			Type:       ptype,
			Confidence: confidence,
			Addresses:  path.Addresses,
			TxHashes:   hashes,
			Evidence: map[string]interface{}{
				"hops":                    path.Hops,
				"preservation":            preservation.Ratio,
				"artificial_preservation": preservation.Artificial,
				"duration":                path.Duration.String(),
			},
			DetectedAt: time.Now().UTC(),
		})
	}
	return patterns, nil
}

func appendIfMissing(txs []models.TransactionEvent, tx models.TransactionEvent) []models.TransactionEvent {
	for _, existing := range txs {
		if existing.Hash == tx.Hash {
			return txs
		}
	}
	return append(txs, tx)
}
