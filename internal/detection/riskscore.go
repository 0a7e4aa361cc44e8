package detection

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/analyzers"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Factor weights. Scores are weight-normalized over the factors that could
// actually be computed, so a missing provider shifts weight onto the rest
// instead of silently deflating the score.
const (
	walletAgeWeight = 0.25
	frequencyWeight = 0.15
	valueWeight     = 0.20
	timingWeight    = 0.15
	networkWeight   = 0.25

	compoundingBonus    = 0.10
	contractBonus       = 0.05
	lowConfidenceFactor = 0.80
)

const (
	// reportingCeilingUSD is the regulatory reporting threshold values tend
	// to cluster just under when a transfer is being structured.
	reportingCeilingUSD = 10000

	frequencyWindow = time.Hour
	fanOutWindow    = 24 * time.Hour

	// both frequency and fan-out saturate at 20 within their windows
	frequencySaturation = 20
	fanOutSaturation    = 20
)

// ScoreBreakdown is the scored risk assessment for one transaction.
type ScoreBreakdown struct {
	Score      float64             `json:"score"`
	Level      models.RiskLevel    `json:"level"`
	Factors    []models.RiskFactor `json:"factors"`
	Confidence float64             `json:"confidence"`
	// Degraded marks scores produced under the failure policy rather than
	// from factor evidence.
	Degraded bool `json:"degraded,omitempty"`
}

// RiskScorer synthesizes a [0,1] risk score from five independent factors:
// wallet age, transaction frequency, value pattern, time pattern and the
// network signal. Factors whose provider is missing are skipped and lower
// the scoring confidence.
type RiskScorer struct {
	cfg      config.DetectionConfig
	oracle   WalletAgeOracle
	history  TransferHistory
	denylist DenylistProvider
	logger   *zap.SugaredLogger
}

func NewRiskScorer(cfg config.DetectionConfig, oracle WalletAgeOracle, history TransferHistory, denylist DenylistProvider, logger *zap.SugaredLogger) *RiskScorer {
	return &RiskScorer{cfg: cfg, oracle: oracle, history: history, denylist: denylist, logger: logger}
}

// Score computes the weighted risk score. Individual factor failures drop
// the factor and lower the scoring confidence. When no factor at all can
// be computed the configured failure policy decides the outcome: fail-open
// returns zero risk, fail-safe returns the review score.
func (s *RiskScorer) Score(ctx context.Context, tx *models.TransactionEvent) (breakdown ScoreBreakdown) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Errorw("risk scoring panicked", "tx", tx.Hash, "panic", r)
			}
			breakdown = s.degraded(tx)
		}
	}()

	factors := make([]models.RiskFactor, 0, 5)

	if age, ok := s.walletAge(ctx, tx); ok {
		factors = append(factors, models.RiskFactor{
			Name:     "wallet_age",
			Score:    walletAgeScore(age),
			Weight:   walletAgeWeight,
			Evidence: map[string]interface{}{"age_hours": age},
		})
	}

	if freq, count, ok := s.frequencyScore(ctx, tx); ok {
		factors = append(factors, models.RiskFactor{
			Name:     "transaction_frequency",
			Score:    freq,
			Weight:   frequencyWeight,
			Evidence: map[string]interface{}{"transfers_last_hour": count},
		})
	}

	factors = append(factors, models.RiskFactor{
		Name:   "value_pattern",
		Score:  valuePatternScore(tx),
		Weight: valueWeight,
	})

	factors = append(factors, models.RiskFactor{
		Name:   "time_pattern",
		Score:  timingScore(tx.Timestamp),
		Weight: timingWeight,
	})

	if network, evidence, ok := s.networkScore(ctx, tx); ok {
		factors = append(factors, models.RiskFactor{
			Name:     "network",
			Score:    network,
			Weight:   networkWeight,
			Evidence: evidence,
		})
	}

	if len(factors) == 0 {
		return s.degraded(tx)
	}

	weightSum := 0.0
	weighted := 0.0
	for _, f := range factors {
		weightSum += f.Weight
		weighted += f.Weight * f.Score
	}
	score := weighted / weightSum

	// compounding signals push the score up
	strong := 0
	for _, f := range factors {
		if f.Score > 0.7 {
			strong++
		}
	}
	if strong >= 2 {
		score += compoundingBonus
	}
	if tx.TransactionType == models.TxTypeContractInteraction {
		score += contractBonus
	}

	confidence := float64(len(factors)) / 5
	if confidence < 0.6 {
		score *= lowConfidenceFactor
	}
	score = models.Clamp01(score)

	return ScoreBreakdown{
		Score:      score,
		Level:      models.RiskLevelFromScore(score),
		Factors:    factors,
		Confidence: confidence,
	}
}

func (s *RiskScorer) degraded(tx *models.TransactionEvent) ScoreBreakdown {
	score := 0.0
	if !s.cfg.FailOpen {
		score = s.cfg.ReviewScore
	}
	if s.logger != nil {
		s.logger.Errorw("risk scoring degraded, applying failure policy",
			"tx", tx.Hash, "fail_open", s.cfg.FailOpen, "score", score)
	}
	return ScoreBreakdown{
		Score:    score,
		Level:    models.RiskLevelFromScore(score),
		Degraded: true,
	}
}

func (s *RiskScorer) walletAge(ctx context.Context, tx *models.TransactionEvent) (float64, bool) {
	if tx.FundedDateFrom != nil {
		return tx.Timestamp.Sub(*tx.FundedDateFrom).Hours(), true
	}
	if s.oracle == nil {
		return 0, false
	}
	age, err := s.oracle.WalletAgeHours(ctx, tx.FromAddress, tx.Timestamp)
	if err != nil {
		if s.logger != nil {
			s.logger.Debugw("wallet age unavailable", "address", tx.FromAddress, "error", err)
		}
		return 0, false
	}
	return age, true
}

// frequencyScore counts the sender's outbound transfers in the trailing
// hour. Twenty or more saturate the factor.
func (s *RiskScorer) frequencyScore(ctx context.Context, tx *models.TransactionEvent) (float64, int, bool) {
	if s.history == nil {
		return 0, 0, false
	}
	txs, err := s.history.OutboundTransfers(ctx, tx.FromAddress,
		tx.Timestamp.Add(-frequencyWindow), tx.Timestamp)
	if err != nil {
		if s.logger != nil {
			s.logger.Debugw("history unavailable for frequency factor",
				"address", tx.FromAddress, "error", err)
		}
		return 0, 0, false
	}
	count := 0
	for _, h := range txs {
		if h.Hash != tx.Hash {
			count++
		}
	}
	return models.Clamp01(float64(count) / frequencySaturation), count, true
}

// networkScore reflects who the transaction touches. A denylisted party
// maxes the factor outright; otherwise a wide counterparty fan-out over
// the trailing day stands in as a mixer-like signal.
func (s *RiskScorer) networkScore(ctx context.Context, tx *models.TransactionEvent) (float64, map[string]interface{}, bool) {
	if s.denylist != nil {
		for _, address := range []string{tx.FromAddress, tx.ToAddress} {
			if address == "" {
				continue
			}
			listed, err := s.denylist.IsDenylisted(ctx, address)
			if err != nil {
				break
			}
			if listed {
				return 1.0, map[string]interface{}{"denylisted": address}, true
			}
		}
	}

	if s.history == nil {
		if s.denylist == nil {
			return 0, nil, false
		}
		return 0, map[string]interface{}{"denylisted": false}, true
	}
	txs, err := s.history.OutboundTransfers(ctx, tx.FromAddress,
		tx.Timestamp.Add(-fanOutWindow), tx.Timestamp)
	if err != nil {
		if s.denylist == nil {
			return 0, nil, false
		}
		return 0, map[string]interface{}{"denylisted": false}, true
	}
	peers := make(map[string]struct{}, len(txs))
	for _, h := range txs {
		if h.ToAddress != "" && !h.IsSelfTransfer() {
			peers[strings.ToLower(h.ToAddress)] = struct{}{}
		}
	}
	score := models.Clamp01(float64(len(peers)) / fanOutSaturation)
	return score, map[string]interface{}{"distinct_counterparties": len(peers)}, true
}

// valuePatternScore grows logarithmically with magnitude (1k USD scores 0,
// 1M USD saturates) and is bumped for engineered-looking amounts: round
// numbers at meaningful size, and values parked just under the reporting
// ceiling.
func valuePatternScore(tx *models.TransactionEvent) float64 {
	value, _ := tx.Value.Float64()
	score := 0.0
	if value >= 1000 {
		score = models.Clamp01(math.Log10(value/1000) / 3)
		if analyzers.IsRoundAmount(tx.Value) {
			score += 0.25
		}
	}
	if value >= 0.9*reportingCeilingUSD && value < reportingCeilingUSD {
		score += 0.35
	}
	return models.Clamp01(score)
}

// walletAgeScore is 1 for a brand new wallet and fades to 0 over a week.
func walletAgeScore(ageHours float64) float64 {
	const week = 168.0
	if ageHours <= 0 {
		return 1
	}
	return models.Clamp01(1 - ageHours/week)
}

func timingScore(at time.Time) float64 {
	utc := at.UTC()
	switch {
	case inOffHours(utc.Hour(), offHoursStartHour, offHoursEndHour):
		return 0.6
	case utc.Weekday() == time.Saturday || utc.Weekday() == time.Sunday:
		return 0.4
	default:
		return 0.1
	}
}
