package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// ErrInvalidTransaction rejects events missing their identifying fields.
var ErrInvalidTransaction = errors.New("invalid transaction event")

// AlertSink receives generated alerts. Delivery is best effort, a failing
// sink never fails the analysis.
type AlertSink interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// ResultStore persists analysis outcomes. Best effort as well.
type ResultStore interface {
	SaveAnalysis(ctx context.Context, tx *models.TransactionEvent, result *models.DetectionResult) error
}

// DetectorStats is a snapshot of the engine counters.
type DetectorStats struct {
	Analyzed        uint64            `json:"analyzed"`
	Suspicious      uint64            `json:"suspicious"`
	AlertsGenerated uint64            `json:"alerts_generated"`
	ByRule          map[string]uint64 `json:"by_rule"`
	StartedAt       time.Time         `json:"started_at"`
}

// FraudDetector coordinates rule evaluation, risk scoring, alert dispatch
// and persistence for incoming transactions.
type FraudDetector struct {
	cfg    config.DetectionConfig
	engine *RuleEngine
	scorer *RiskScorer
	sink   AlertSink
	store  ResultStore
	logger *zap.SugaredLogger

	mu      sync.Mutex
	stats   DetectorStats
	started time.Time
}

func NewFraudDetector(cfg config.DetectionConfig, engine *RuleEngine, scorer *RiskScorer, sink AlertSink, store ResultStore, logger *zap.SugaredLogger) *FraudDetector {
	return &FraudDetector{
		cfg:     cfg,
		engine:  engine,
		scorer:  scorer,
		sink:    sink,
		store:   store,
		logger:  logger,
		stats:   DetectorStats{ByRule: make(map[string]uint64), StartedAt: time.Now().UTC()},
		started: time.Now().UTC(),
	}
}

// AnalyzeTransaction runs the full pipeline for one transaction: rule
// evaluation, risk scoring, alert generation, best-effort dispatch and
// persistence.
func (d *FraudDetector) AnalyzeTransaction(ctx context.Context, tx *models.TransactionEvent) (*models.DetectionResult, error) {
	if err := validate(tx); err != nil {
		return nil, err
	}
	if d.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProviderTimeout)
		defer cancel()
	}

	ruleResults := d.engine.Evaluate(ctx, tx)
	breakdown := d.scorer.Score(ctx, tx)

	result := &models.DetectionResult{
		RiskScore: breakdown.Score,
		RiskLevel: breakdown.Level,
		Context: map[string]interface{}{
			"factors":        breakdown.Factors,
			"score_degraded": breakdown.Degraded,
		},
	}
	for _, rr := range ruleResults {
		result.TriggeredRules = append(result.TriggeredRules, rr.RuleName)
		if rr.GenerateAlert {
			result.Alerts = append(result.Alerts, d.buildAlert(tx, rr, breakdown.Score))
		}
	}
	result.IsSuspicious = len(ruleResults) > 0 || breakdown.Score >= d.cfg.AnomalyThreshold

	d.dispatch(ctx, result.Alerts)
	d.persist(ctx, tx, result)
	d.record(result)

	if d.logger != nil && result.IsSuspicious {
		d.logger.Infow("suspicious transaction",
			"tx", tx.Hash,
			"risk_score", result.RiskScore,
			"risk_level", result.RiskLevel,
			"rules", result.TriggeredRules)
	}
	return result, nil
}

// AnalyzeBatch fans the batch out over a bounded worker group. Result
// order matches input order. A failing member yields a degraded result in
// its own slot and never takes the rest of the batch down; only context
// cancellation aborts.
func (d *FraudDetector) AnalyzeBatch(ctx context.Context, txs []*models.TransactionEvent) ([]*models.DetectionResult, error) {
	results := make([]*models.DetectionResult, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	limit := d.cfg.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, tx := range txs {
		g.Go(func() error {
			res, err := d.AnalyzeTransaction(gctx, tx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if d.logger != nil {
					d.logger.Warnw("batch member failed, degrading its slot", "index", i, "error", err)
				}
				results[i] = degradedResult(err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// degradedResult stands in for a batch member that could not be analyzed.
func degradedResult(err error) *models.DetectionResult {
	return &models.DetectionResult{
		RiskLevel: models.RiskLevelLow,
		Context: map[string]interface{}{
			"degraded": true,
			"error":    err.Error(),
		},
	}
}

// Reload swaps the active rule set.
func (d *FraudDetector) Reload(cfg *config.RuleSet) {
	d.engine.Reload(cfg)
}

// ActiveRules exposes the loaded rule names.
func (d *FraudDetector) ActiveRules() []string {
	return d.engine.ActiveRules()
}

// Stats returns a snapshot of the counters.
func (d *FraudDetector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := d.stats
	snapshot.ByRule = make(map[string]uint64, len(d.stats.ByRule))
	for k, v := range d.stats.ByRule {
		snapshot.ByRule[k] = v
	}
	return snapshot
}

func (d *FraudDetector) buildAlert(tx *models.TransactionEvent, rr models.RuleResult, score float64) models.Alert {
	return models.Alert{
		ID:              uuid.NewString(),
		RuleName:        rr.RuleName,
		Severity:        rr.Severity,
		TransactionHash: tx.Hash,
		WalletAddress:   tx.FromAddress,
		Title:           rr.AlertTitle,
		Description:     rr.AlertDescription,
		RiskScore:       score,
		Status:          models.AlertStatusPending,
		ContextData:     rr.Context,
		DetectedAt:      time.Now().UTC(),
	}
}

func (d *FraudDetector) dispatch(ctx context.Context, alerts []models.Alert) {
	if d.sink == nil {
		return
	}
	for _, alert := range alerts {
		if err := d.sink.Publish(ctx, alert); err != nil && d.logger != nil {
			d.logger.Warnw("alert dispatch failed",
				"alert", alert.ID, "rule", alert.RuleName, "error", err)
		}
	}
}

func (d *FraudDetector) persist(ctx context.Context, tx *models.TransactionEvent, result *models.DetectionResult) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveAnalysis(ctx, tx, result); err != nil && d.logger != nil {
		d.logger.Warnw("analysis persistence failed", "tx", tx.Hash, "error", err)
	}
}

func (d *FraudDetector) record(result *models.DetectionResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Analyzed++
	if result.IsSuspicious {
		d.stats.Suspicious++
	}
	d.stats.AlertsGenerated += uint64(len(result.Alerts))
	for _, name := range result.TriggeredRules {
		d.stats.ByRule[name]++
	}
}

func validate(tx *models.TransactionEvent) error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidTransaction)
	case tx.Hash == "":
		return fmt.Errorf("%w: missing hash", ErrInvalidTransaction)
	// ToAddress stays optional: contract creations have no destination
	case tx.FromAddress == "":
		return fmt.Errorf("%w: missing from address", ErrInvalidTransaction)
	case tx.Value.IsNegative():
		return fmt.Errorf("%w: negative value", ErrInvalidTransaction)
	case tx.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTransaction)
	}
	return nil
}
