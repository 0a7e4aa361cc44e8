package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// highValueTransferConfidence is fixed: crossing the reporting threshold
// is a binary fact, not a graded signal.
const highValueTransferConfidence = 0.9

// highValueRule flags single transfers at or above the configured USD
// threshold.
type highValueRule struct {
	cfg config.RuleConfig
}

func (r *highValueRule) Name() string { return "high_value_transfer" }

func (r *highValueRule) Evaluate(_ context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	threshold := decimal.NewFromFloat(r.cfg.ThresholdUSD)
	if tx.Value.LessThan(threshold) {
		return models.RuleResult{}, nil
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       highValueTransferConfidence,
		AlertTitle:       "High value transfer",
		AlertDescription: fmt.Sprintf("transfer of %s USD meets the %s USD reporting threshold", tx.Value.StringFixed(2), threshold.StringFixed(0)),
		Context: map[string]interface{}{
			"value_usd":     tx.Value.String(),
			"threshold_usd": r.cfg.ThresholdUSD,
		},
		GenerateAlert: r.cfg.Action != "monitor",
	}, nil
}

// newWalletRule flags meaningful transfers involving a freshly funded
// wallet. Funding dates carried on the event take precedence over the
// oracle.
type newWalletRule struct {
	cfg    config.RuleConfig
	oracle WalletAgeOracle
}

func (r *newWalletRule) Name() string { return "new_wallet_interaction" }

func (r *newWalletRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	if tx.Value.LessThan(decimal.NewFromFloat(r.cfg.MinValueUSD)) {
		return models.RuleResult{}, nil
	}

	age, wallet, err := r.youngestParty(ctx, tx)
	if err != nil {
		return models.RuleResult{}, err
	}
	if age >= r.cfg.WalletAgeHours {
		return models.RuleResult{}, nil
	}
	// the newer the wallet, the stronger the signal
	confidence := models.Clamp01(1 - age/r.cfg.WalletAgeHours)
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       0.5 + 0.5*confidence,
		AlertTitle:       "New wallet in high value transfer",
		AlertDescription: fmt.Sprintf("wallet %s is %.1f hours old, below the %.0f hour threshold", wallet, age, r.cfg.WalletAgeHours),
		Context: map[string]interface{}{
			"wallet":           wallet,
			"wallet_age_hours": age,
			"value_usd":        tx.Value.String(),
		},
		GenerateAlert: true,
	}, nil
}

func (r *newWalletRule) youngestParty(ctx context.Context, tx *models.TransactionEvent) (float64, string, error) {
	fromAge, err := r.partyAge(ctx, tx.FromAddress, tx.FundedDateFrom, tx.Timestamp)
	if err != nil {
		return 0, "", err
	}
	if tx.ToAddress == "" {
		// contract creations have no receiving wallet
		return fromAge, tx.FromAddress, nil
	}
	toAge, err := r.partyAge(ctx, tx.ToAddress, tx.FundedDateTo, tx.Timestamp)
	if err != nil {
		return 0, "", err
	}
	if toAge < fromAge {
		return toAge, tx.ToAddress, nil
	}
	return fromAge, tx.FromAddress, nil
}

func (r *newWalletRule) partyAge(ctx context.Context, address string, funded *time.Time, at time.Time) (float64, error) {
	if funded != nil {
		return at.Sub(*funded).Hours(), nil
	}
	age, err := r.oracle.WalletAgeHours(ctx, address, at)
	if err != nil {
		return 0, fmt.Errorf("wallet age of %s: %w", address, err)
	}
	return age, nil
}

// blacklistRule flags any transaction touching a denylisted address.
type blacklistRule struct {
	cfg      config.RuleConfig
	denylist DenylistProvider
}

func (r *blacklistRule) Name() string { return "blacklist_interaction" }

func (r *blacklistRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	for _, address := range []string{tx.FromAddress, tx.ToAddress} {
		if address == "" {
			continue
		}
		listed, err := r.denylist.IsDenylisted(ctx, address)
		if err != nil {
			return models.RuleResult{}, fmt.Errorf("denylist lookup %s: %w", address, err)
		}
		if !listed {
			continue
		}
		return models.RuleResult{
			Triggered:        true,
			Severity:         models.ParseRiskLevel(r.cfg.Severity),
			Confidence:       1.0,
			AlertTitle:       "Denylisted address interaction",
			AlertDescription: fmt.Sprintf("address %s is on the deny list", address),
			Context: map[string]interface{}{
				"listed_address": address,
			},
			GenerateAlert: true,
		}, nil
	}
	return models.RuleResult{}, nil
}

// gasPriceRule flags gas prices outside the normal band around the network
// baseline. Far above reads as front-running urgency, far below as replayed
// or manipulated transactions.
type gasPriceRule struct {
	cfg config.RuleConfig
	gas GasPriceProvider
}

func (r *gasPriceRule) Name() string { return "suspicious_gas_price" }

func (r *gasPriceRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	if tx.GasPrice.IsZero() {
		return models.RuleResult{}, nil
	}
	baseline, err := r.gas.BaselineGasPriceGwei(ctx)
	if err != nil {
		return models.RuleResult{}, fmt.Errorf("gas baseline: %w", err)
	}
	gas, _ := tx.GasPrice.Float64()
	overMultiple := baseline > 0 && gas >= baseline*r.cfg.GasMultiplier
	underMultiple := baseline > 0 && r.cfg.MinGasMultiplier > 0 && gas <= baseline*r.cfg.MinGasMultiplier
	overCeiling := r.cfg.MaxGasPriceGwei > 0 && gas >= r.cfg.MaxGasPriceGwei
	if !overMultiple && !underMultiple && !overCeiling {
		return models.RuleResult{}, nil
	}
	confidence := 0.6
	if overMultiple && overCeiling {
		confidence = 0.9
	}
	reason := "above baseline band"
	if underMultiple {
		reason = "below baseline band"
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       confidence,
		AlertTitle:       "Suspicious gas price",
		AlertDescription: fmt.Sprintf("gas price %.1f gwei %s, baseline %.1f gwei", gas, reason, baseline),
		Context: map[string]interface{}{
			"gas_price_gwei": gas,
			"baseline_gwei":  baseline,
			"multiplier":     r.cfg.GasMultiplier,
			"min_multiplier": r.cfg.MinGasMultiplier,
			"reason":         reason,
		},
		GenerateAlert: true,
	}, nil
}

// Default overnight window, UTC.
const (
	offHoursStartHour = 22
	offHoursEndHour   = 6
)

// inOffHours reports whether an hour falls inside [start,end). A start
// past the end wraps the window across midnight.
func inOffHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// timePatternRule flags large transfers placed in the quiet hours, when
// manual review coverage is thinnest.
type timePatternRule struct {
	cfg config.RuleConfig
}

func (r *timePatternRule) Name() string { return "unusual_time_pattern" }

func (r *timePatternRule) Evaluate(_ context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	if tx.Value.LessThan(decimal.NewFromFloat(r.cfg.MinValueUSD)) {
		return models.RuleResult{}, nil
	}
	at := tx.Timestamp.UTC()
	hour := at.Hour()
	offHours := inOffHours(hour, r.cfg.OffHoursStart, r.cfg.OffHoursEnd)
	weekend := r.cfg.FlagWeekends && (at.Weekday() == time.Saturday || at.Weekday() == time.Sunday)
	if !offHours && !weekend {
		return models.RuleResult{}, nil
	}
	reason := "off hours"
	if weekend && !offHours {
		reason = "weekend"
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       0.4,
		AlertTitle:       "Unusual transfer timing",
		AlertDescription: fmt.Sprintf("%s USD transfer during %s (%02d:00 UTC)", tx.Value.StringFixed(0), reason, hour),
		Context: map[string]interface{}{
			"hour_utc": hour,
			"weekday":  at.Weekday().String(),
			"reason":   reason,
		},
		GenerateAlert: r.cfg.Action != "monitor",
	}, nil
}

// washTradingRule surfaces the wash-trading service verdict as a rule.
type washTradingRule struct {
	cfg      config.RuleConfig
	analyzer WashTradingAnalyzer
}

func (r *washTradingRule) Name() string { return "wash_trading_pattern" }

func (r *washTradingRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	detected, confidence, evidence, err := r.analyzer.DetectWashTrading(ctx, tx)
	if err != nil {
		return models.RuleResult{}, fmt.Errorf("wash trading analysis: %w", err)
	}
	if !detected {
		return models.RuleResult{}, nil
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       confidence,
		AlertTitle:       "Wash trading pattern",
		AlertDescription: fmt.Sprintf("artificial trading activity with %.0f%% confidence", confidence*100),
		Context:          evidence,
		GenerateAlert:    true,
	}, nil
}

// smallTransfersRule flags bursts of small outbound transfers that add up
// past the structuring threshold. The structuring service, when wired,
// corroborates the count signal.
type smallTransfersRule struct {
	cfg         config.RuleConfig
	history     TransferHistory
	structuring StructuringAnalyzer
}

func (r *smallTransfersRule) Name() string { return "multiple_small_transfers" }

func (r *smallTransfersRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	maxIndividual := decimal.NewFromFloat(r.cfg.MaxIndividualValueUSD)
	if tx.Value.GreaterThan(maxIndividual) {
		return models.RuleResult{}, nil
	}
	window := time.Duration(r.cfg.TimeWindowMinutes) * time.Minute
	txs, err := r.history.OutboundTransfers(ctx, tx.FromAddress, tx.Timestamp.Add(-window), tx.Timestamp)
	if err != nil {
		return models.RuleResult{}, fmt.Errorf("outbound transfers: %w", err)
	}

	count := 1 // the transaction under analysis
	total := tx.Value
	for _, h := range txs {
		if h.Hash == tx.Hash || h.Value.GreaterThan(maxIndividual) {
			continue
		}
		count++
		total = total.Add(h.Value)
	}
	if count < r.cfg.MinTransferCount || total.LessThan(decimal.NewFromFloat(r.cfg.TotalThresholdUSD)) {
		return models.RuleResult{}, nil
	}

	confidence := models.Clamp01(0.5 + 0.1*float64(count-r.cfg.MinTransferCount))
	evidence := map[string]interface{}{
		"transfer_count": count,
		"total_usd":      total.String(),
		"window_minutes": r.cfg.TimeWindowMinutes,
	}
	if r.structuring != nil {
		detected, structConf, structEvidence, err := r.structuring.AnalyzeStructuring(ctx, tx)
		if err == nil && detected {
			if structConf > confidence {
				confidence = structConf
			}
			evidence["structuring"] = structEvidence
		}
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       confidence,
		AlertTitle:       "Multiple small transfers",
		AlertDescription: fmt.Sprintf("%d transfers totaling %s USD within %d minutes", count, total.StringFixed(0), r.cfg.TimeWindowMinutes),
		Context:          evidence,
		GenerateAlert:    true,
	}, nil
}

// tokenSwapRule flags swaps executed during abnormal price or volume
// conditions for the token.
type tokenSwapRule struct {
	cfg    config.RuleConfig
	market MarketDataProvider
}

func (r *tokenSwapRule) Name() string { return "token_swap_anomaly" }

func (r *tokenSwapRule) Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error) {
	if tx.TransactionType != models.TxTypeSwap || tx.TokenAddress == "" {
		return models.RuleResult{}, nil
	}
	deviation, err := r.market.PriceDeviation(ctx, tx.TokenAddress)
	if err != nil {
		return models.RuleResult{}, fmt.Errorf("price deviation: %w", err)
	}
	spike, err := r.market.VolumeSpikeFactor(ctx, tx.TokenAddress)
	if err != nil {
		return models.RuleResult{}, fmt.Errorf("volume spike: %w", err)
	}
	priceAnomaly := deviation >= r.cfg.PriceDeviationThreshold
	volumeAnomaly := spike >= r.cfg.VolumeSpikeMultiplier
	if !priceAnomaly && !volumeAnomaly {
		return models.RuleResult{}, nil
	}
	confidence := 0.5
	if priceAnomaly && volumeAnomaly {
		confidence = 0.8
	}
	return models.RuleResult{
		Triggered:        true,
		Severity:         models.ParseRiskLevel(r.cfg.Severity),
		Confidence:       confidence,
		AlertTitle:       "Token swap anomaly",
		AlertDescription: fmt.Sprintf("swap of %s during abnormal market conditions", tx.TokenAddress),
		Context: map[string]interface{}{
			"price_deviation":     deviation,
			"volume_spike_factor": spike,
		},
		GenerateAlert: true,
	}, nil
}
