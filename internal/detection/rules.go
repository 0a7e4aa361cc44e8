// Package detection hosts the rule engine, the risk scorer and the
// coordinating fraud detector.
package detection

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Rule evaluates one fraud condition against a transaction.
// Implementations must be safe for concurrent use.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, tx *models.TransactionEvent) (models.RuleResult, error)
}

// DenylistProvider answers whether an address is on the deny list.
type DenylistProvider interface {
	IsDenylisted(ctx context.Context, address string) (bool, error)
}

// WalletAgeOracle reports how old a wallet is at a point in time, in hours.
type WalletAgeOracle interface {
	WalletAgeHours(ctx context.Context, address string, at time.Time) (float64, error)
}

// GasPriceProvider supplies the current network baseline gas price.
type GasPriceProvider interface {
	BaselineGasPriceGwei(ctx context.Context) (float64, error)
}

// TransferHistory supplies an address's recent outbound transfers.
type TransferHistory interface {
	OutboundTransfers(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error)
}

// MarketDataProvider supplies token market context for swap anomaly checks.
type MarketDataProvider interface {
	// PriceDeviation returns the token's deviation from its reference
	// price as a fraction, e.g. 0.2 for a 20% move.
	PriceDeviation(ctx context.Context, token string) (float64, error)
	// VolumeSpikeFactor returns current volume as a multiple of the
	// trailing baseline.
	VolumeSpikeFactor(ctx context.Context, token string) (float64, error)
}

// WashTradingAnalyzer is the wash-trading service surface the rule needs.
type WashTradingAnalyzer interface {
	DetectWashTrading(ctx context.Context, tx *models.TransactionEvent) (bool, float64, map[string]interface{}, error)
}

// StructuringAnalyzer is the structuring service surface the rule needs.
type StructuringAnalyzer interface {
	AnalyzeStructuring(ctx context.Context, tx *models.TransactionEvent) (bool, float64, map[string]interface{}, error)
}

// Providers bundles the external lookups the rules draw on. Nil members
// disable the rules that need them.
type Providers struct {
	Denylist    DenylistProvider
	WalletAge   WalletAgeOracle
	Gas         GasPriceProvider
	History     TransferHistory
	Market      MarketDataProvider
	WashTrading WashTradingAnalyzer
	Structuring StructuringAnalyzer
}

// RuleEngine evaluates the active rule set against transactions. The set
// swaps atomically on reload, in-flight evaluations keep the set they
// started with.
type RuleEngine struct {
	providers Providers
	logger    *zap.SugaredLogger
	active    atomic.Pointer[ruleSet]
}

type ruleSet struct {
	rules    []Rule
	loadedAt time.Time
}

// NewRuleEngine builds an engine with the given rule configuration.
func NewRuleEngine(cfg *config.RuleSet, providers Providers, logger *zap.SugaredLogger) *RuleEngine {
	e := &RuleEngine{providers: providers, logger: logger}
	e.Reload(cfg)
	return e
}

// Reload swaps in a new rule set built from cfg. Safe to call while
// evaluations are running.
func (e *RuleEngine) Reload(cfg *config.RuleSet) {
	set := &ruleSet{rules: buildRules(cfg, e.providers), loadedAt: time.Now().UTC()}
	e.active.Store(set)
	if e.logger != nil {
		names := make([]string, 0, len(set.rules))
		for _, r := range set.rules {
			names = append(names, r.Name())
		}
		e.logger.Infow("rule set loaded", "rules", names)
	}
}

// ActiveRules returns the names of the currently loaded rules.
func (e *RuleEngine) ActiveRules() []string {
	set := e.active.Load()
	names := make([]string, 0, len(set.rules))
	for _, r := range set.rules {
		names = append(names, r.Name())
	}
	return names
}

// LoadedAt returns when the active rule set was installed.
func (e *RuleEngine) LoadedAt() time.Time {
	return e.active.Load().loadedAt
}

// Evaluate runs every active rule against the transaction. A rule that
// errors is logged and skipped; the remaining rules still run. Only
// triggered results are returned.
func (e *RuleEngine) Evaluate(ctx context.Context, tx *models.TransactionEvent) []models.RuleResult {
	set := e.active.Load()
	results := make([]models.RuleResult, 0, len(set.rules))
	for _, rule := range set.rules {
		if ctx.Err() != nil {
			break
		}
		res, err := rule.Evaluate(ctx, tx)
		if err != nil {
			if e.logger != nil {
				e.logger.Warnw("rule evaluation failed, skipping",
					"rule", rule.Name(), "tx", tx.Hash, "error", err)
			}
			continue
		}
		if res.Triggered {
			res.RuleName = rule.Name()
			results = append(results, res)
		}
	}
	return results
}

// buildRules instantiates the enabled rules that have their required
// providers available.
func buildRules(cfg *config.RuleSet, p Providers) []Rule {
	var rules []Rule
	add := func(name string, ok bool, make func(config.RuleConfig) Rule) {
		rc := cfg.Get(name)
		if rc.Enabled && ok {
			rules = append(rules, make(rc))
		}
	}

	add("high_value_transfer", true, func(rc config.RuleConfig) Rule {
		return &highValueRule{cfg: rc}
	})
	add("new_wallet_interaction", p.WalletAge != nil, func(rc config.RuleConfig) Rule {
		return &newWalletRule{cfg: rc, oracle: p.WalletAge}
	})
	add("blacklist_interaction", p.Denylist != nil, func(rc config.RuleConfig) Rule {
		return &blacklistRule{cfg: rc, denylist: p.Denylist}
	})
	add("suspicious_gas_price", p.Gas != nil, func(rc config.RuleConfig) Rule {
		return &gasPriceRule{cfg: rc, gas: p.Gas}
	})
	add("unusual_time_pattern", true, func(rc config.RuleConfig) Rule {
		return &timePatternRule{cfg: rc}
	})
	add("wash_trading_pattern", p.WashTrading != nil, func(rc config.RuleConfig) Rule {
		return &washTradingRule{cfg: rc, analyzer: p.WashTrading}
	})
	add("multiple_small_transfers", p.History != nil, func(rc config.RuleConfig) Rule {
		return &smallTransfersRule{cfg: rc, history: p.History, structuring: p.Structuring}
	})
	add("token_swap_anomaly", p.Market != nil, func(rc config.RuleConfig) Rule {
		return &tokenSwapRule{cfg: rc, market: p.Market}
	})
	return rules
}
