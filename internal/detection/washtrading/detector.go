package washtrading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/analyzers"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/graph"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Detector orchestrates the wash-trading strategies over a single
// transaction, layers statistical corroboration on top and caches results.
// Safe for concurrent use.
type Detector struct {
	cfg        *config.WashTradingConfig
	strategies []Strategy
	history    HistoryProvider
	temporal   *analyzers.TemporalAnalyzer
	volume     *analyzers.VolumeAnalyzer
	logger     *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	statsMu  sync.Mutex
	analyzed uint64
	detected uint64
	hits     uint64
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Stats is a snapshot of detector counters.
type Stats struct {
	Analyzed  uint64 `json:"analyzed"`
	Detected  uint64 `json:"detected"`
	CacheHits uint64 `json:"cache_hits"`
	CacheSize int    `json:"cache_size"`
}

// NewDetector wires the standard strategy set from the tuning config.
func NewDetector(cfg *config.WashTradingConfig, history HistoryProvider, g *graph.Provider, logger *zap.SugaredLogger) *Detector {
	var strategies []Strategy
	if cfg.SelfTrading.Enabled {
		strategies = append(strategies, NewSelfTradingStrategy(cfg.SelfTrading, g, logger))
	}
	if cfg.BackAndForth.Enabled {
		strategies = append(strategies, NewBackAndForthStrategy(cfg.BackAndForth, history, logger))
	}
	if cfg.Circular.Enabled {
		strategies = append(strategies, NewCircularStrategy(cfg.Circular, g, logger))
	}
	return NewDetectorWithStrategies(cfg, history, logger, strategies...)
}

// NewDetectorWithStrategies builds a detector over an explicit strategy
// list, used by tests and specialised deployments.
func NewDetectorWithStrategies(cfg *config.WashTradingConfig, history HistoryProvider, logger *zap.SugaredLogger, strategies ...Strategy) *Detector {
	return &Detector{
		cfg:        cfg,
		strategies: strategies,
		history:    history,
		temporal:   analyzers.NewTemporalAnalyzer(logger),
		volume:     analyzers.NewVolumeAnalyzer(logger),
		logger:     logger,
		cache:      make(map[string]cacheEntry),
	}
}

// Detect analyzes one transaction. Repeated calls for the same transaction
// inside the cache TTL return the cached result. A failing strategy is
// logged and skipped; detection degrades rather than aborts.
func (d *Detector) Detect(ctx context.Context, tx *models.TransactionEvent) (Result, error) {
	key := cacheKey(tx)

	d.mu.RLock()
	entry, ok := d.cache[key]
	d.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		d.statsMu.Lock()
		d.hits++
		d.statsMu.Unlock()
		cached := entry.result
		cached.FromCache = true
		return cached, nil
	}

	result := Result{TxHash: tx.Hash, AnalyzedAt: time.Now().UTC()}
	for _, strategy := range d.strategies {
		patterns, err := strategy.Detect(ctx, tx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if d.logger != nil {
				d.logger.Warnw("strategy failed, continuing",
					"strategy", strategy.Name(), "tx", tx.Hash, "error", err)
			}
			continue
		}
		result.Patterns = append(result.Patterns, patterns...)
	}

	result.Confidence = d.synthesize(ctx, tx, result.Patterns)
	result.IsDetected = len(result.Patterns) > 0 && result.Confidence >= d.cfg.MinConfidence

	d.store(key, result)
	d.statsMu.Lock()
	d.analyzed++
	if result.IsDetected {
		d.detected++
	}
	d.statsMu.Unlock()
	return result, nil
}

// synthesize combines the strategy outcomes into one confidence score: the
// strongest pattern, boosted by statistical corroboration, pattern type
// diversity and the presence of routed patterns. Boosts never push the
// score past 1.
func (d *Detector) synthesize(ctx context.Context, tx *models.TransactionEvent, patterns []Pattern) float64 {
	if len(patterns) == 0 {
		return 0
	}
	confidence := 0.0
	types := make(map[PatternType]struct{}, len(patterns))
	routed := false
	for _, p := range patterns {
		if p.Confidence > confidence {
			confidence = p.Confidence
		}
		types[p.Type] = struct{}{}
		if p.Type == PatternCircular || p.Type == PatternMultiHop {
			routed = true
		}
	}

	if d.cfg.Statistical.Enabled {
		// the boost only applies when timing and volume regularity both
		// corroborate strongly, weak history must not inflate a pattern
		timing, volume := d.regularityScores(ctx, tx)
		if timing > 0.8 && volume > 0.8 {
			confidence += d.cfg.Statistical.MaxBoost * (timing + volume) / 2
		}
		if len(types) >= 2 {
			confidence += d.cfg.Statistical.DiversityBoost
		}
		if routed {
			confidence += d.cfg.Statistical.AdvancedBoost
		}
	}
	return models.Clamp01(confidence)
}

// regularityScores corroborates pattern findings against the sender's
// recent history, returning the interval regularity and the value
// uniformity separately. History lookup failures score zero, the pattern
// evidence stands on its own.
func (d *Detector) regularityScores(ctx context.Context, tx *models.TransactionEvent) (float64, float64) {
	if d.history == nil {
		return 0, 0
	}
	window := time.Duration(d.cfg.AnalysisWindowHours) * time.Hour
	history, err := d.history.AddressHistory(ctx, tx.FromAddress, tx.Timestamp.Add(-window), tx.Timestamp)
	if err != nil {
		if d.logger != nil {
			d.logger.Debugw("history unavailable for statistical scoring",
				"address", tx.FromAddress, "error", err)
		}
		return 0, 0
	}
	if len(history) < 3 {
		return 0, 0
	}
	timestamps := make([]time.Time, len(history))
	values := make([]decimal.Decimal, len(history))
	for i, h := range history {
		timestamps[i] = h.Timestamp
		values[i] = h.Value
	}
	timing := d.temporal.AnalyzeTimingPatterns(timestamps)
	volume := d.volume.AnalyzeValueDistribution(values)
	return timing.Regularity, volume.Uniformity
}

// store caches a result, evicting expired entries when the cache is full.
func (d *Detector) store(key string, result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cache) >= d.cfg.Cache.MaxEntries {
		d.evictLocked()
		if len(d.cache) >= d.cfg.Cache.MaxEntries {
			// still full of live entries, skip caching this one
			return
		}
	}
	d.cache[key] = cacheEntry{result: result, expires: time.Now().Add(d.cfg.Cache.TTL)}
}

func (d *Detector) evictLocked() {
	now := time.Now()
	for k, e := range d.cache {
		if now.After(e.expires) {
			delete(d.cache, k)
		}
	}
}

// StartSweeper periodically drops expired cache entries until ctx ends.
func (d *Detector) StartSweeper(ctx context.Context) {
	interval := d.cfg.Cache.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.mu.Lock()
				d.evictLocked()
				d.mu.Unlock()
			}
		}
	}()
}

// Stats returns a snapshot of the detector counters.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	size := len(d.cache)
	d.mu.RUnlock()
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return Stats{Analyzed: d.analyzed, Detected: d.detected, CacheHits: d.hits, CacheSize: size}
}

func cacheKey(tx *models.TransactionEvent) string {
	return fmt.Sprintf("%s|%s|%s|%s", tx.Hash, tx.FromAddress, tx.ToAddress, tx.Value.String())
}
