package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
)

// GasBaselineSource is the chain surface the gas oracle reads. Satisfied
// by ethclient.Client.
type GasBaselineSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasOracle reports the network baseline gas price in gwei, cached for a
// short interval. Without a chain connection the configured static
// baseline is used.
type GasOracle struct {
	cfg    config.OracleConfig
	source GasBaselineSource
	logger *zap.SugaredLogger

	mu       sync.Mutex
	baseline float64
	fetched  time.Time
}

func NewGasOracle(cfg config.OracleConfig, source GasBaselineSource, logger *zap.SugaredLogger) *GasOracle {
	return &GasOracle{cfg: cfg, source: source, logger: logger}
}

// BaselineGasPriceGwei returns the cached or freshly suggested baseline.
func (g *GasOracle) BaselineGasPriceGwei(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.baseline > 0 && time.Since(g.fetched) < g.cfg.PriceCacheTTL {
		return g.baseline, nil
	}
	if g.source == nil {
		return g.cfg.BaseGasPrice, nil
	}
	wei, err := g.source.SuggestGasPrice(ctx)
	if err != nil {
		if g.logger != nil {
			g.logger.Warnw("gas price suggestion failed, using static baseline", "error", err)
		}
		return g.cfg.BaseGasPrice, nil
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Float64()
	if gwei <= 0 {
		return g.cfg.BaseGasPrice, nil
	}
	g.baseline = gwei
	g.fetched = time.Now()
	return gwei, nil
}

// MarketData resolves token price and volume context from a market API.
type MarketData struct {
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]marketEntry
	ttl   time.Duration
}

type marketEntry struct {
	deviation float64
	spike     float64
	cachedAt  time.Time
}

func NewMarketData(baseURL string, timeout, cacheTTL time.Duration, logger *zap.SugaredLogger) *MarketData {
	return &MarketData{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		cache:   make(map[string]marketEntry),
		ttl:     cacheTTL,
	}
}

// PriceDeviation returns the token's fractional deviation from its
// reference price.
func (m *MarketData) PriceDeviation(ctx context.Context, token string) (float64, error) {
	entry, err := m.lookup(ctx, token)
	if err != nil {
		return 0, err
	}
	return entry.deviation, nil
}

// VolumeSpikeFactor returns current volume as a multiple of the trailing
// baseline.
func (m *MarketData) VolumeSpikeFactor(ctx context.Context, token string) (float64, error) {
	entry, err := m.lookup(ctx, token)
	if err != nil {
		return 0, err
	}
	return entry.spike, nil
}

type marketResponse struct {
	PriceDeviation    float64 `json:"price_deviation"`
	VolumeSpikeFactor float64 `json:"volume_spike_factor"`
}

func (m *MarketData) lookup(ctx context.Context, token string) (marketEntry, error) {
	key := strings.ToLower(token)

	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < m.ttl {
		return entry, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/tokens/"+key+"/market", nil)
	if err != nil {
		return marketEntry{}, fmt.Errorf("build market request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return marketEntry{}, fmt.Errorf("market request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return marketEntry{}, fmt.Errorf("market API returned %d", resp.StatusCode)
	}
	var parsed marketResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return marketEntry{}, fmt.Errorf("decode market response: %w", err)
	}

	entry = marketEntry{
		deviation: parsed.PriceDeviation,
		spike:     parsed.VolumeSpikeFactor,
		cachedAt:  time.Now(),
	}
	m.mu.Lock()
	m.cache[key] = entry
	m.mu.Unlock()
	return entry, nil
}
