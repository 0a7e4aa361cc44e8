package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
)

// WalletAgeOracle resolves wallet ages through an explorer API, caching
// funding dates. When the explorer is unreachable the configured default
// age stands in so detection keeps running with reduced precision.
type WalletAgeOracle struct {
	cfg    config.OracleConfig
	client *http.Client
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]oracleEntry
}

type oracleEntry struct {
	fundedAt time.Time
	cachedAt time.Time
}

func NewWalletAgeOracle(cfg config.OracleConfig, logger *zap.SugaredLogger) *WalletAgeOracle {
	return &WalletAgeOracle{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		cache:  make(map[string]oracleEntry),
	}
}

// WalletAgeHours returns the wallet's age at the given moment, in hours.
func (o *WalletAgeOracle) WalletAgeHours(ctx context.Context, address string, at time.Time) (float64, error) {
	addr := strings.ToLower(address)

	o.mu.RLock()
	entry, ok := o.cache[addr]
	o.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < o.cfg.CacheTTL {
		return at.Sub(entry.fundedAt).Hours(), nil
	}

	fundedAt, err := o.firstTransactionTime(ctx, addr)
	if err != nil {
		if o.logger != nil {
			o.logger.Warnw("explorer lookup failed, assuming default wallet age",
				"address", addr, "error", err)
		}
		return o.cfg.DefaultAgeHrs, nil
	}

	o.mu.Lock()
	o.cache[addr] = oracleEntry{fundedAt: fundedAt, cachedAt: time.Now()}
	o.mu.Unlock()
	return at.Sub(fundedAt).Hours(), nil
}

type explorerResponse struct {
	Status string `json:"status"`
	Result []struct {
		TimeStamp string `json:"timeStamp"`
	} `json:"result"`
}

// firstTransactionTime asks the explorer for the address's earliest
// transaction, which marks the funding date.
func (o *WalletAgeOracle) firstTransactionTime(ctx context.Context, address string) (time.Time, error) {
	query := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"page":    {"1"},
		"offset":  {"1"},
		"sort":    {"asc"},
	}
	if o.cfg.APIKey != "" {
		query.Set("apikey", o.cfg.APIKey)
	}
	endpoint := strings.TrimSuffix(o.cfg.BaseURL, "/") + "/api?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build explorer request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("explorer returned %d", resp.StatusCode)
	}

	var parsed explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return time.Time{}, fmt.Errorf("decode explorer response: %w", err)
	}
	if len(parsed.Result) == 0 {
		// an address with no history is brand new
		return time.Now().UTC(), nil
	}
	unix, err := strconv.ParseInt(parsed.Result[0].TimeStamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse funding timestamp: %w", err)
	}
	return time.Unix(unix, 0).UTC(), nil
}
