// Package washtrading detects artificial trading activity: self trades,
// alternating pair flows and circular value routing.
package washtrading

import (
	"context"
	"time"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// PatternType classifies a detected wash-trading pattern.
type PatternType string

const (
	PatternSelfTrading  PatternType = "SELF_TRADING"
	PatternBackAndForth PatternType = "BACK_AND_FORTH"
	PatternCircular     PatternType = "CIRCULAR"
	PatternMultiHop     PatternType = "MULTI_HOP"
)

// Pattern is one detected instance of artificial trading.
type Pattern struct {
	Type       PatternType            `json:"type"`
	Confidence float64                `json:"confidence"`
	Addresses  []string               `json:"addresses"`
	TxHashes   []string               `json:"tx_hashes"`
	Evidence   map[string]interface{} `json:"evidence"`
	DetectedAt time.Time              `json:"detected_at"`
}

// Result is the aggregate outcome for a single analyzed transaction.
type Result struct {
	TxHash     string    `json:"tx_hash"`
	IsDetected bool      `json:"is_detected"`
	Confidence float64   `json:"confidence"`
	Patterns   []Pattern `json:"patterns"`
	AnalyzedAt time.Time `json:"analyzed_at"`

	// FromCache marks results served from the detection cache.
	FromCache bool `json:"from_cache"`
}

// HistoryProvider supplies recent transaction history for the strategies.
type HistoryProvider interface {
	// AddressHistory returns transactions where the address is sender or
	// receiver inside the window.
	AddressHistory(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error)
	// PairHistory returns transactions flowing between a and b in either
	// direction inside the window.
	PairHistory(ctx context.Context, a, b string, from, to time.Time) ([]models.TransactionEvent, error)
}

// Strategy detects one family of wash-trading patterns. Implementations
// must be safe for concurrent use.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, tx *models.TransactionEvent) ([]Pattern, error)
}
