// Package models holds the in-memory data model shared by the detection
// engine and its collaborators. Entities here are created per analysis call
// and never mutated by the engine.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies a risk score into review tiers.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLevelFromScore maps a [0,1] risk score onto a RiskLevel.
// The mapping is a monotonic step function:
// LOW < 0.6 <= MEDIUM < 0.8 <= HIGH < 0.95 <= CRITICAL.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 0.95:
		return RiskLevelCritical
	case score >= 0.8:
		return RiskLevelHigh
	case score >= 0.6:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ParseRiskLevel maps a configured severity string onto a RiskLevel,
// defaulting unknown values to MEDIUM.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToUpper(s) {
	case "LOW":
		return RiskLevelLow
	case "HIGH":
		return RiskLevelHigh
	case "CRITICAL":
		return RiskLevelCritical
	default:
		return RiskLevelMedium
	}
}

// TransactionType enumerates the kinds of on-chain activity the engine scores.
type TransactionType string

const (
	TxTypeTransfer            TransactionType = "TRANSFER"
	TxTypeSwap                TransactionType = "SWAP"
	TxTypeMint                TransactionType = "MINT"
	TxTypeBurn                TransactionType = "BURN"
	TxTypeApproval            TransactionType = "APPROVAL"
	TxTypeContractInteraction TransactionType = "CONTRACT_INTERACTION"
)

// AlertStatus tracks the review lifecycle of a generated alert.
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "PENDING"
	AlertStatusReviewed      AlertStatus = "REVIEWED"
	AlertStatusResolved      AlertStatus = "RESOLVED"
	AlertStatusFalsePositive AlertStatus = "FALSE_POSITIVE"
)

// TransactionEvent is one blockchain transaction normalized to the
// transaction currency. The event is owned by the caller for the duration of
// one analysis call; the engine treats it as read-only.
type TransactionEvent struct {
	Hash            string          `json:"hash"`
	FromAddress     string          `json:"from_address"`
	ToAddress       string          `json:"to_address,omitempty"`
	Value           decimal.Decimal `json:"value"`
	GasPrice        decimal.Decimal `json:"gas_price"`
	Timestamp       time.Time       `json:"timestamp"`
	BlockNumber     uint64          `json:"block_number"`
	TransactionType TransactionType `json:"transaction_type"`
	TokenAddress    string          `json:"token_address,omitempty"`
	TokenAmount     decimal.Decimal `json:"token_amount,omitempty"`

	// Wallet creation timestamps for each side, when the ingestion layer
	// could resolve them. Nil means unknown.
	FundedDateFrom *time.Time `json:"funded_date_from,omitempty"`
	FundedDateTo   *time.Time `json:"funded_date_to,omitempty"`
}

// IsSelfTransfer reports whether both sides resolve to the same address.
// Address comparison is case-insensitive throughout the engine.
func (t *TransactionEvent) IsSelfTransfer() bool {
	return t.ToAddress != "" && strings.EqualFold(t.FromAddress, t.ToAddress)
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// RiskFactor is one independently computed risk signal.
type RiskFactor struct {
	Name        string                 `json:"name"`
	Score       float64                `json:"score"`
	Weight      float64                `json:"weight"`
	Description string                 `json:"description"`
	Evidence    map[string]interface{} `json:"evidence"`
}

// RuleResult is the outcome of evaluating a single rule.
type RuleResult struct {
	RuleName         string                 `json:"rule_name"`
	Triggered        bool                   `json:"triggered"`
	Severity         RiskLevel              `json:"severity"`
	Confidence       float64                `json:"confidence"`
	AlertTitle       string                 `json:"alert_title"`
	AlertDescription string                 `json:"alert_description"`
	Context          map[string]interface{} `json:"context"`
	GenerateAlert    bool                   `json:"generate_alert"`
}

// Alert is the reviewable artifact produced for a triggered rule.
type Alert struct {
	ID              string                 `json:"id"`
	RuleName        string                 `json:"rule_name"`
	Severity        RiskLevel              `json:"severity"`
	TransactionHash string                 `json:"transaction_hash"`
	WalletAddress   string                 `json:"wallet_address,omitempty"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	RiskScore       float64                `json:"risk_score"`
	Status          AlertStatus            `json:"status"`
	ContextData     map[string]interface{} `json:"context_data,omitempty"`
	DetectedAt      time.Time              `json:"detected_at"`
}

// DetectionResult is the merged outcome of one transaction analysis.
type DetectionResult struct {
	IsSuspicious   bool                   `json:"is_suspicious"`
	RiskScore      float64                `json:"risk_score"`
	RiskLevel      RiskLevel              `json:"risk_level"`
	TriggeredRules []string               `json:"triggered_rules"`
	Alerts         []Alert                `json:"alerts"`
	Context        map[string]interface{} `json:"context"`
}

// Clamp01 bounds a score to [0,1]. Every score, confidence and ratio the
// engine returns passes through here before leaving a component.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
