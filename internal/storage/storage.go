// Package storage persists transactions, analysis outcomes, alerts and the
// local blacklist, and serves transaction history back to the detection
// components.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// ErrNotFound reports a lookup miss.
var ErrNotFound = errors.New("not found")

// TransactionRecord is the persisted form of a transaction event.
type TransactionRecord struct {
	ID              uint            `gorm:"primaryKey"`
	Hash            string          `gorm:"uniqueIndex;size:80"`
	FromAddress     string          `gorm:"index;size:64"`
	ToAddress       string          `gorm:"index;size:64"`
	Value           decimal.Decimal `gorm:"type:decimal(38,18)"`
	GasPrice        decimal.Decimal `gorm:"type:decimal(38,18)"`
	TokenAddress    string          `gorm:"size:64"`
	TokenAmount     decimal.Decimal `gorm:"type:decimal(38,18)"`
	TransactionType string          `gorm:"size:32"`
	BlockNumber     uint64
	Timestamp       time.Time `gorm:"index"`
	RiskScore       float64
	RiskLevel       string `gorm:"size:16"`
	IsSuspicious    bool   `gorm:"index"`
	CreatedAt       time.Time
}

// AlertRecord is the persisted form of a generated alert.
type AlertRecord struct {
	ID              string `gorm:"primaryKey;size:40"`
	RuleName        string `gorm:"index;size:64"`
	Severity        string `gorm:"index;size:16"`
	TransactionHash string `gorm:"index;size:80"`
	WalletAddress   string `gorm:"size:64"`
	Title           string `gorm:"size:200"`
	Description     string
	RiskScore       float64
	Status          string `gorm:"index;size:24"`
	DetectedAt      time.Time
	UpdatedAt       time.Time
}

// BlacklistEntry is a locally managed denylisted address.
type BlacklistEntry struct {
	Address   string `gorm:"primaryKey;size:64"`
	Reason    string `gorm:"size:200"`
	Source    string `gorm:"size:64"`
	CreatedAt time.Time
}

// Store wraps the database and exposes the persistence and history
// surfaces the engine consumes.
type Store struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, logger *zap.SugaredLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&TransactionRecord{}, &AlertRecord{}, &BlacklistEntry{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an already opened gorm handle, used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&TransactionRecord{}, &AlertRecord{}, &BlacklistEntry{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveAnalysis upserts the transaction with its scored outcome and inserts
// the generated alerts.
func (s *Store) SaveAnalysis(ctx context.Context, tx *models.TransactionEvent, result *models.DetectionResult) error {
	record := TransactionRecord{
		Hash:            tx.Hash,
		FromAddress:     strings.ToLower(tx.FromAddress),
		ToAddress:       strings.ToLower(tx.ToAddress),
		Value:           tx.Value,
		GasPrice:        tx.GasPrice,
		TokenAddress:    strings.ToLower(tx.TokenAddress),
		TokenAmount:     tx.TokenAmount,
		TransactionType: string(tx.TransactionType),
		BlockNumber:     tx.BlockNumber,
		Timestamp:       tx.Timestamp.UTC(),
		RiskScore:       result.RiskScore,
		RiskLevel:       string(result.RiskLevel),
		IsSuspicious:    result.IsSuspicious,
	}
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		err := dbtx.Where("hash = ?", record.Hash).
			Assign(map[string]interface{}{
				"risk_score":    record.RiskScore,
				"risk_level":    record.RiskLevel,
				"is_suspicious": record.IsSuspicious,
			}).
			FirstOrCreate(&record).Error
		if err != nil {
			return fmt.Errorf("save transaction %s: %w", tx.Hash, err)
		}
		for _, alert := range result.Alerts {
			ar := AlertRecord{
				ID:              alert.ID,
				RuleName:        alert.RuleName,
				Severity:        string(alert.Severity),
				TransactionHash: alert.TransactionHash,
				WalletAddress:   strings.ToLower(alert.WalletAddress),
				Title:           alert.Title,
				Description:     alert.Description,
				RiskScore:       alert.RiskScore,
				Status:          string(alert.Status),
				DetectedAt:      alert.DetectedAt,
			}
			if err := dbtx.Create(&ar).Error; err != nil {
				return fmt.Errorf("save alert %s: %w", alert.ID, err)
			}
		}
		return nil
	})
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status   string
	Severity string
	RuleName string
	Limit    int
}

// Alerts lists alerts, newest first.
func (s *Store) Alerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	q := s.db.WithContext(ctx).Model(&AlertRecord{}).Order("detected_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.RuleName != "" {
		q = q.Where("rule_name = ?", filter.RuleName)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []AlertRecord
	if err := q.Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts := make([]models.Alert, len(records))
	for i, r := range records {
		alerts[i] = models.Alert{
			ID:              r.ID,
			RuleName:        r.RuleName,
			Severity:        models.RiskLevel(r.Severity),
			TransactionHash: r.TransactionHash,
			WalletAddress:   r.WalletAddress,
			Title:           r.Title,
			Description:     r.Description,
			RiskScore:       r.RiskScore,
			Status:          models.AlertStatus(r.Status),
			DetectedAt:      r.DetectedAt,
		}
	}
	return alerts, nil
}

// UpdateAlertStatus moves an alert through its review lifecycle.
func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	res := s.db.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("update alert %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddBlacklistEntry registers a denylisted address.
func (s *Store) AddBlacklistEntry(ctx context.Context, address, reason, source string) error {
	entry := BlacklistEntry{Address: strings.ToLower(address), Reason: reason, Source: source}
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return fmt.Errorf("add blacklist entry: %w", err)
	}
	return nil
}

// RemoveBlacklistEntry deletes a denylisted address.
func (s *Store) RemoveBlacklistEntry(ctx context.Context, address string) error {
	res := s.db.WithContext(ctx).Delete(&BlacklistEntry{}, "address = ?", strings.ToLower(address))
	if res.Error != nil {
		return fmt.Errorf("remove blacklist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("blacklist entry %s: %w", address, ErrNotFound)
	}
	return nil
}

// IsDenylisted reports whether the address is locally blacklisted.
func (s *Store) IsDenylisted(ctx context.Context, address string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&BlacklistEntry{}).
		Where("address = ?", strings.ToLower(address)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return count > 0, nil
}

// ListBlacklist returns all denylisted addresses.
func (s *Store) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	var entries []BlacklistEntry
	if err := s.db.WithContext(ctx).Order("address").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	return entries, nil
}

// TransactionsByAddress returns transactions where the address is sender
// or receiver inside the window. Serves the graph traversal.
func (s *Store) TransactionsByAddress(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	addr := strings.ToLower(address)
	var records []TransactionRecord
	err := s.db.WithContext(ctx).
		Where("(from_address = ? OR to_address = ?) AND timestamp BETWEEN ? AND ?", addr, addr, from.UTC(), to.UTC()).
		Order("timestamp, hash").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("transactions by address: %w", err)
	}
	return toEvents(records), nil
}

// AddressHistory serves the wash-trading statistical corroboration.
func (s *Store) AddressHistory(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	return s.TransactionsByAddress(ctx, address, from, to)
}

// PairHistory returns transactions flowing between a and b in either
// direction inside the window.
func (s *Store) PairHistory(ctx context.Context, a, b string, from, to time.Time) ([]models.TransactionEvent, error) {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	var records []TransactionRecord
	err := s.db.WithContext(ctx).
		Where("((from_address = ? AND to_address = ?) OR (from_address = ? AND to_address = ?)) AND timestamp BETWEEN ? AND ?",
			la, lb, lb, la, from.UTC(), to.UTC()).
		Order("timestamp, hash").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("pair history: %w", err)
	}
	return toEvents(records), nil
}

// OutboundTransfers returns the address's outbound transactions inside the
// window. Serves the structuring and burst rules.
func (s *Store) OutboundTransfers(ctx context.Context, address string, from, to time.Time) ([]models.TransactionEvent, error) {
	var records []TransactionRecord
	err := s.db.WithContext(ctx).
		Where("from_address = ? AND timestamp BETWEEN ? AND ?", strings.ToLower(address), from.UTC(), to.UTC()).
		Order("timestamp, hash").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("outbound transfers: %w", err)
	}
	return toEvents(records), nil
}

// SuspiciousCount returns how many analyzed transactions were flagged.
func (s *Store) SuspiciousCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&TransactionRecord{}).
		Where("is_suspicious = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("suspicious count: %w", err)
	}
	return count, nil
}

func toEvents(records []TransactionRecord) []models.TransactionEvent {
	events := make([]models.TransactionEvent, len(records))
	for i, r := range records {
		events[i] = models.TransactionEvent{
			Hash:            r.Hash,
			FromAddress:     r.FromAddress,
			ToAddress:       r.ToAddress,
			Value:           r.Value,
			GasPrice:        r.GasPrice,
			TokenAddress:    r.TokenAddress,
			TokenAmount:     r.TokenAmount,
			TransactionType: models.TransactionType(r.TransactionType),
			BlockNumber:     r.BlockNumber,
			Timestamp:       r.Timestamp,
		}
	}
	return events
}
