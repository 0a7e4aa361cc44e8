// Package alerts delivers generated alerts to their consumers: a webhook,
// a Kafka topic, or both. Alerts repeating the same rule and wallet inside
// the dedupe window are suppressed.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Manager fans alerts out to the configured destinations. Safe for
// concurrent use.
type Manager struct {
	cfg    config.AlertingConfig
	writer *kafka.Writer
	client *http.Client
	logger *zap.SugaredLogger

	mu     sync.Mutex
	recent map[string]time.Time

	published  uint64
	suppressed uint64
}

// NewManager builds the manager. Kafka publishing is enabled when the
// kafka config carries brokers and an alert topic.
func NewManager(cfg config.AlertingConfig, kafkaCfg config.KafkaConfig, logger *zap.SugaredLogger) *Manager {
	var writer *kafka.Writer
	if kafkaCfg.Enabled && len(kafkaCfg.Brokers) > 0 && kafkaCfg.AlertTopic != "" {
		writer = &kafka.Writer{
			Addr:     kafka.TCP(kafkaCfg.Brokers...),
			Topic:    kafkaCfg.AlertTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	return &Manager{
		cfg:    cfg,
		writer: writer,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		recent: make(map[string]time.Time),
	}
}

// Publish delivers one alert. Duplicate alerts inside the dedupe window
// are dropped silently. Destination failures are reported but partial
// delivery is not rolled back.
func (m *Manager) Publish(ctx context.Context, alert models.Alert) error {
	if m.isDuplicate(alert) {
		if m.logger != nil {
			m.logger.Debugw("alert suppressed by dedupe window",
				"rule", alert.RuleName, "wallet", alert.WalletAddress)
		}
		return nil
	}

	var errs []string
	if m.cfg.WebhookURL != "" {
		if err := m.postWebhook(ctx, alert); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if m.writer != nil {
		if err := m.writeKafka(ctx, alert); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert delivery: %s", strings.Join(errs, "; "))
	}
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	return nil
}

// Close releases the Kafka writer.
func (m *Manager) Close() error {
	if m.writer == nil {
		return nil
	}
	return m.writer.Close()
}

// Published returns delivery counters.
func (m *Manager) Published() (published, suppressed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.suppressed
}

func (m *Manager) isDuplicate(alert models.Alert) bool {
	key := alert.RuleName + "|" + strings.ToLower(alert.WalletAddress)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.recent[key]; ok && now.Sub(last) < m.cfg.DedupeWindow {
		m.suppressed++
		return true
	}
	m.recent[key] = now
	// drop stale entries opportunistically
	if len(m.recent) > 4096 {
		for k, at := range m.recent {
			if now.Sub(at) >= m.cfg.DedupeWindow {
				delete(m.recent, k)
			}
		}
	}
	return false
}

func (m *Manager) postWebhook(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (m *Manager) writeKafka(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(alert.TransactionHash),
		Value: payload,
		Time:  alert.DetectedAt,
	}
	if err := m.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
