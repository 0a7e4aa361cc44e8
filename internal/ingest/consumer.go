// Package ingest feeds transactions into the detector, from a Kafka topic
// or straight off the chain.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/config"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// Analyzer is the detection surface the ingest paths feed.
type Analyzer interface {
	AnalyzeTransaction(ctx context.Context, tx *models.TransactionEvent) (*models.DetectionResult, error)
}

// Consumer reads transaction events from Kafka and runs them through the
// analyzer. Malformed messages are logged and skipped, analysis failures
// do not block the partition.
type Consumer struct {
	reader   *kafka.Reader
	analyzer Analyzer
	logger   *zap.SugaredLogger
}

func NewConsumer(cfg config.KafkaConfig, analyzer Analyzer, logger *zap.SugaredLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.TransactionTopic,
		GroupID: cfg.ConsumerGroup,
	})
	return &Consumer{reader: reader, analyzer: analyzer, logger: logger}
}

// Run consumes until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		c.handle(ctx, msg.Value)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	tx, err := DecodeEvent(payload)
	if err != nil {
		if c.logger != nil {
			c.logger.Warnw("dropping malformed transaction event", "error", err)
		}
		return
	}
	if _, err := c.analyzer.AnalyzeTransaction(ctx, tx); err != nil {
		if c.logger != nil {
			c.logger.Errorw("analysis failed for ingested event", "tx", tx.Hash, "error", err)
		}
	}
}

// DecodeEvent parses a wire transaction event and checks its identifying
// fields.
func DecodeEvent(payload []byte) (*models.TransactionEvent, error) {
	var tx models.TransactionEvent
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	// ToAddress may be empty, contract creations have no destination.
	if tx.Hash == "" || tx.FromAddress == "" {
		return nil, errors.New("event missing hash or sender")
	}
	if tx.Timestamp.IsZero() {
		return nil, errors.New("event missing timestamp")
	}
	if tx.TransactionType == "" {
		tx.TransactionType = models.TxTypeTransfer
	}
	return &tx, nil
}
