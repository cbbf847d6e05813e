package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// PublisherConfig holds Kafka publisher settings. With Enabled false or no
// brokers the publisher degrades to log-only mode so development setups
// work without a broker.
type PublisherConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// Publisher emits conversation records to Kafka, keyed by call id so one
// call's records land in order on one partition.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	log     *slog.Logger
}

// NewPublisher builds the record publisher. logger may be nil.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("conversation publisher in log-only mode")
		return &Publisher{topic: cfg.Topic, log: logger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("conversation publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, log: logger}
}

// Publish emits one conversation record. Best effort at session teardown:
// the caller logs failures but does not block call cleanup on them.
func (p *Publisher) Publish(ctx context.Context, rec Conversation) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", rec.CallID, err)
	}

	if !p.enabled || p.writer == nil {
		p.log.Info("conversation record",
			"call_id", rec.CallID,
			"tenant_id", rec.TenantID,
			"outcome", rec.Outcome,
			"turns", rec.Turns,
			"duration", rec.Duration())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(rec.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "tenantId", Value: []byte(rec.TenantID)},
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish conversation %s: %w", rec.CallID, err)
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
