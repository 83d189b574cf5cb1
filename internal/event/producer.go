package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/pmgasset/td-wifi-api/pkg/logger"
)

// Topics for storefront lifecycle events. Fulfillment and notification
// consumers subscribe to these.
const (
	TopicOrders   = "storefront.orders"
	TopicPayments = "storefront.payments"
	TopicCatalog  = "storefront.catalog"
)

// Envelope is the standard event envelope for all published messages.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration
}

// DefaultProducerConfig returns sensible defaults.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes storefront lifecycle events. Publishing is best-effort
// everywhere it is used: a Kafka outage must never fail a checkout or a
// webhook ack, so callers log publish errors instead of propagating them.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a Kafka producer.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{
		writer:  w,
		brokers: cfg.Brokers,
		logger:  logger,
	}
}

// Publish sends an event to the given topic, keyed by aggregate ID.
func (p *Producer) Publish(ctx context.Context, topic, eventType, aggregateID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	env := Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		Source:        "storefront-api",
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Data:          payload,
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(aggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_type", eventType),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}

// OrderPlaced publishes an order-placed event after a successful saga run.
func (p *Producer) OrderPlaced(ctx context.Context, orderID string, data any) error {
	return p.Publish(ctx, TopicOrders, "order.placed", orderID, data)
}

// OrderMaterialized publishes after a deferred order is created from a
// payment webhook.
func (p *Producer) OrderMaterialized(ctx context.Context, orderID string, data any) error {
	return p.Publish(ctx, TopicOrders, "order.materialized", orderID, data)
}

// PaymentEvent republishes a normalized payment webhook event.
func (p *Producer) PaymentEvent(ctx context.Context, eventType, paymentID string, data any) error {
	return p.Publish(ctx, TopicPayments, eventType, paymentID, data)
}

// CatalogSynced publishes a catalog sync summary.
func (p *Producer) CatalogSynced(ctx context.Context, data any) error {
	return p.Publish(ctx, TopicCatalog, "catalog.synced", "catalog", data)
}

// Ping dials the brokers as a lightweight health probe.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close closes the producer and flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}
