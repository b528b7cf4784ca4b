package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type envelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   envelopePayload `json:"payload"`
}

type envelopePayload struct {
	TradeID     string            `json:"trade_id,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Body        string            `json:"body,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// KafkaNotifier publishes lifecycle events as JSON envelopes.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaWriter builds an asynchronous writer for the event topic.
// WriteMessages only enqueues, so request handlers never wait on the broker;
// delivery failures are logged from the completion callback and Close
// flushes what is still buffered.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				logger.Warn("event delivery failed", "topic", topic, "trade_id", string(m.Key), "error", err)
			}
		},
	}
}

// NewKafkaNotifier wraps a writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

// Send publishes the message keyed by trade id.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(envelope{
		EventID:   uuid.NewString(),
		EventType: message.Kind,
		Timestamp: n.now(),
		Payload: envelopePayload{
			TradeID:     message.TradeID,
			Destination: message.Destination,
			Body:        message.Body,
			Attributes:  message.Attributes,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(message.TradeID), Value: body}); err != nil {
		return fmt.Errorf("publish %s: %w", message.Kind, err)
	}
	return nil
}
