package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"epireport/internal/config"
)

// Publisher hands messages to the outbound channel collaborators.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

func NewPublisher(cfg config.NotifyConfig, logger *slog.Logger) Publisher {
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		return NewKafkaPublisher(cfg.Kafka)
	}
	return NewLogPublisher(logger)
}

// KafkaPublisher writes each kind of message to its own topic, keyed so that
// messages for one phone number, alert or report stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
	topics map[Kind]string
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topics: map[Kind]string{
			KindFeedback:   cfg.FeedbackTopic,
			KindEscalation: cfg.EscalationTopic,
			KindDismissal:  cfg.DismissalTopic,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	topic := p.topics[msg.Kind]
	if topic == "" {
		return fmt.Errorf("no topic configured for %s messages", msg.Kind)
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key()),
		Value:   value,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(msg.Kind)}},
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Info("notification", "id", msg.ID, "kind", msg.Kind, "key", msg.Key())
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
