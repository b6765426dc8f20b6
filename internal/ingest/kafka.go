package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"epireport/internal/config"
	"epireport/internal/model"
)

// Queue produces decoded gateway payloads to Kafka, keyed by sender so one
// data collector's reports stay ordered.
type Queue struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewQueue(cfg config.QueueConfig, logger *slog.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("queue mode requires brokers and topic")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger,
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, payload model.GatewayPayload) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(payload.Sender),
		Value:   value,
		Headers: []kafka.Header{{Key: "correlation_id", Value: []byte(uuid.NewString())}},
	})
}

func (q *Queue) Close() error {
	return q.writer.Close()
}

// StartConsumer reads queued payloads and hands them to handler. Offsets are
// committed only after the payload was recorded; a failing payload is
// retried with backoff until it succeeds or ctx ends.
func StartConsumer(ctx context.Context, cfg config.QueueConfig, handler Handler, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("queue consumer disabled")
		}
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("queue consumer enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		consume(ctx, reader, handler, logger)
	}()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func consume(ctx context.Context, reader messageReader, handler Handler, logger *slog.Logger) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue fetch error", "err", err)
			if !BackoffSleep(ctx, time.Second) {
				return
			}
			continue
		}
		if !handleMessage(ctx, m, handler, logger) {
			return
		}
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logger.Warn("queue commit error", "offset", m.Offset, "err", err)
		}
	}
}

// handleMessage returns false only when ctx ended before the message was
// handled.
func handleMessage(ctx context.Context, m kafka.Message, handler Handler, logger *slog.Logger) bool {
	var payload model.GatewayPayload
	if err := json.Unmarshal(m.Value, &payload); err != nil {
		logger.Error("dropping undecodable queue message", "partition", m.Partition, "offset", m.Offset, "err", err)
		return true
	}
	backoff := 200 * time.Millisecond
	for {
		_, err := handler.Handle(ctx, payload)
		if err == nil {
			return true
		}
		logger.Error("queued report could not be recorded", "sender", payload.Sender, "offset", m.Offset, "err", err)
		if !BackoffSleep(ctx, backoff) {
			return false
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
