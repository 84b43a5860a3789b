// Package events forwards committed ledger logs to consumers: a Kafka topic
// for downstream services and a bounded in-memory window served by the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/relayex/internal/ledger"
)

// Message is the JSON document published for every log of a receipt.
type Message struct {
	Seq      uint64          `json:"seq"`
	Index    int             `json:"index"`
	From     string          `json:"from"`
	Contract string          `json:"contract"`
	Name     string          `json:"name"`
	Event    json.RawMessage `json:"event"`
	Time     time.Time       `json:"time"`
}

// Messages flattens a receipt into one message per log.
func Messages(r *ledger.Receipt) ([]Message, error) {
	out := make([]Message, 0, len(r.Logs))
	for i, l := range r.Logs {
		body, err := json.Marshal(l.Event)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", l.Name, err)
		}
		out = append(out, Message{
			Seq:      r.Seq,
			Index:    i,
			From:     r.From.Hex(),
			Contract: l.Address.Hex(),
			Name:     l.Name,
			Event:    body,
			Time:     l.Time,
		})
	}
	return out, nil
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// writer is the part of *kafka.Writer the sink uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes receipts to a topic, keyed by the emitting contract so
// that each contract's events stay ordered within a partition.
type KafkaSink struct {
	writer writer
	topic  string
	logger *zap.Logger
}

var _ ledger.EventSink = (*KafkaSink)(nil)

func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink needs a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	return newKafkaSink(w, cfg.Topic, logger), nil
}

func newKafkaSink(w writer, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, topic: topic, logger: logger.Named("events")}
}

// Publish writes all logs of r in one batch.
func (s *KafkaSink) Publish(ctx context.Context, r *ledger.Receipt) error {
	msgs, err := Messages(r)
	if err != nil {
		return err
	}
	batch := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		batch = append(batch, kafka.Message{
			Key:     []byte(m.Contract),
			Value:   value,
			Time:    m.Time,
			Headers: []kafka.Header{{Key: "event", Value: []byte(m.Name)}},
		})
	}
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		s.logger.Error("failed to publish events",
			zap.Error(err),
			zap.String("topic", s.topic),
			zap.Uint64("seq", r.Seq))
		return err
	}
	s.logger.Debug("events published", zap.Uint64("seq", r.Seq), zap.Int("count", len(batch)))
	return nil
}

// Close closes the Kafka writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
