// Package events publishes result lifecycle notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/telemetry"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindResultInserted    Kind = "result.inserted"
	KindResultDeleted     Kind = "result.deleted"
	KindAnalysisCompleted Kind = "analysis.completed"
	KindAnalysisFailed    Kind = "analysis.failed"
)

// Event is the message body.
type Event struct {
	Kind        Kind      `json:"kind"`
	ResultID    string    `json:"resultId,omitempty"`
	CompanyName string    `json:"companyName,omitempty"`
	Score       int       `json:"score,omitempty"`
	JobIDs      []string  `json:"jobIds,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

func (e Event) key() string {
	if e.ResultID != "" {
		return e.ResultID
	}
	if len(e.JobIDs) > 0 {
		return e.JobIDs[0]
	}
	return string(e.Kind)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// KafkaPublisher writes events to one topic with a synchronous producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects to brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC is required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends e keyed by result id so one result's events stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.key()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(e.Kind)},
		},
	})
	if err != nil {
		metrics.IncEventsFailed()
		telemetry.Warn("events.publish_failed", map[string]any{"kind": e.Kind, "error": err})
		return fmt.Errorf("kafka send: %w", err)
	}
	metrics.IncEventsPublished()
	telemetry.Info("events.published", map[string]any{
		"kind":      e.Kind,
		"topic":     k.topic,
		"partition": partition,
		"offset":    offset,
	})
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

var (
	_ Publisher = Noop{}
	_ Publisher = (*KafkaPublisher)(nil)
)
