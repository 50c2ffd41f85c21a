// Package analytics records append-only usage events. Events land in the
// analytics_events table and, when brokers are configured, on a Redpanda
// topic for downstream consumers. Emission never fails the caller.
package analytics

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/options-assistant/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// PGSink appends events to the analytics_events table.
type PGSink struct{ Pool postgres.PgxPool }

// NewPGSink constructs a PGSink with the given pool.
func NewPGSink(p postgres.PgxPool) *PGSink { return &PGSink{Pool: p} }

// Emit appends one event; failures are logged and dropped.
func (s *PGSink) Emit(ctx domain.Context, e domain.AnalyticsEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO analytics_events (event_name, category, properties, created_at) VALUES ($1,$2,$3,$4)`
	if _, err := s.Pool.Exec(ctx, q, e.EventName, e.Category, e.Properties, e.CreatedAt); err != nil {
		slog.Warn("analytics insert failed", slog.String("event", e.EventName), slog.Any("error", err))
	}
}

// TopicSink publishes events to a Redpanda topic.
type TopicSink struct {
	client *kgo.Client
	topic  string
}

// NewTopicSink connects a Kafka producer for the analytics topic.
func NewTopicSink(brokers []string, topic string) (*TopicSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, err
	}
	return &TopicSink{client: client, topic: topic}, nil
}

// Emit publishes asynchronously; delivery errors are logged and dropped.
func (s *TopicSink) Emit(ctx domain.Context, e domain.AnalyticsEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return
	}
	rec := &kgo.Record{Topic: s.topic, Key: []byte(e.EventName), Value: value}
	s.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("analytics publish failed", slog.String("event", e.EventName), slog.Any("error", err))
		}
	})
}

// Close flushes and closes the producer.
func (s *TopicSink) Close() { s.client.Close() }

// Multi fans one event out to several sinks.
type Multi []domain.AnalyticsSink

// Emit sends to every sink in order.
func (m Multi) Emit(ctx domain.Context, e domain.AnalyticsEvent) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// Nop discards all events; used when analytics is disabled in tests.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(domain.Context, domain.AnalyticsEvent) {}
