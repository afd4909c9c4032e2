package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	runmodels "payrun/internal/run/models"
	"payrun/pkg/domain"
)

// EventPublisher fans run lifecycle events out to an external audit stream.
// Publication is best-effort: the event log in the run store is the source
// of truth, the stream is for downstream consumers.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, runID domain.RunID, event runmodels.Event)
}

// NoopPublisher is used when no Kafka brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRunEvent(context.Context, domain.RunID, runmodels.Event) {}

// KafkaPublisher produces run events to a Kafka topic via franz-go. Records
// are produced asynchronously; delivery failures are logged, never surfaced
// to the code path that appended the event.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to the given brokers. Returns nil if brokers
// is empty (publishing not configured).
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

type runEventRecord struct {
	RunID   string         `json:"run_id"`
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

func (p *KafkaPublisher) PublishRunEvent(ctx context.Context, runID domain.RunID, event runmodels.Event) {
	payload, err := json.Marshal(runEventRecord{
		RunID:   runID.String(),
		EventID: event.ID,
		Type:    string(event.Type),
		Payload: event.Payload,
		At:      event.At,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "encode run event", "error", err.Error())
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(runID.String()),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("publish run event",
				"run_id", runID.String(),
				"event_type", string(event.Type),
				"error", err.Error(),
			)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	p.client.Close()
	return nil
}
