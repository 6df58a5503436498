package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	// TopicIntegrityDrift carries the outcome of integrity scans that found drift.
	TopicIntegrityDrift = "inventory.integrity.drift"
	// TopicAcquisitionRecorded carries committed supplier acquisitions.
	TopicAcquisitionRecorded = "procurement.acquisition.recorded"

	EventDriftDetected       = "InventoryDriftDetected"
	EventAcquisitionRecorded = "AcquisitionRecorded"

	envelopeVersion = 1
)

// Envelope wraps every payload written to the broker.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Event is one message to publish. Key selects the partition so events for
// the same entity stay ordered.
type Event struct {
	Topic   string
	Type    string
	Key     string
	Payload any
}

// Publisher writes domain events to a broker.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Discard drops every event. Used when no broker is configured.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, ...Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes enveloped JSON events with segmentio/kafka-go.
type KafkaPublisher struct {
	writer   messageWriter
	producer string
	now      func() time.Time
}

// NewKafkaPublisher builds a synchronous publisher. Topics are set per message.
func NewKafkaPublisher(brokers []string, producer string) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}, producer)
}

func newKafkaPublisher(w messageWriter, producer string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, producer: producer, now: time.Now}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("events: encode %s payload: %w", ev.Type, err)
		}
		occurred := p.now().UTC()
		body, err := json.Marshal(Envelope{
			EventID:       uuid.New(),
			EventType:     ev.Type,
			EventVersion:  envelopeVersion,
			OccurredAt:    occurred,
			Producer:      p.producer,
			CorrelationID: ev.Key,
			Payload:       payload,
		})
		if err != nil {
			return fmt.Errorf("events: encode %s envelope: %w", ev.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: ev.Topic,
			Key:   []byte(ev.Key),
			Value: body,
			Time:  occurred,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("events: write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
