package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/activitysync/internal/domain"
)

// Header names stamped on every queued event.
const (
	HeaderEventKind = "event_kind"
	HeaderAthleteID = "athlete_id"
	HeaderEventID   = "provider_event_id"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink queues events on a topic keyed by object id so that events for one
// activity stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaSink constructs a KafkaSink. Topic may be empty when the writer has one.
func NewKafkaSink(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, event domain.CanonicalEvent) error {
	msg, err := EncodeMessage(s.topic, event)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write webhook event: %w", err)
	}
	return nil
}

// EncodeMessage renders the broker message for an event.
func EncodeMessage(topic string, event domain.CanonicalEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal webhook event: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(event.ObjectID, 10)),
		Value: value,
		Time:  event.ReceivedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventKind, Value: []byte(event.Kind)},
			{Key: HeaderAthleteID, Value: []byte(strconv.FormatInt(event.AthleteID, 10))},
			{Key: HeaderEventID, Value: []byte(event.ProviderEventID)},
		},
	}, nil
}
