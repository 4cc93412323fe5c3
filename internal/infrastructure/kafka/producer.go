package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/collab-platform/internal/infrastructure/store"
)

// Header keys set on every stored event so consumers can route without
// decoding the payload.
const (
	HeaderEventType     = "event-type"
	HeaderAggregateType = "aggregate-type"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes events keyed by aggregate id, so one aggregate's events
// stay ordered on a single partition. It implements store.Publisher.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := encode(key, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func encode(key string, event any) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", key, err)
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}

	var e *store.Event
	switch v := event.(type) {
	case store.Event:
		e = &v
	case *store.Event:
		e = v
	}
	if e != nil {
		msg.Headers = []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderAggregateType, Value: []byte(e.AggregateType)},
		}
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
