package kafka

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var consumedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "kafka",
		Name:      "messages_total",
		Help:      "Messages read from the event topic, by consumer group and result.",
	},
	[]string{"group", "result"},
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader messageReader
	group  string
	only   map[string]bool
	log    *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, groupID, log.With("topic", topic, "group", groupID))
}

func newConsumer(reader messageReader, group string, log *zap.SugaredLogger) *Consumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Consumer{reader: reader, group: group, log: log}
}

// Only restricts the handler to the given event types. Messages without an
// event-type header are always handled.
func (c *Consumer) Only(eventTypes ...string) *Consumer {
	c.only = make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		c.only[t] = true
	}
	return c
}

func (c *Consumer) wants(msg kafka.Message) bool {
	if c.only == nil {
		return true
	}
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType {
			return c.only[string(h.Value)]
		}
	}
	return true
}

// Consume reads until ctx is cancelled. Handler errors are logged and the
// message is committed anyway; projections are rebuilt by replay.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consumedMessages.WithLabelValues(c.group, "read_error").Inc()
			c.log.Warnw("Error reading message", "error", err)
			continue
		}
		if !c.wants(msg) {
			consumedMessages.WithLabelValues(c.group, "skipped").Inc()
			continue
		}

		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			consumedMessages.WithLabelValues(c.group, "error").Inc()
			c.log.Errorw("Error handling message",
				"key", string(msg.Key),
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		consumedMessages.WithLabelValues(c.group, "ok").Inc()
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
