package store

import "context"

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
}

// Publisher delivers appended events to consumers. The Kafka producer and the
// inline projector both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
