package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/rpcerr"
)

// ErrConcurrentAppend reports that another writer appended to the same
// aggregate first.
var ErrConcurrentAppend = rpcerr.Conflict("aggregate was modified concurrently, retry")

// Event is one immutable fact about an aggregate. Version counts from 1 per
// aggregate.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

func newEvent(aggregateID, aggregateType, eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     time.Now(),
	}, nil
}

// EventStore keeps every event in one in-memory log and hands each append to
// the publisher after it is stored.
type EventStore struct {
	mu          sync.RWMutex
	log         []Event
	byAggregate map[string][]int
	publisher   Publisher
}

func NewEventStore(publisher Publisher) *EventStore {
	return &EventStore{byAggregate: map[string][]int{}, publisher: publisher}
}

func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	event, err := newEvent(aggregateID, aggregateType, eventType, data)
	if err != nil {
		return nil, err
	}

	es.mu.Lock()
	event.Version = len(es.byAggregate[aggregateID]) + 1
	es.byAggregate[aggregateID] = append(es.byAggregate[aggregateID], len(es.log))
	es.log = append(es.log, event)
	es.mu.Unlock()

	if err := publish(ctx, es.publisher, event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (es *EventStore) GetEvents(_ context.Context, aggregateID string) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	idx := es.byAggregate[aggregateID]
	out := make([]Event, len(idx))
	for i, at := range idx {
		out[i] = es.log[at]
	}
	return out, nil
}

// GetAllEvents returns the whole log in append order.
func (es *EventStore) GetAllEvents(context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return append([]Event(nil), es.log...), nil
}

func publish(ctx context.Context, p Publisher, event Event) error {
	if p == nil {
		return nil
	}
	if err := p.Publish(ctx, event.AggregateID, event); err != nil {
		return fmt.Errorf("publish %s %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}
