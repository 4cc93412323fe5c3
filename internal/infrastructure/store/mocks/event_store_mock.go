// Package mocks holds in-memory doubles of the store interfaces that record
// what the code under test did to them.
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/collab-platform/internal/infrastructure/store"
)

// AppendCall is one recorded Append, with Data as passed (not yet encoded).
type AppendCall struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Data          any
}

// MockEventStore keeps a single ordered log. Set AppendErr or GetEventsErr to
// make the next calls fail; failed appends are still recorded.
type MockEventStore struct {
	mu  sync.RWMutex
	log []store.Event

	AppendCalls  []AppendCall
	AppendErr    error
	GetEventsErr error
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{}
}

func (m *MockEventStore) Append(_ context.Context, aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls = append(m.AppendCalls, AppendCall{aggregateID, aggregateType, eventType, data})
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}
	return m.record(aggregateID, aggregateType, eventType, data)
}

// AddEvent seeds the log without recording an AppendCall.
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.record(aggregateID, aggregateType, eventType, data)
	return err
}

func (m *MockEventStore) record(aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	version := 1
	for _, e := range m.log {
		if e.AggregateID == aggregateID {
			version++
		}
	}
	e := store.Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     time.Now(),
		Version:       version,
	}
	m.log = append(m.log, e)
	return &e, nil
}

func (m *MockEventStore) GetEvents(_ context.Context, aggregateID string) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	var out []store.Event
	for _, e := range m.log {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetAllEvents returns the log in append order.
func (m *MockEventStore) GetAllEvents(context.Context) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.Event(nil), m.log...), nil
}

// EventTypes lists the recorded append types, failed ones included.
func (m *MockEventStore) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, len(m.AppendCalls))
	for i, c := range m.AppendCalls {
		types[i] = c.EventType
	}
	return types
}
