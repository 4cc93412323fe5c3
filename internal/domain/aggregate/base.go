package aggregate

import (
	"context"
	"fmt"

	"github.com/example/collab-platform/internal/infrastructure/store"
)

// Aggregate is an event-sourced entity rebuilt by replaying its events
type Aggregate interface {
	GetID() string
	GetVersion() int
	ApplyEvent(store.Event) error
}

// LoadAggregate replays every event of id into a fresh aggregate. The bool
// reports whether any event was found.
func LoadAggregate[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T

	events, err := eventStore.GetEvents(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load events for %s: %w", id, err)
	}
	if len(events) == 0 {
		return zero, false, nil
	}

	agg := newAggregate()
	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply %s: %w", event.EventType, err)
		}
	}
	return agg, true, nil
}

// Actor is the caller a domain operation runs on behalf of.
type Actor struct {
	UserID string
	Name   string
	Admin  bool
}

// Owns reports whether the actor may act on something owned by ownerID.
func (a Actor) Owns(ownerID string) bool {
	return a.Admin || (a.UserID != "" && a.UserID == ownerID)
}
