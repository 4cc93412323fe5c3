package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/infrastructure/store/mocks"
)

type counter struct {
	ID      string
	Total   int
	Version int
}

func (c *counter) GetID() string   { return c.ID }
func (c *counter) GetVersion() int { return c.Version }

func (c *counter) ApplyEvent(e store.Event) error {
	var data struct {
		By int `json:"by"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return err
	}
	c.ID = e.AggregateID
	c.Total += data.By
	c.Version = e.Version
	return nil
}

func TestLoadAggregate_Replays(t *testing.T) {
	es := mocks.NewMockEventStore()
	require.NoError(t, es.AddEvent("c1", "Counter", "Incremented", map[string]int{"by": 2}))
	require.NoError(t, es.AddEvent("c1", "Counter", "Incremented", map[string]int{"by": 3}))

	c, found, err := LoadAggregate(context.Background(), es, "c1", func() *counter { return &counter{} })

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, c.Total)
	assert.Equal(t, 2, c.GetVersion())
}

func TestLoadAggregate_NotFound(t *testing.T) {
	es := mocks.NewMockEventStore()

	c, found, err := LoadAggregate(context.Background(), es, "missing", func() *counter { return &counter{} })

	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, c)
}

func TestLoadAggregate_StoreError(t *testing.T) {
	es := mocks.NewMockEventStore()
	es.GetEventsErr = errors.New("db down")

	_, _, err := LoadAggregate(context.Background(), es, "c1", func() *counter { return &counter{} })

	assert.ErrorContains(t, err, "db down")
}

func TestActor_Owns(t *testing.T) {
	assert.True(t, Actor{UserID: "u1"}.Owns("u1"))
	assert.False(t, Actor{UserID: "u1"}.Owns("u2"))
	assert.False(t, Actor{}.Owns(""))
	assert.True(t, Actor{UserID: "u1", Admin: true}.Owns("u2"))
}
