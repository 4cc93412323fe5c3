package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/rpcerr"
)

// ============ Test helpers ============

type countingSubscriber struct {
	Subscriber
	calls atomic.Int32
}

func (s *countingSubscriber) Subscribe(ctx context.Context, feed string, q listquery.ListQuery) (livefeed.Stream, error) {
	s.calls.Add(1)
	return s.Subscriber.Subscribe(ctx, feed, q)
}

// gatedCounter answers each count only when the test releases it.
type gatedCounter struct {
	mu    sync.Mutex
	gates map[string]chan int
}

func (g *gatedCounter) gate(filter listquery.Filter) chan int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = make(map[string]chan int)
	}
	key := filter.Key()
	if g.gates[key] == nil {
		g.gates[key] = make(chan int)
	}
	return g.gates[key]
}

func (g *gatedCounter) Count(ctx context.Context, _ string, filter listquery.Filter) (int, error) {
	select {
	case n := <-g.gate(filter):
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type failingCounter struct{}

func (failingCounter) Count(context.Context, string, listquery.Filter) (int, error) {
	return 0, rpcerr.Unavailable("count failed", errors.New("timeout"))
}

type fakeStream struct {
	id     string
	mu     sync.Mutex
	events chan livefeed.Event
	closed bool
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Events() <-chan livefeed.Event { return s.events }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *fakeStream) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) send(evs ...livefeed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ev := range evs {
		s.events <- ev
	}
}

// scriptedSubscriber hands every opened stream to the test.
type scriptedSubscriber struct {
	opened chan *fakeStream
	err    error
	calls  atomic.Int32
}

func newScriptedSubscriber() *scriptedSubscriber {
	return &scriptedSubscriber{opened: make(chan *fakeStream, 8)}
}

func (s *scriptedSubscriber) Subscribe(_ context.Context, _ string, q listquery.ListQuery) (livefeed.Stream, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	st := &fakeStream{id: fmt.Sprintf("s%d-p%d", n, q.Page), events: make(chan livefeed.Event, 32)}
	s.opened <- st
	return st, nil
}

func (s *scriptedSubscriber) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case st := <-s.opened:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription opened")
		return nil
	}
}

type fixedCounter int

func (n fixedCounter) Count(context.Context, string, listquery.Filter) (int, error) {
	return int(n), nil
}

func doc(id string) listquery.Document {
	return listquery.Document{"_id": id, "title": id}
}

func added(id string) livefeed.Event {
	return livefeed.Event{Kind: livefeed.Added, ID: id, Doc: doc(id)}
}

var ready = livefeed.Event{Kind: livefeed.Ready}

func newFeedServer(t *testing.T, n int) (*livefeed.Server, *store.ReadStore) {
	t.Helper()
	rs := store.NewReadStore()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("item-%02d", i)
		require.NoError(t, rs.Set(context.Background(), "items", id, listquery.Document{
			"id":    id,
			"title": fmt.Sprintf("Item %d", i),
			"rank":  float64(i),
		}))
	}
	srv := livefeed.NewServer(rs, time.Millisecond, nil)
	require.NoError(t, srv.Register(livefeed.Publication{
		Name:         "items",
		Collection:   "items",
		SearchFields: []string{"title"},
	}))
	return srv, rs
}

func waitFor(t *testing.T, c *Controller, cond func(Result) bool) Result {
	t.Helper()
	var r Result
	require.Eventually(t, func() bool {
		r = c.Result()
		return cond(r)
	}, 2*time.Second, 5*time.Millisecond)
	return r
}

func ids(docs []listquery.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

// ============ Construction Tests ============

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(context.Background(), Options{Subscriber: newScriptedSubscriber(), Counter: fixedCounter(0)})
	assert.ErrorIs(t, err, ErrNoFeed)

	_, err = New(context.Background(), Options{Feed: "f", Counter: fixedCounter(0)})
	assert.ErrorIs(t, err, ErrNoSubscriber)

	_, err = New(context.Background(), Options{Feed: "f", Subscriber: newScriptedSubscriber()})
	assert.ErrorIs(t, err, ErrNoCounter)
}

// ============ End-to-end Tests ============

func TestController_PagesThroughTwentyFiveItems(t *testing.T) {
	srv, _ := newFeedServer(t, 25)
	c, err := New(context.Background(), Options{
		Feed:         "items",
		Filter:       listquery.Filter{"search": ""},
		Sort:         []listquery.SortField{{Field: "rank", Order: listquery.Asc}},
		ItemsPerPage: 10,
		Subscriber:   srv,
		Counter:      srv,
	})
	require.NoError(t, err)
	defer c.Close()

	r := waitFor(t, c, func(r Result) bool { return r.Ready && r.Total == 25 })
	assert.Equal(t, 1, r.Page)
	assert.Len(t, r.Items, 10)
	assert.Equal(t, "item-00", r.Items[0].ID())

	c.ChangePage(3)
	r = waitFor(t, c, func(r Result) bool { return r.Ready && r.Page == 3 })
	assert.Equal(t, []string{"item-20", "item-21", "item-22", "item-23", "item-24"}, ids(r.Items))

	c.ChangePage(4)
	r = waitFor(t, c, func(r Result) bool { return r.Ready && r.Page == 4 })
	assert.Empty(t, r.Items)
	assert.Equal(t, 25, r.Total)
}

func TestController_SearchWithoutMatches(t *testing.T) {
	srv, _ := newFeedServer(t, 25)
	errs := make(chan error, 1)
	c, err := New(context.Background(), Options{
		Feed:         "items",
		Filter:       listquery.Filter{"search": "abc"},
		ItemsPerPage: 10,
		Subscriber:   srv,
		Counter:      srv,
		Errors:       errs,
	})
	require.NoError(t, err)
	defer c.Close()

	r := waitFor(t, c, func(r Result) bool { return r.Ready })
	assert.NotNil(t, r.Items)
	assert.Empty(t, r.Items)
	assert.Equal(t, 0, r.Total)
	assert.Empty(t, errs)
}

func TestController_ChangeToCurrentPageDoesNotResubscribe(t *testing.T) {
	srv, _ := newFeedServer(t, 25)
	sub := &countingSubscriber{Subscriber: srv}
	c, err := New(context.Background(), Options{Feed: "items", ItemsPerPage: 10, Subscriber: sub, Counter: srv})
	require.NoError(t, err)
	defer c.Close()
	waitFor(t, c, func(r Result) bool { return r.Ready })

	c.ChangePage(1)
	c.ChangePage(0)
	c.ChangePage(-5)

	assert.Equal(t, int32(1), sub.calls.Load())
	assert.True(t, c.Result().Ready)

	c.ChangePage(2)
	assert.Equal(t, 2, c.Result().Page)
	waitFor(t, c, func(r Result) bool { return r.Ready })
	assert.Equal(t, int32(2), sub.calls.Load())
}

func TestController_FilterChangeResetsToFirstPage(t *testing.T) {
	sub := newScriptedSubscriber()
	counter := &gatedCounter{}
	c, err := New(context.Background(), Options{Feed: "f", ItemsPerPage: 2, Subscriber: sub, Counter: counter})
	require.NoError(t, err)
	defer c.Close()

	sub.next(t).send(added("a"), added("b"), ready)
	counter.gate(listquery.Filter{}) <- 6
	c.ChangePage(3)
	sub.next(t).send(added("e"), added("f"), ready)
	waitFor(t, c, func(r Result) bool { return r.Ready && r.Page == 3 && r.Total == 6 })

	c.SetFilter(listquery.Filter{"search": "x"})

	r := c.Result()
	assert.Equal(t, 1, r.Page)
	assert.False(t, r.Ready)
	assert.Empty(t, r.Items)
	assert.Equal(t, 0, r.Total)

	filtered := sub.next(t)
	assert.Equal(t, "s3-p1", filtered.ID())
	filtered.send(added("x1"), ready)
	counter.gate(listquery.Filter{"search": "x"}) <- 1

	r = waitFor(t, c, func(r Result) bool { return r.Ready && r.Total == 1 })
	assert.Equal(t, 1, r.Page)
	assert.Equal(t, []string{"x1"}, ids(r.Items))
}

func TestController_FilterChangeAgainstLiveFeed(t *testing.T) {
	srv, _ := newFeedServer(t, 25)
	c, err := New(context.Background(), Options{
		Feed:         "items",
		Sort:         []listquery.SortField{{Field: "rank", Order: listquery.Asc}},
		ItemsPerPage: 10,
		Subscriber:   srv,
		Counter:      srv,
	})
	require.NoError(t, err)
	defer c.Close()

	c.ChangePage(3)
	waitFor(t, c, func(r Result) bool { return r.Ready && r.Page == 3 && r.Total == 25 })

	c.SetFilter(listquery.Filter{"search": "item 1"})
	assert.Equal(t, 1, c.Result().Page)

	// "Item 1" and "Item 10".."Item 19"
	r := waitFor(t, c, func(r Result) bool { return r.Ready && r.Total == 11 && len(r.Items) == 10 })
	assert.Equal(t, 1, r.Page)
	assert.Equal(t, "item-01", r.Items[0].ID())
}

func TestController_SameFilterIsNoop(t *testing.T) {
	srv, _ := newFeedServer(t, 5)
	sub := &countingSubscriber{Subscriber: srv}
	c, err := New(context.Background(), Options{
		Feed:       "items",
		Filter:     listquery.Filter{"search": "item"},
		Subscriber: sub,
		Counter:    srv,
	})
	require.NoError(t, err)
	defer c.Close()
	waitFor(t, c, func(r Result) bool { return r.Ready })

	c.SetFilter(listquery.Filter{"search": "item"})

	assert.Equal(t, int32(1), sub.calls.Load())
	assert.Len(t, c.Result().Items, 5)
}

func TestController_LiveUpdatesKeepSortOrder(t *testing.T) {
	srv, rs := newFeedServer(t, 3)
	c, err := New(context.Background(), Options{
		Feed:         "items",
		Sort:         []listquery.SortField{{Field: "rank", Order: listquery.Desc}},
		ItemsPerPage: 10,
		Subscriber:   srv,
		Counter:      srv,
	})
	require.NoError(t, err)
	defer c.Close()
	waitFor(t, c, func(r Result) bool { return r.Ready && len(r.Items) == 3 })

	require.NoError(t, rs.Set(context.Background(), "items", "item-50", listquery.Document{
		"id": "item-50", "title": "Item 50", "rank": float64(1),
	}))
	srv.Notify("items")

	r := waitFor(t, c, func(r Result) bool { return len(r.Items) == 4 })
	// rank ties break on ascending id
	assert.Equal(t, []string{"item-02", "item-01", "item-50", "item-00"}, ids(r.Items))
}

func TestController_SetSortReorders(t *testing.T) {
	srv, _ := newFeedServer(t, 3)
	c, err := New(context.Background(), Options{
		Feed:       "items",
		Sort:       []listquery.SortField{{Field: "rank", Order: listquery.Asc}},
		Subscriber: srv,
		Counter:    srv,
	})
	require.NoError(t, err)
	defer c.Close()
	waitFor(t, c, func(r Result) bool { return r.Ready })

	c.SetSort([]listquery.SortField{{Field: "rank", Order: listquery.Desc}})

	r := waitFor(t, c, func(r Result) bool { return r.Ready && len(r.Items) == 3 && r.Items[0].ID() == "item-02" })
	assert.Equal(t, []string{"item-02", "item-01", "item-00"}, ids(r.Items))
	assert.Equal(t, 3, r.Total)
}

// ============ Count Synchronization Tests ============

func TestController_StaleCountIsDiscarded(t *testing.T) {
	sub := newScriptedSubscriber()
	counter := &gatedCounter{}
	filterA := listquery.Filter{"search": "a"}
	filterB := listquery.Filter{"search": "b"}

	c, err := New(context.Background(), Options{Feed: "f", Filter: filterA, Subscriber: sub, Counter: counter})
	require.NoError(t, err)
	defer c.Close()

	c.SetFilter(filterB)

	counter.gate(filterB) <- 7
	waitFor(t, c, func(r Result) bool { return r.Total == 7 })

	counter.gate(filterA) <- 99
	assert.Never(t, func() bool { return c.Result().Total != 7 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestController_StaleCountBeforeNewerResolves(t *testing.T) {
	sub := newScriptedSubscriber()
	counter := &gatedCounter{}
	filterA := listquery.Filter{"search": "a"}
	filterB := listquery.Filter{"search": "b"}

	c, err := New(context.Background(), Options{Feed: "f", Filter: filterA, Subscriber: sub, Counter: counter})
	require.NoError(t, err)
	defer c.Close()

	c.SetFilter(filterB)

	counter.gate(filterA) <- 99
	assert.Never(t, func() bool { return c.Result().Total == 99 }, 100*time.Millisecond, 5*time.Millisecond)

	counter.gate(filterB) <- 4
	waitFor(t, c, func(r Result) bool { return r.Total == 4 })
}

func TestController_CountFailureShowsZero(t *testing.T) {
	srv, _ := newFeedServer(t, 5)
	c, err := New(context.Background(), Options{Feed: "items", Subscriber: srv, Counter: failingCounter{}})
	require.NoError(t, err)
	defer c.Close()

	r := waitFor(t, c, func(r Result) bool { return r.Ready && len(r.Items) == 5 })
	assert.Equal(t, 0, r.Total)
}

// ============ Readiness Tests ============

func TestController_PriorItemsVisibleUntilReady(t *testing.T) {
	sub := newScriptedSubscriber()
	c, err := New(context.Background(), Options{Feed: "f", ItemsPerPage: 2, Subscriber: sub, Counter: fixedCounter(3)})
	require.NoError(t, err)
	defer c.Close()

	first := sub.next(t)
	first.send(added("a"), added("b"), ready)
	waitFor(t, c, func(r Result) bool { return r.Ready && len(r.Items) == 2 })

	c.ChangePage(2)
	second := sub.next(t)
	assert.Eventually(t, first.stopped, time.Second, 5*time.Millisecond)

	r := c.Result()
	assert.False(t, r.Ready)
	assert.Equal(t, 2, r.Page)
	assert.Equal(t, []string{"a", "b"}, ids(r.Items))

	second.send(added("c"))
	assert.Never(t, func() bool { return len(c.Result().Items) == 1 }, 50*time.Millisecond, 5*time.Millisecond)

	second.send(ready)
	r = waitFor(t, c, func(r Result) bool { return r.Ready && r.Total == 3 })
	assert.Equal(t, []string{"c"}, ids(r.Items))
	assert.Equal(t, 3, r.Total)
}

func TestController_RemovedBeforeReadyIsDropped(t *testing.T) {
	sub := newScriptedSubscriber()
	c, err := New(context.Background(), Options{Feed: "f", Subscriber: sub, Counter: fixedCounter(1)})
	require.NoError(t, err)
	defer c.Close()

	st := sub.next(t)
	st.send(added("a"), added("b"), livefeed.Event{Kind: livefeed.Removed, ID: "a"}, ready)

	r := waitFor(t, c, func(r Result) bool { return r.Ready })
	assert.Equal(t, []string{"b"}, ids(r.Items))
}

func TestController_ChangedNotifies(t *testing.T) {
	sub := newScriptedSubscriber()
	c, err := New(context.Background(), Options{Feed: "f", Subscriber: sub, Counter: fixedCounter(1)})
	require.NoError(t, err)
	defer c.Close()

	st := sub.next(t)
	st.send(added("a"), ready)

	deadline := time.After(2 * time.Second)
	for !c.Result().Ready {
		select {
		case <-c.Changed():
		case <-deadline:
			t.Fatal("never became ready")
		}
	}
}

// ============ Failure Tests ============

func TestController_SubscribeErrorIsSurfacedWithoutRetry(t *testing.T) {
	sub := newScriptedSubscriber()
	sub.err = rpcerr.Forbidden("members only")
	errs := make(chan error, 1)

	c, err := New(context.Background(), Options{Feed: "f", Subscriber: sub, Counter: fixedCounter(5), Errors: errs})
	require.NoError(t, err)
	defer c.Close()

	select {
	case got := <-errs:
		assert.ErrorIs(t, got, rpcerr.ErrForbidden)
	case <-time.After(2 * time.Second):
		t.Fatal("error not forwarded")
	}
	r := waitFor(t, c, func(r Result) bool { return r.Ready })
	assert.Empty(t, r.Items)
	assert.Never(t, func() bool { return sub.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_ErrorEventClearsItems(t *testing.T) {
	sub := newScriptedSubscriber()
	errs := make(chan error, 1)
	c, err := New(context.Background(), Options{Feed: "f", Subscriber: sub, Counter: fixedCounter(1), Errors: errs})
	require.NoError(t, err)
	defer c.Close()

	first := sub.next(t)
	first.send(added("a"), ready)
	waitFor(t, c, func(r Result) bool { return r.Ready && len(r.Items) == 1 })

	c.ChangePage(2)
	second := sub.next(t)
	second.send(livefeed.Event{Kind: livefeed.Error, Err: rpcerr.Validation("page", "bad page")})

	got := <-errs
	assert.ErrorIs(t, got, rpcerr.ErrValidation)
	r := waitFor(t, c, func(r Result) bool { return r.Ready })
	assert.Empty(t, r.Items)
}

func TestController_CloseStopsStream(t *testing.T) {
	sub := newScriptedSubscriber()
	c, err := New(context.Background(), Options{Feed: "f", Subscriber: sub, Counter: fixedCounter(1)})
	require.NoError(t, err)

	st := sub.next(t)
	st.send(added("a"), ready)
	waitFor(t, c, func(r Result) bool { return r.Ready })

	c.Close()
	c.Close()

	assert.True(t, st.stopped())
	c.ChangePage(5)
	assert.Equal(t, 1, c.Result().Page)
}
