package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/collab-platform/internal/api"
	"github.com/example/collab-platform/internal/api/middleware"
	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/infrastructure/store"
	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/pagination"
	"github.com/example/collab-platform/internal/rpcerr"
)

const testSecret = "wsclient-test-secret-of-32-bytes!!"

// ============ Test helpers ============

type fixture struct {
	feeds *livefeed.Server
	store *store.ReadStore
	jwt   *auth.JWTService
	url   string
}

func newFixture(t *testing.T, n int) *fixture {
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

	feeds := livefeed.NewServer(rs, time.Millisecond, nil)
	require.NoError(t, feeds.Register(livefeed.Publication{
		Name:         "items",
		Collection:   "items",
		SearchFields: []string{"title"},
	}))
	require.NoError(t, feeds.Register(livefeed.Publication{
		Name:       "private",
		Collection: "items",
		Scope: func(ctx context.Context, filter listquery.Filter) (listquery.Filter, error) {
			if _, err := auth.RequireUser(ctx); err != nil {
				return nil, err
			}
			return filter, nil
		},
	}))

	jwt := auth.NewJWTService(testSecret, time.Minute, time.Hour)
	handlers := api.NewFeedHandlers(feeds, nil, nil)
	ts := httptest.NewServer(middleware.Authenticate(jwt)(http.HandlerFunc(handlers.Serve)))
	t.Cleanup(ts.Close)

	return &fixture{
		feeds: feeds,
		store: rs,
		jwt:   jwt,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func (f *fixture) dial(t *testing.T, header http.Header) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, f.url, header, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, s livefeed.Stream) (livefeed.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return livefeed.Event{}, false
	}
}

// untilReady collects added events up to the ready marker.
func untilReady(t *testing.T, s livefeed.Stream) []string {
	t.Helper()
	var got []string
	for {
		ev, ok := next(t, s)
		require.True(t, ok, "stream closed before ready")
		switch ev.Kind {
		case livefeed.Ready:
			return got
		case livefeed.Added:
			got = append(got, ev.ID)
		default:
			t.Fatalf("unexpected %s event before ready", ev.Kind)
		}
	}
}

// ============ Subscription Tests ============

func TestClient_SubscribeDeliversWindowThenReady(t *testing.T) {
	f := newFixture(t, 25)
	c := f.dial(t, nil)

	s, err := c.Subscribe(context.Background(), "items", listquery.ListQuery{
		Page:         3,
		ItemsPerPage: 10,
		Sort:         []listquery.SortField{{Field: "rank", Order: listquery.Asc}},
	})
	require.NoError(t, err)
	defer s.Stop()

	assert.Equal(t, []string{"item-20", "item-21", "item-22", "item-23", "item-24"}, untilReady(t, s))
}

func TestClient_LiveChangesArrive(t *testing.T) {
	f := newFixture(t, 3)
	c := f.dial(t, nil)

	s, err := c.Subscribe(context.Background(), "items", listquery.ListQuery{ItemsPerPage: 10})
	require.NoError(t, err)
	defer s.Stop()
	require.Len(t, untilReady(t, s), 3)

	require.NoError(t, f.store.Set(context.Background(), "items", "item-99", listquery.Document{
		"id": "item-99", "title": "Fresh", "rank": float64(99),
	}))
	f.feeds.Notify("items")

	ev, ok := next(t, s)
	require.True(t, ok)
	assert.Equal(t, livefeed.Added, ev.Kind)
	assert.Equal(t, "item-99", ev.ID)
	assert.Equal(t, "Fresh", ev.Doc["title"])
}

func TestClient_UnknownFeedEndsStreamWithError(t *testing.T) {
	f := newFixture(t, 0)
	c := f.dial(t, nil)

	s, err := c.Subscribe(context.Background(), "nope", listquery.ListQuery{})
	require.NoError(t, err)

	ev, ok := next(t, s)
	require.True(t, ok)
	assert.Equal(t, livefeed.Error, ev.Kind)
	require.NotNil(t, ev.Err)
	assert.Equal(t, rpcerr.CodeNotFound, ev.Err.Code)

	_, ok = next(t, s)
	assert.False(t, ok, "stream must close after the error")
}

func TestClient_ScopedFeedUsesCredentials(t *testing.T) {
	f := newFixture(t, 2)

	anon := f.dial(t, nil)
	s, err := anon.Subscribe(context.Background(), "private", listquery.ListQuery{})
	require.NoError(t, err)
	ev, ok := next(t, s)
	require.True(t, ok)
	require.NotNil(t, ev.Err)
	assert.Equal(t, rpcerr.CodeNotAuthorized, ev.Err.Code)

	token, _, err := f.jwt.GenerateAccessToken(auth.Identity{UserID: "u1", Role: auth.RoleMember})
	require.NoError(t, err)
	authed := f.dial(t, http.Header{"Authorization": []string{"Bearer " + token}})
	s, err = authed.Subscribe(context.Background(), "private", listquery.ListQuery{})
	require.NoError(t, err)
	defer s.Stop()
	assert.Len(t, untilReady(t, s), 2)
}

func TestClient_StopClosesEventsWithoutBlocking(t *testing.T) {
	f := newFixture(t, 5)
	c := f.dial(t, nil)

	s, err := c.Subscribe(context.Background(), "items", listquery.ListQuery{ItemsPerPage: 10})
	require.NoError(t, err)
	untilReady(t, s)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}

	for range s.Events() {
	}
	assert.Eventually(t, func() bool { return f.feeds.Subscriptions("items") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_CloseEndsStreams(t *testing.T) {
	f := newFixture(t, 1)
	c := f.dial(t, nil)

	s, err := c.Subscribe(context.Background(), "items", listquery.ListQuery{})
	require.NoError(t, err)
	untilReady(t, s)

	require.NoError(t, c.Close())

	for range s.Events() {
	}
	_, err = c.Subscribe(context.Background(), "items", listquery.ListQuery{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Count(context.Background(), "items", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

// ============ Count Tests ============

func TestClient_Count(t *testing.T) {
	f := newFixture(t, 25)
	c := f.dial(t, nil)

	n, err := c.Count(context.Background(), "items", listquery.Filter{"search": "Item 1"})
	require.NoError(t, err)
	assert.Equal(t, 11, n) // Item 1, Item 10..19

	n, err = c.Count(context.Background(), "items", nil)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestClient_CountUnknownFeed(t *testing.T) {
	f := newFixture(t, 0)
	c := f.dial(t, nil)

	_, err := c.Count(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, rpcerr.ErrNotFound)
}

// ============ Controller over the wire ============

func TestClient_DrivesPaginationController(t *testing.T) {
	f := newFixture(t, 25)
	c := f.dial(t, nil)

	ctrl, err := pagination.New(context.Background(), pagination.Options{
		Feed:         "items",
		Sort:         []listquery.SortField{{Field: "rank", Order: listquery.Asc}},
		ItemsPerPage: 10,
		Subscriber:   c,
		Counter:      c,
	})
	require.NoError(t, err)
	defer ctrl.Close()

	wait := func(cond func(pagination.Result) bool) pagination.Result {
		var r pagination.Result
		require.Eventually(t, func() bool {
			r = ctrl.Result()
			return cond(r)
		}, 2*time.Second, 5*time.Millisecond)
		return r
	}

	r := wait(func(r pagination.Result) bool { return r.Ready && r.Total == 25 })
	assert.Len(t, r.Items, 10)

	ctrl.ChangePage(3)
	r = wait(func(r pagination.Result) bool { return r.Ready && r.Page == 3 })
	assert.Len(t, r.Items, 5)

	ctrl.ChangePage(4)
	r = wait(func(r pagination.Result) bool { return r.Ready && r.Page == 4 })
	assert.Empty(t, r.Items)

	ctrl.SetFilter(listquery.Filter{"search": "abc"})
	r = wait(func(r pagination.Result) bool { return r.Ready && r.Page == 1 && r.Total == 0 })
	assert.Empty(t, r.Items)
}
