// Package pagination drives a paged, searchable, sorted list view from a live
// feed. It reconciles page, filter and sort into subscriptions, tracks their
// readiness, keeps the total in sync through the feed's count method and
// exposes the current slice to the view.
package pagination

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
)

// Subscriber opens live feeds. *livefeed.Server and *wsclient.Client both
// satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, feed string, q listquery.ListQuery) (livefeed.Stream, error)
}

// Counter runs the <feed>_count method.
type Counter interface {
	Count(ctx context.Context, feed string, filter listquery.Filter) (int, error)
}

type Options struct {
	Feed         string
	Filter       listquery.Filter
	Sort         []listquery.SortField
	ItemsPerPage int
	// Page is the initial page, 1 when unset.
	Page int

	Subscriber Subscriber
	Counter    Counter
	// Errors receives feed errors (authorization, validation, not found).
	// Optional.
	Errors chan<- error
	Logger *zap.SugaredLogger
}

// Result is the current view state.
type Result struct {
	Items []listquery.Document
	Total int
	Page  int
	Ready bool
}

var (
	ErrNoFeed       = errors.New("pagination: feed name is required")
	ErrNoSubscriber = errors.New("pagination: subscriber is required")
	ErrNoCounter    = errors.New("pagination: counter is required")
)

// Controller owns one list view. All methods are safe for concurrent use.
type Controller struct {
	feed       string
	subscriber Subscriber
	counter    Counter
	errs       chan<- error
	log        *zap.SugaredLogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	changed chan struct{}

	mu       sync.Mutex
	query    listquery.ListQuery
	items    []listquery.Document
	total    int
	ready    bool
	stream   livefeed.Stream
	subGen   uint64
	countGen uint64
	closed   bool
}

// New starts the controller: it subscribes to the first page and fetches
// the total.
func New(ctx context.Context, opts Options) (*Controller, error) {
	switch {
	case opts.Feed == "":
		return nil, ErrNoFeed
	case opts.Subscriber == nil:
		return nil, ErrNoSubscriber
	case opts.Counter == nil:
		return nil, ErrNoCounter
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		feed:       opts.Feed,
		subscriber: opts.Subscriber,
		counter:    opts.Counter,
		errs:       opts.Errors,
		log:        log.With("feed", opts.Feed),
		ctx:        ctx,
		cancel:     cancel,
		changed:    make(chan struct{}, 1),
		items:      []listquery.Document{},
		query: listquery.ListQuery{
			Page:         opts.Page,
			ItemsPerPage: opts.ItemsPerPage,
			Filter:       opts.Filter.Clone(),
			Sort:         append([]listquery.SortField(nil), opts.Sort...),
		}.Normalize(),
	}

	c.mu.Lock()
	c.resubscribeLocked()
	c.refreshCountLocked()
	c.mu.Unlock()
	return c, nil
}

// Result returns a snapshot of the view state.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Items: append([]listquery.Document{}, c.items...),
		Total: c.total,
		Page:  c.query.Page,
		Ready: c.ready,
	}
}

// Query returns the current list query.
func (c *Controller) Query() listquery.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.query
	q.Filter = q.Filter.Clone()
	return q
}

// Changed fires after any state change. Notifications coalesce, so readers
// should call Result after each receive.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

// ChangePage moves to page max(1, n). Moving to the current page does nothing.
func (c *Controller) ChangePage(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || n == c.query.Page {
		return
	}
	c.query.Page = n
	c.resubscribeLocked()
}

// SetFilter replaces the filter. A different filter sends the view back to
// page 1, clears the items and re-fetches the total.
func (c *Controller) SetFilter(filter listquery.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || listquery.FilterEqual(filter, c.query.Filter) {
		return
	}
	c.query.Filter = filter.Clone()
	c.query.Page = 1
	c.items = []listquery.Document{}
	c.total = 0
	c.resubscribeLocked()
	c.refreshCountLocked()
}

// SetSort replaces the sort order. The current items stay visible until the
// new subscription is ready.
func (c *Controller) SetSort(sort []listquery.SortField) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || listquery.SortEqual(sort, c.query.Sort) {
		return
	}
	c.query.Sort = append([]listquery.SortField(nil), sort...)
	c.resubscribeLocked()
}

// Close stops the live subscription and waits for in-flight work to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subGen++
	c.countGen++
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// resubscribeLocked tears down the current subscription and issues a new
// one for c.query. Events from older generations are discarded.
func (c *Controller) resubscribeLocked() {
	c.subGen++
	gen := c.subGen
	if c.stream != nil {
		c.stream.Stop()
		c.stream = nil
	}
	c.ready = false

	q := c.query
	q.Filter = q.Filter.Clone()
	c.wg.Add(1)
	go c.follow(gen, q)
	c.notify()
}

func (c *Controller) follow(gen uint64, q listquery.ListQuery) {
	defer c.wg.Done()

	stream, err := c.subscriber.Subscribe(c.ctx, c.feed, q)
	if err != nil {
		c.fail(gen, err)
		return
	}
	defer stream.Stop()

	c.mu.Lock()
	if gen != c.subGen {
		c.mu.Unlock()
		return
	}
	c.stream = stream
	c.mu.Unlock()

	pending := map[string]listquery.Document{}
	live := false
	for ev := range stream.Events() {
		if ev.Kind == livefeed.Error {
			err := errors.New("feed error")
			if ev.Err != nil {
				err = ev.Err
			}
			c.fail(gen, err)
			return
		}

		c.mu.Lock()
		if gen != c.subGen {
			c.mu.Unlock()
			return
		}
		switch ev.Kind {
		case livefeed.Added, livefeed.Changed:
			if live {
				c.items = upsert(c.items, ev.Doc)
				listquery.SortDocuments(c.items, q.Sort)
			} else {
				pending[ev.ID] = ev.Doc
			}
		case livefeed.Removed:
			if live {
				c.items = remove(c.items, ev.ID)
			} else {
				delete(pending, ev.ID)
			}
		case livefeed.Ready:
			if !live {
				items := make([]listquery.Document, 0, len(pending))
				for _, doc := range pending {
					items = append(items, doc)
				}
				listquery.SortDocuments(items, q.Sort)
				c.items = items
				c.ready = true
				live = true
			}
		}
		c.mu.Unlock()
		c.notify()
	}

	c.mu.Lock()
	current := gen == c.subGen
	c.mu.Unlock()
	if current && !live {
		c.log.Debugf("Feed closed before ready (page %d)", q.Page)
	}
}

// fail surfaces a feed error: the view becomes ready with no items and the
// error goes to the caller's channel. There is no retry.
func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.subGen {
		c.mu.Unlock()
		return
	}
	c.items = []listquery.Document{}
	c.ready = true
	c.mu.Unlock()
	c.notify()

	if c.ctx.Err() != nil {
		return
	}
	c.log.Warnf("Feed failed: %v", err)
	if c.errs != nil {
		select {
		case c.errs <- err:
		case <-c.ctx.Done():
		}
	}
}

// refreshCountLocked fetches the total for the current filter. Only the
// response to the latest request is applied.
func (c *Controller) refreshCountLocked() {
	c.countGen++
	gen := c.countGen
	filter := c.query.Filter.Clone()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		n, err := c.counter.Count(c.ctx, c.feed, filter)

		c.mu.Lock()
		if gen != c.countGen {
			c.mu.Unlock()
			c.log.Debugf("Discarding stale count for %s", filter.Key())
			return
		}
		if err != nil {
			c.log.Warnf("Count failed, showing 0: %v", err)
			n = 0
		}
		c.total = n
		c.mu.Unlock()
		c.notify()
	}()
}

func upsert(items []listquery.Document, doc listquery.Document) []listquery.Document {
	id := doc.ID()
	for i, it := range items {
		if it.ID() == id {
			items[i] = doc
			return items
		}
	}
	return append(items, doc)
}

func remove(items []listquery.Document, id string) []listquery.Document {
	for i, it := range items {
		if it.ID() == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}
