package livefeed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/rpcerr"
)

const (
	DefaultCountTTL = 2 * time.Second
	eventBuffer     = 64
)

// Server holds the registered publications and fans store changes out to the
// subscriptions watching the touched collection.
type Server struct {
	source Source
	log    *zap.SugaredLogger
	counts *cache.Cache

	// countMu orders count cache writes against Notify; gens counts the
	// invalidations per collection.
	countMu sync.Mutex
	gens    map[string]uint64

	mu   sync.RWMutex
	pubs map[string]*Publication
	subs map[string]map[*Subscription]struct{} // collection -> subscriptions
}

// NewServer creates a feed server over source. countTTL <= 0 uses
// DefaultCountTTL.
func NewServer(source Source, countTTL time.Duration, log *zap.SugaredLogger) *Server {
	if countTTL <= 0 {
		countTTL = DefaultCountTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		source: source,
		log:    log,
		counts: cache.New(countTTL, 2*countTTL),
		gens:   make(map[string]uint64),
		pubs:   make(map[string]*Publication),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Register adds a publication.
func (s *Server) Register(pub Publication) error {
	if pub.Name == "" || pub.Collection == "" {
		return ErrInvalidPublication
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pubs[pub.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFeed, pub.Name)
	}
	p := pub
	s.pubs[pub.Name] = &p
	s.log.Debugf("Registered feed %s on %s", pub.Name, pub.Collection)
	return nil
}

// Feeds lists the registered feed names.
func (s *Server) Feeds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.pubs))
	for name := range s.pubs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) publication(name string) (*Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.pubs[name]
	if !ok {
		return nil, rpcerr.NotFound("unknown feed " + name)
	}
	return pub, nil
}

// Subscribe starts a live query. Scope errors are returned as is. The
// subscription lives until Stop is called or ctx is cancelled.
func (s *Server) Subscribe(ctx context.Context, feed string, q listquery.ListQuery) (Stream, error) {
	pub, err := s.publication(feed)
	if err != nil {
		return nil, err
	}
	q = q.Normalize()
	filter, err := pub.Effective(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	q.Filter = filter

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:     uuid.New().String(),
		server: s,
		pub:    pub,
		spec:   q.Spec(pub.SearchFields),
		events: make(chan Event, eventBuffer),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		log:    s.log.With("feed", pub.Name),
	}

	s.mu.Lock()
	if s.subs[pub.Collection] == nil {
		s.subs[pub.Collection] = make(map[*Subscription]struct{})
	}
	s.subs[pub.Collection][sub] = struct{}{}
	s.mu.Unlock()
	activeSubscriptions.WithLabelValues(pub.Name).Inc()

	go sub.run(subCtx)
	return sub, nil
}

func (s *Server) unregister(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs[sub.pub.Collection], sub)
	s.mu.Unlock()
	activeSubscriptions.WithLabelValues(sub.pub.Name).Dec()
}

// Count is the <feed>_count method: the number of documents the feed would
// match with no paging. Results are cached briefly per effective filter.
func (s *Server) Count(ctx context.Context, feed string, filter listquery.Filter) (int, error) {
	pub, err := s.publication(feed)
	if err != nil {
		return 0, err
	}
	scoped, err := pub.Effective(ctx, filter)
	if err != nil {
		return 0, err
	}

	key := countKey(pub, scoped)
	if v, ok := s.counts.Get(key); ok {
		countRequests.WithLabelValues(pub.Name, "hit").Inc()
		return v.(int), nil
	}
	countRequests.WithLabelValues(pub.Name, "miss").Inc()

	s.countMu.Lock()
	gen := s.gens[pub.Collection]
	s.countMu.Unlock()

	n, err := s.source.Count(ctx, pub.Collection, listquery.Spec{
		Filter:       scoped,
		SearchFields: pub.SearchFields,
	})
	if err != nil {
		return 0, rpcerr.Unavailable("count "+feed+" failed", err)
	}
	// a Notify during the query makes n stale; return it but do not cache it
	s.countMu.Lock()
	if s.gens[pub.Collection] == gen {
		s.counts.Set(key, n, cache.DefaultExpiration)
	}
	s.countMu.Unlock()
	return n, nil
}

func countKey(pub *Publication, filter listquery.Filter) string {
	return pub.Collection + "|" + pub.Name + "|" + filter.Key()
}

// Notify tells every subscription on collection to re-run its query and drops
// cached counts for it. It never blocks; wake-ups coalesce.
func (s *Server) Notify(collection string) {
	s.mu.RLock()
	for sub := range s.subs[collection] {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	s.mu.RUnlock()

	prefix := collection + "|"
	s.countMu.Lock()
	s.gens[collection]++
	for key := range s.counts.Items() {
		if strings.HasPrefix(key, prefix) {
			s.counts.Delete(key)
		}
	}
	s.countMu.Unlock()
}

// Subscriptions returns the number of open subscriptions on collection.
func (s *Server) Subscriptions(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[collection])
}
