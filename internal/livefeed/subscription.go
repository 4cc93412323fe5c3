package livefeed

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/rpcerr"
)

// Subscription is one running live query on the server.
type Subscription struct {
	id     string
	server *Server
	pub    *Publication
	spec   listquery.Spec
	events chan Event
	wake   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	log    *zap.SugaredLogger
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Events() <-chan Event { return s.events }

// Stop ends the subscription. Safe to call more than once.
func (s *Subscription) Stop() {
	s.once.Do(s.cancel)
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.events)
	defer s.server.unregister(s)
	defer s.Stop()

	current, err := s.query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warnf("Initial query failed: %v", err)
		s.emit(ctx, Event{Kind: Error, Err: rpcerr.As(err)})
		return
	}
	for _, doc := range current {
		if !s.emit(ctx, Event{Kind: Added, ID: doc.ID(), Doc: doc}) {
			return
		}
	}
	if !s.emit(ctx, Event{Kind: Ready}) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		next, err := s.query(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// keep the last window; the next notification retries
			s.log.Warnf("Re-query failed: %v", err)
			continue
		}
		if !s.diff(ctx, current, next) {
			return
		}
		current = next
	}
}

func (s *Subscription) query(ctx context.Context) ([]listquery.Document, error) {
	docs, err := s.server.source.Find(ctx, s.pub.Collection, s.spec)
	if err != nil {
		return nil, err
	}
	if len(s.pub.OmitFields) > 0 {
		for i, doc := range docs {
			docs[i] = doc.Omit(s.pub.OmitFields...)
		}
	}
	return docs, nil
}

// diff emits the events turning prev into next.
func (s *Subscription) diff(ctx context.Context, prev, next []listquery.Document) bool {
	old := make(map[string]listquery.Document, len(prev))
	for _, doc := range prev {
		old[doc.ID()] = doc
	}
	seen := make(map[string]struct{}, len(next))
	for _, doc := range next {
		seen[doc.ID()] = struct{}{}
	}

	for _, doc := range prev {
		if _, ok := seen[doc.ID()]; !ok {
			if !s.emit(ctx, Event{Kind: Removed, ID: doc.ID()}) {
				return false
			}
		}
	}
	for _, doc := range next {
		id := doc.ID()
		was, ok := old[id]
		switch {
		case !ok:
			if !s.emit(ctx, Event{Kind: Added, ID: id, Doc: doc}) {
				return false
			}
		case !reflect.DeepEqual(was, doc):
			if !s.emit(ctx, Event{Kind: Changed, ID: id, Doc: doc}) {
				return false
			}
		}
	}
	return true
}

func (s *Subscription) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		eventsSent.WithLabelValues(s.pub.Name, string(ev.Kind)).Inc()
		return true
	case <-ctx.Done():
		return false
	}
}
