// Package livefeed serves live feeds: named, scoped queries against a read
// store collection, streamed to subscribers as added/changed/removed events
// with an explicit ready marker once the initial window has been delivered.
package livefeed

import (
	"context"
	"errors"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/rpcerr"
)

type EventKind string

const (
	Added   EventKind = "added"
	Changed EventKind = "changed"
	Removed EventKind = "removed"
	Ready   EventKind = "ready"
	Error   EventKind = "error"
)

// Event is one message on a subscription. Doc is set for added and changed,
// Err for error.
type Event struct {
	Kind EventKind          `json:"kind"`
	ID   string             `json:"id,omitempty"`
	Doc  listquery.Document `json:"doc,omitempty"`
	Err  *rpcerr.Error      `json:"error,omitempty"`
}

// ScopeFunc authorizes the caller found in ctx and returns the effective
// filter, e.g. with visibility constraints added.
type ScopeFunc func(ctx context.Context, filter listquery.Filter) (listquery.Filter, error)

// Publication describes one feed.
type Publication struct {
	Name         string
	Collection   string
	SearchFields []string
	// OmitFields are stripped from every document before it is sent.
	OmitFields []string
	Scope      ScopeFunc
}

var (
	ErrDuplicateFeed      = errors.New("feed already registered")
	ErrInvalidPublication = errors.New("publication needs a name and a collection")
)

// Effective returns the filter the feed actually runs for the caller in ctx.
// The input is never modified. Omitted fields cannot be filtered on by the
// caller; Scope may still constrain them.
func (p *Publication) Effective(ctx context.Context, filter listquery.Filter) (listquery.Filter, error) {
	for _, field := range p.OmitFields {
		if _, ok := filter[field]; ok {
			return nil, rpcerr.Validation(field, "field is not filterable")
		}
	}
	filter = filter.Clone()
	if p.Scope == nil {
		return filter, nil
	}
	return p.Scope(ctx, filter)
}

// Source is the read side a feed queries.
type Source interface {
	Find(ctx context.Context, collection string, spec listquery.Spec) ([]listquery.Document, error)
	Count(ctx context.Context, collection string, spec listquery.Spec) (int, error)
}

// Stream is a live subscription as seen by a consumer. Events is closed when
// the subscription ends.
type Stream interface {
	ID() string
	Events() <-chan Event
	Stop()
}
