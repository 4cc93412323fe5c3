package livefeed

import (
	"encoding/json"
	"strings"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/rpcerr"
)

// Client frame types
const (
	FrameSub    = "sub"
	FrameUnsub  = "unsub"
	FrameMethod = "method"
)

// Server frame types
const (
	FrameEvent  = "event"
	FrameResult = "result"
	FrameNoSub  = "nosub"
)

// CountSuffix names the count method of a feed: "<feed>_count".
const CountSuffix = "_count"

// ClientFrame is sent by a client over the feed WebSocket. ID is chosen by
// the client and names the subscription or the method call.
type ClientFrame struct {
	Type   string               `json:"type"`
	ID     string               `json:"id"`
	Feed   string               `json:"feed,omitempty"`
	Query  *listquery.ListQuery `json:"query,omitempty"`
	Method string               `json:"method,omitempty"`
	Params json.RawMessage      `json:"params,omitempty"`
}

// CountParams are the parameters of a count method call.
type CountParams struct {
	Filter listquery.Filter `json:"filter"`
}

// ServerFrame is sent by the server. Event frames carry the subscription ID;
// result frames the method call ID. A nosub frame ends a subscription that
// failed to start or was stopped, with Error set if it failed.
type ServerFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Event  *Event          `json:"event,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcerr.Error   `json:"error,omitempty"`
}

// CountMethod returns the method name for a feed's count.
func CountMethod(feed string) string {
	return feed + CountSuffix
}

// FeedFromCountMethod extracts the feed name from a count method name.
func FeedFromCountMethod(method string) (string, bool) {
	feed, ok := strings.CutSuffix(method, CountSuffix)
	return feed, ok && feed != ""
}
