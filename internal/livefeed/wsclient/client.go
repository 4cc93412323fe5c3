// Package wsclient speaks the feed WebSocket protocol from Go. A Client
// satisfies the pagination controller's Subscriber and Counter, so a list
// view can run against a remote server exactly as against a local one.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/rpcerr"
)

const (
	writeWait    = 10 * time.Second
	eventBuffer  = 64
	sendBuffer   = 64
	dialTimeout  = 10 * time.Second
	closeTimeout = time.Second
)

var ErrClosed = errors.New("wsclient: connection closed")

// Client is one WebSocket connection multiplexing subscriptions and method
// calls. Safe for concurrent use.
type Client struct {
	ws     *websocket.Conn
	send   chan livefeed.ClientFrame
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.SugaredLogger
	nextID atomic.Uint64

	mu    sync.Mutex
	subs  map[string]*stream
	calls map[string]chan livefeed.ServerFrame
	err   error
}

// Dial connects to a feed endpoint such as ws://host/api/feeds/ws. header
// carries credentials, e.g. an Authorization bearer token.
func Dial(ctx context.Context, url string, header http.Header, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:     ws,
		send:   make(chan livefeed.ClientFrame, sendBuffer),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
		subs:   make(map[string]*stream),
		calls:  make(map[string]chan livefeed.ServerFrame),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Close ends the connection. Open streams see their events channel closed.
func (c *Client) Close() error {
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		_ = c.ws.Close()
		<-c.done
	}
	return nil
}

// Err returns why the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) id(prefix string) string {
	return prefix + strconv.FormatUint(c.nextID.Add(1), 10)
}

// Subscribe opens a live query. Server-side rejections (unknown feed,
// authorization) arrive on the stream as an error event followed by close.
func (c *Client) Subscribe(ctx context.Context, feed string, q listquery.ListQuery) (livefeed.Stream, error) {
	s := &stream{
		id:      c.id("s"),
		client:  c,
		events:  make(chan livefeed.Event, eventBuffer),
		stopped: make(chan struct{}),
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.subs[s.id] = s
	c.mu.Unlock()

	if err := c.enqueue(ctx, livefeed.ClientFrame{Type: livefeed.FrameSub, ID: s.id, Feed: feed, Query: &q}); err != nil {
		c.removeSub(s.id)
		return nil, err
	}
	return s, nil
}

// Count calls the feed's count method.
func (c *Client) Count(ctx context.Context, feed string, filter listquery.Filter) (int, error) {
	params, err := json.Marshal(livefeed.CountParams{Filter: filter})
	if err != nil {
		return 0, err
	}
	id := c.id("m")
	reply := make(chan livefeed.ServerFrame, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return 0, err
	}
	c.calls[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
	}()

	frame := livefeed.ClientFrame{Type: livefeed.FrameMethod, ID: id, Method: livefeed.CountMethod(feed), Params: params}
	if err := c.enqueue(ctx, frame); err != nil {
		return 0, err
	}

	select {
	case res := <-reply:
		if res.Error != nil {
			return 0, res.Error
		}
		var n int
		if err := json.Unmarshal(res.Result, &n); err != nil {
			return 0, fmt.Errorf("decode count result: %w", err)
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.done:
		return 0, c.closedErr()
	}
}

func (c *Client) enqueue(ctx context.Context, frame livefeed.ClientFrame) error {
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.log.Debugw("Feed write failed", "error", err)
				_ = c.ws.Close()
				return
			}
		}
	}
}

// readLoop dispatches server frames until the connection drops, then fails
// every pending call and ends every stream.
func (c *Client) readLoop() {
	defer close(c.done)

	var readErr error
	for {
		var frame livefeed.ServerFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			readErr = err
			break
		}
		c.dispatch(frame)
	}
	c.cancel()
	_ = c.ws.Close()

	c.mu.Lock()
	if c.err == nil {
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
			c.err = ErrClosed
		} else {
			c.err = fmt.Errorf("%w: %v", ErrClosed, readErr)
		}
	}
	subs := c.subs
	c.subs = make(map[string]*stream)
	c.mu.Unlock()

	connErr := rpcerr.Unavailable("feed connection lost", readErr)
	for _, s := range subs {
		s.finish(&livefeed.Event{Kind: livefeed.Error, Err: connErr}, false)
	}
}

func (c *Client) dispatch(frame livefeed.ServerFrame) {
	switch frame.Type {
	case livefeed.FrameEvent:
		if s := c.sub(frame.ID); s != nil && frame.Event != nil {
			s.deliver(c.ctx, *frame.Event)
		}
	case livefeed.FrameNoSub:
		s := c.removeSub(frame.ID)
		if s == nil {
			return
		}
		if frame.Error != nil {
			s.finish(&livefeed.Event{Kind: livefeed.Error, Err: frame.Error}, true)
			return
		}
		s.finish(nil, true)
	case livefeed.FrameResult:
		c.mu.Lock()
		reply, ok := c.calls[frame.ID]
		c.mu.Unlock()
		if ok {
			reply <- frame
			return
		}
		if frame.Error != nil {
			c.log.Warnw("Feed server rejected a frame", "id", frame.ID, "error", frame.Error)
		}
	default:
		c.log.Debugw("Ignoring unknown frame", "type", frame.Type)
	}
}

func (c *Client) sub(id string) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Client) removeSub(id string) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.subs[id]
	delete(c.subs, id)
	return s
}

// stream is the client side of one subscription. Only the read loop sends
// on events; Stop and the read loop coordinate the close through mu.
type stream struct {
	id      string
	client  *Client
	events  chan livefeed.Event
	stopped chan struct{}
	stop    sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *stream) ID() string { return s.id }

func (s *stream) Events() <-chan livefeed.Event { return s.events }

// Stop unsubscribes and closes Events. It does not wait for the server.
func (s *stream) Stop() {
	s.stop.Do(func() {
		close(s.stopped)
		if s.client.removeSub(s.id) != nil {
			select {
			case s.client.send <- livefeed.ClientFrame{Type: livefeed.FrameUnsub, ID: s.id}:
			case <-s.client.done:
			default:
				s.client.log.Debugw("Dropped unsub frame, send queue full", "sub", s.id)
			}
		}
		s.finish(nil, false)
	})
}

// deliver blocks until the consumer takes ev or the stream is stopped.
func (s *stream) deliver(ctx context.Context, ev livefeed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.stopped:
	case <-ctx.Done():
	}
}

// finish optionally emits a last event and closes Events once. Without
// wait the last event is dropped if the consumer has fallen behind.
func (s *stream) finish(last *livefeed.Event, wait bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if last != nil {
		if wait {
			select {
			case s.events <- *last:
			case <-s.stopped:
			}
		} else {
			select {
			case s.events <- *last:
			default:
			}
		}
	}
	s.closed = true
	close(s.events)
}
