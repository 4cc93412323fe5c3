package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/livefeed"
	"github.com/example/collab-platform/internal/rpcerr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 64 << 10
	sendBuffer     = 256
	maxSubsPerConn = 64
)

var (
	errDuplicateSub  = rpcerr.Conflict("subscription id already in use")
	errTooManySubs   = rpcerr.RateLimited("too many subscriptions on this connection")
	errUnknownMethod = rpcerr.NotFound("unknown method")
	errUnknownFrame  = rpcerr.Validation("type", "unknown frame type")
	errFrameID       = rpcerr.Validation("id", "id is required")
)

// FeedServer is the live feed backend the WebSocket endpoint serves.
type FeedServer interface {
	Subscribe(ctx context.Context, feed string, q listquery.ListQuery) (livefeed.Stream, error)
	Count(ctx context.Context, feed string, filter listquery.Filter) (int, error)
	Feeds() []string
}

type FeedHandlers struct {
	feeds    FeedServer
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

// NewFeedHandlers serves feeds over HTTP and WebSocket. checkOrigin may be
// nil to use the same-origin default.
func NewFeedHandlers(feeds FeedServer, checkOrigin func(r *http.Request) bool, log *zap.SugaredLogger) *FeedHandlers {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FeedHandlers{
		feeds: feeds,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

// ListFeeds names the registered feeds.
func (h *FeedHandlers) ListFeeds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"feeds": h.feeds.Feeds()})
}

// Count is the <feed>_count method over plain HTTP.
func (h *FeedHandlers) Count(w http.ResponseWriter, r *http.Request) {
	var params livefeed.CountParams
	if !decodeBody(w, r, &params, h.log) {
		return
	}
	n, err := h.feeds.Count(r.Context(), r.PathValue("name"), params.Filter)
	if err != nil {
		respondError(w, r, err, h.log)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Serve upgrades to a WebSocket carrying sub, unsub and method frames. The
// caller's identity is taken from the upgrade request.
func (h *FeedHandlers) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		h.log.Debugw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &feedConn{
		feeds:  h.feeds,
		ws:     ws,
		send:   make(chan livefeed.ServerFrame, sendBuffer),
		subs:   make(map[string]livefeed.Stream),
		ctx:    ctx,
		cancel: cancel,
		log:    h.log.With("remote", r.RemoteAddr),
	}
	wsConnections.Inc()
	defer wsConnections.Dec()

	c.log.Debug("Feed connection opened")
	go c.writeLoop()
	c.readLoop()
	c.close()
	c.log.Debug("Feed connection closed")
}

// feedConn is one client connection. Only writeLoop writes to ws.
type feedConn struct {
	feeds  FeedServer
	ws     *websocket.Conn
	send   chan livefeed.ServerFrame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]livefeed.Stream
}

func (c *feedConn) readLoop() {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame livefeed.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugw("Feed connection read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		wsFrames.WithLabelValues(frame.Type).Inc()

		if frame.ID == "" {
			c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, Error: errFrameID})
			continue
		}
		switch frame.Type {
		case livefeed.FrameSub:
			c.subscribe(frame)
		case livefeed.FrameUnsub:
			c.unsubscribe(frame.ID)
		case livefeed.FrameMethod:
			c.wg.Add(1)
			go c.call(frame)
		default:
			c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, ID: frame.ID, Error: errUnknownFrame})
		}
	}
}

func (c *feedConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// a write failure ends the connection; closing ws unblocks readLoop
	defer c.ws.Close()

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
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debugw("Feed ping failed", "error", err)
				c.cancel()
				return
			}
		}
	}
}

// reply queues a frame unless the connection is going away.
func (c *feedConn) reply(frame livefeed.ServerFrame) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *feedConn) subscribe(frame livefeed.ClientFrame) {
	c.mu.Lock()
	_, dup := c.subs[frame.ID]
	n := len(c.subs)
	c.mu.Unlock()
	switch {
	case dup:
		c.reply(livefeed.ServerFrame{Type: livefeed.FrameNoSub, ID: frame.ID, Error: errDuplicateSub})
		return
	case n >= maxSubsPerConn:
		c.reply(livefeed.ServerFrame{Type: livefeed.FrameNoSub, ID: frame.ID, Error: errTooManySubs})
		return
	}

	var q listquery.ListQuery
	if frame.Query != nil {
		q = *frame.Query
	}
	stream, err := c.feeds.Subscribe(c.ctx, frame.Feed, q)
	if err != nil {
		c.log.Debugw("Subscribe rejected", "feed", frame.Feed, "error", err)
		c.reply(livefeed.ServerFrame{Type: livefeed.FrameNoSub, ID: frame.ID, Error: rpcerr.As(err)})
		return
	}

	c.mu.Lock()
	c.subs[frame.ID] = stream
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forward(frame.ID, stream)
}

// forward relays one subscription's events until its stream closes, then
// tells the client it is over.
func (c *feedConn) forward(id string, stream livefeed.Stream) {
	defer c.wg.Done()
	for ev := range stream.Events() {
		if !c.reply(livefeed.ServerFrame{Type: livefeed.FrameEvent, ID: id, Event: &ev}) {
			stream.Stop()
			return
		}
	}

	c.mu.Lock()
	if c.subs[id] == stream {
		delete(c.subs, id)
	}
	c.mu.Unlock()
	c.reply(livefeed.ServerFrame{Type: livefeed.FrameNoSub, ID: id})
}

func (c *feedConn) unsubscribe(id string) {
	c.mu.Lock()
	stream, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		stream.Stop()
	}
}

func (c *feedConn) call(frame livefeed.ClientFrame) {
	defer c.wg.Done()

	feed, ok := livefeed.FeedFromCountMethod(frame.Method)
	if !ok {
		c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, ID: frame.ID, Error: errUnknownMethod})
		return
	}
	var params livefeed.CountParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, ID: frame.ID, Error: rpcerr.Validation("params", "invalid params")})
			return
		}
	}

	n, err := c.feeds.Count(c.ctx, feed, params.Filter)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, ID: frame.ID, Error: rpcerr.As(err)})
		return
	}
	result, _ := json.Marshal(n)
	c.reply(livefeed.ServerFrame{Type: livefeed.FrameResult, ID: frame.ID, Result: result})
}

func (c *feedConn) close() {
	c.cancel()
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]livefeed.Stream)
	c.mu.Unlock()
	for _, stream := range subs {
		stream.Stop()
	}
	c.wg.Wait()
}
