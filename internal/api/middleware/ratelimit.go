package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/rpcerr"
)

var errRateLimited = rpcerr.RateLimited("too many requests, slow down")

// RateLimiter counts requests per client in fixed windows. Clients are keyed
// by user id when authenticated, by remote IP otherwise.
type RateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	counts *cache.Cache
}

type windowCount struct {
	n       int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per window. limit <= 0 disables it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		counts: cache.New(window, 2*window),
	}
}

// Allow records one request for key and reports whether it is within the
// limit, plus how long until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	wc := &windowCount{resetAt: now.Add(rl.window)}
	if v, ok := rl.counts.Get(key); ok {
		wc = v.(*windowCount)
	}
	wc.n++
	rl.counts.Set(key, wc, time.Until(wc.resetAt))
	return wc.n <= rl.limit, wc.resetAt.Sub(now)
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := rl.Allow(clientKey(r))
		if !ok {
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			respondError(w, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
