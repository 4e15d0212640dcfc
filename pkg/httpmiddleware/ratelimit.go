package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// HeaderCustomerID identifies the caller for FailureLimit when present.
const HeaderCustomerID = "X-Customer-ID"

// FailureLimitConfig configures FailureLimit.
type FailureLimitConfig struct {
	// Max rejected requests allowed per key inside Window.
	Max int
	// Window is the sliding window length.
	Window time.Duration
	// Rejected reports whether a response status counts as a failure.
	// Defaults to 404 and 422, which is how unknown or unusable coupon codes
	// come back.
	Rejected func(status int) bool
	// KeyFunc extracts the key. Defaults to CustomerKey.
	KeyFunc func(*http.Request) string

	now func() time.Time
}

// counter tracks failures across two adjacent windows.
type counter struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type failureLimiter struct {
	cfg FailureLimitConfig

	mu       sync.Mutex
	counters map[string]*counter
}

func newFailureLimiter(cfg FailureLimitConfig) *failureLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = CustomerKey
	}
	if cfg.Rejected == nil {
		cfg.Rejected = func(status int) bool {
			return status == http.StatusNotFound || status == http.StatusUnprocessableEntity
		}
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &failureLimiter{cfg: cfg, counters: make(map[string]*counter)}
}

// rotate advances c to the window containing now. Caller holds l.mu.
func (l *failureLimiter) rotate(c *counter, now time.Time) {
	elapsed := now.Sub(c.currStart)
	switch {
	case elapsed >= 2*l.cfg.Window:
		c.prev, c.curr = 0, 0
		c.currStart = now.Truncate(l.cfg.Window)
	case elapsed >= l.cfg.Window:
		c.prev, c.curr = c.curr, 0
		c.currStart = c.currStart.Add(l.cfg.Window)
	}
}

// blocked reports whether key has used up its failures and when the block
// lifts.
func (l *failureLimiter) blocked(key string, now time.Time) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return false, time.Time{}
	}
	l.rotate(c, now)

	overlap := 1 - now.Sub(c.currStart).Seconds()/l.cfg.Window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	resetAt := c.currStart.Add(l.cfg.Window)
	return c.prev*overlap+c.curr >= float64(l.cfg.Max), resetAt
}

func (l *failureLimiter) fail(key string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		c = &counter{currStart: now.Truncate(l.cfg.Window)}
		l.counters[key] = c
	}
	l.rotate(c, now)
	c.curr++
}

// sweep drops counters that no longer affect any decision.
func (l *failureLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, c := range l.counters {
		if now.Sub(c.currStart) >= 2*l.cfg.Window {
			delete(l.counters, key)
		}
	}
}

// FailureLimit throttles callers that keep getting rejected: once a key
// collects Max rejected responses inside the sliding window, further
// requests get 429 until the window slides past them. Successful requests
// are never counted, so a customer applying a valid coupon is unaffected.
//
// A background sweep evicts idle keys until ctx is done.
func FailureLimit(ctx context.Context, cfg FailureLimitConfig) Middleware {
	l := newFailureLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * l.cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()
	return l.middleware
}

func (l *failureLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.cfg.KeyFunc(r)
		now := l.cfg.now()

		if blocked, resetAt := l.blocked(key, now); blocked {
			zctx.From(r.Context()).Warn("Too many rejected attempts",
				zap.String("key", key),
				zap.String("path", r.URL.Path),
			)
			retry := math.Ceil(resetAt.Sub(now).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(int(retry), 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":429,"message":"too many rejected attempts"}` + "\n"))
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if l.cfg.Rejected(rec.code()) {
			l.fail(key, l.cfg.now())
		}
	})
}

// CustomerKey keys by the {customerID} route parameter, then the
// X-Customer-ID header, then the client IP.
func CustomerKey(r *http.Request) string {
	if id := chi.URLParam(r, "customerID"); id != "" {
		return "customer:" + id
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderCustomerID)); id != "" {
		return "customer:" + id
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
