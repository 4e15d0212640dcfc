package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusHandler answers with whatever status the test sets.
type statusHandler struct{ status int }

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(h.status)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newLimited(t *testing.T, limit int, next http.Handler) (http.Handler, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := &fakeClock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	mw := FailureLimit(ctx, FailureLimitConfig{Max: limit, Window: time.Minute, now: clock.now})
	return mw(next), clock
}

func send(h http.Handler, customer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/NOPE/validate", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if customer != "" {
		req.Header.Set(HeaderCustomerID, customer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestFailureLimit_BlocksAfterRejections(t *testing.T) {
	next := &statusHandler{status: http.StatusNotFound}
	h, _ := newLimited(t, 3, next)

	for i := range 3 {
		require.Equal(t, http.StatusNotFound, send(h, "alice").Code, "attempt %d", i+1)
	}

	w := send(h, "alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])

	// Another customer on the same IP is unaffected.
	assert.Equal(t, http.StatusNotFound, send(h, "bob").Code)
}

func TestFailureLimit_SuccessNotCounted(t *testing.T) {
	next := &statusHandler{status: http.StatusOK}
	h, _ := newLimited(t, 1, next)

	for range 10 {
		require.Equal(t, http.StatusOK, send(h, "alice").Code)
	}

	next.status = http.StatusUnprocessableEntity
	assert.Equal(t, http.StatusUnprocessableEntity, send(h, "alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "alice").Code)
}

func TestFailureLimit_WindowSlides(t *testing.T) {
	next := &statusHandler{status: http.StatusNotFound}
	h, clock := newLimited(t, 2, next)

	send(h, "alice")
	send(h, "alice")
	require.Equal(t, http.StatusTooManyRequests, send(h, "alice").Code)

	// The old failures now weigh slightly less than the limit, which lets
	// one attempt through before the block applies again.
	clock.t = clock.t.Add(time.Minute + time.Second)
	assert.Equal(t, http.StatusNotFound, send(h, "alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, "alice").Code)

	clock.t = clock.t.Add(2 * time.Minute)
	assert.Equal(t, http.StatusNotFound, send(h, "alice").Code)
}

func TestFailureLimit_Sweep(t *testing.T) {
	l := newFailureLimiter(FailureLimitConfig{Max: 1, Window: time.Minute})
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	l.fail("a", now)
	l.sweep(now.Add(30 * time.Second))
	assert.Len(t, l.counters, 1)

	l.sweep(now.Add(3 * time.Minute))
	assert.Empty(t, l.counters)
}

func TestCustomerKey(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request) *http.Request
		expect string
	}{
		{
			name: "route param",
			setup: func(r *http.Request) *http.Request {
				rctx := chi.NewRouteContext()
				rctx.URLParams.Add("customerID", "cust-1")
				r.Header.Set(HeaderCustomerID, "ignored")
				return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
			},
			expect: "customer:cust-1",
		},
		{
			name: "header",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set(HeaderCustomerID, " cust-2 ")
				return r
			},
			expect: "customer:cust-2",
		},
		{
			name: "forwarded for",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
				return r
			},
			expect: "ip:203.0.113.7",
		},
		{
			name: "real ip",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Real-IP", "198.51.100.2")
				return r
			},
			expect: "ip:198.51.100.2",
		},
		{
			name:   "remote addr",
			setup:  func(r *http.Request) *http.Request { return r },
			expect: "ip:192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:5555"
			assert.Equal(t, tt.expect, CustomerKey(tt.setup(req)))
		})
	}
}
