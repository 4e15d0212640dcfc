// Package health serves liveness and readiness endpoints backed by periodic
// checks.
//
// A check flips to unhealthy only after FailureThreshold consecutive
// failures and back after SuccessThreshold consecutive successes, so a
// single slow ping does not pull the pod out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Endpoint selects the health endpoint a check contributes to.
type Endpoint int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Endpoint = iota
	// Readiness checks decide whether the process should receive traffic.
	Readiness
)

func (p Endpoint) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes one registered check.
type Check struct {
	Name    string
	Timeout time.Duration
	Func    CheckFunc

	// Zero values default to 3 and 1.
	FailureThreshold int
	SuccessThreshold int
}

// state is written only by the goroutine running the check; handlers read
// healthy and lastErr atomically.
type state struct {
	Check
	endpoint Endpoint

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	fails, oks int
}

func (s *state) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(checkCtx)
	was := s.healthy.Load()

	if err != nil {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
	} else {
		s.lastErr.Store(nil)
		s.fails = 0
		s.oks++
		if s.oks >= s.SuccessThreshold {
			s.healthy.Store(true)
		}
	}

	if now := s.healthy.Load(); now != was {
		lg := zctx.From(ctx).With(zap.String("check", s.Name), zap.Stringer("endpoint", s.endpoint))
		if now {
			lg.Info("Health check recovered")
		} else {
			lg.Warn("Health check failing", zap.Error(err))
		}
	}
}

// Health owns the registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds a check. Checks start healthy and must be registered
// before Start.
func (h *Health) Register(endpoint Endpoint, c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	s := &state{Check: c, endpoint: endpoint}
	s.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, s)
	h.mu.Unlock()
}

// Start runs every check immediately and then once per interval, each in
// its own goroutine, until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	checks := append([]*state(nil), h.checks...)
	h.mu.Unlock()

	for _, s := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the check goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag, typically true once startup is
// done and false when shutdown begins.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the manual flag combined with every readiness check.
func (h *Health) IsReady() bool {
	r := h.report(Readiness)
	return r.Status == statusOK
}

const (
	statusOK        = "ok"
	statusUnhealthy = "unhealthy"
)

type checkStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkStatus `json:"checks,omitempty"`
}

func (h *Health) report(endpoint Endpoint) report {
	h.mu.RLock()
	checks := append([]*state(nil), h.checks...)
	h.mu.RUnlock()

	r := report{Status: statusOK}
	for _, s := range checks {
		if s.endpoint != endpoint {
			continue
		}
		cs := checkStatus{Healthy: s.healthy.Load()}
		if p := s.lastErr.Load(); p != nil {
			cs.Error = *p
		}
		if !cs.Healthy {
			r.Status = statusUnhealthy
			if cs.Error == "" {
				cs.Error = "check is unhealthy"
			}
		}
		if r.Checks == nil {
			r.Checks = make(map[string]checkStatus)
		}
		r.Checks[s.Name] = cs
	}
	if endpoint == Readiness && !h.ready.Load() {
		r.Status = statusUnhealthy
	}
	return r
}

// Handler serves the endpoint as JSON: 200 when healthy, 503 otherwise. Every
// check is listed with its state and last error.
func (h *Health) Handler(endpoint Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		r := h.report(endpoint)
		status := http.StatusOK
		if r.Status != statusOK {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(r)
	}
}
