package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(t *testing.T, h *Health, endpoint Endpoint) (int, report) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Handler(endpoint)(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var r report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	return w.Code, r
}

func only(h *Health) *state {
	return h.checks[len(h.checks)-1]
}

func TestLiveness(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		check      CheckFunc
		wantCode   int
		wantStatus string
	}{
		{name: "passing", runs: 1, check: ok, wantCode: http.StatusOK, wantStatus: statusOK},
		{name: "below threshold", runs: 2, check: failing("boom"), wantCode: http.StatusOK, wantStatus: statusOK},
		{name: "at threshold", runs: 3, check: failing("boom"), wantCode: http.StatusServiceUnavailable, wantStatus: statusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.Register(Liveness, Check{Name: "db", Func: tt.check})
			for range tt.runs {
				only(h).run(context.Background())
			}

			code, r := get(t, h, Liveness)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, r.Status)
			require.Contains(t, r.Checks, "db")
		})
	}
}

func TestLiveness_ReportsLastError(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{Name: "db", Func: failing("connection refused"), FailureThreshold: 1})
	only(h).run(context.Background())

	_, r := get(t, h, Liveness)
	assert.Equal(t, checkStatus{Healthy: false, Error: "connection refused"}, r.Checks["db"])
}

func TestLiveness_NoChecks(t *testing.T) {
	code, r := get(t, New(), Liveness)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, r.Checks)
}

func TestReadiness(t *testing.T) {
	h := New()
	h.Register(Readiness, Check{Name: "postgres", Func: ok})
	h.Register(Readiness, Check{Name: "redis", Func: failing("no route"), FailureThreshold: 1})
	h.Register(Liveness, Check{Name: "goroutines", Func: failing("leak"), FailureThreshold: 1})

	code, r := get(t, h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not marked ready")
	assert.Equal(t, statusUnhealthy, r.Status)

	h.SetReady(true)
	assert.True(t, h.IsReady())

	for _, s := range h.checks {
		s.run(context.Background())
	}
	assert.False(t, h.IsReady())

	code, r = get(t, h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.True(t, r.Checks["postgres"].Healthy)
	assert.False(t, r.Checks["redis"].Healthy)
	assert.NotContains(t, r.Checks, "goroutines")

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheckRecovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	h := New()
	h.Register(Readiness, Check{
		Name: "kafka",
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
		FailureThreshold: 2,
		SuccessThreshold: 2,
	})
	h.SetReady(true)
	s := only(h)
	ctx := context.Background()

	s.run(ctx)
	s.run(ctx)
	require.False(t, h.IsReady())

	fail.Store(false)
	s.run(ctx)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	s.run(ctx)
	assert.True(t, h.IsReady())

	_, r := get(t, h, Readiness)
	assert.Empty(t, r.Checks["kafka"].Error)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	only(h).run(context.Background())

	_, r := get(t, h, Liveness)
	assert.Contains(t, r.Checks["slow"].Error, "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Register(Liveness, Check{Name: "count", Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Register(Readiness, Check{Name: "flaky", Func: failing("x"), FailureThreshold: 1})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = h.IsReady()
				w := httptest.NewRecorder()
				h.Handler(Readiness)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	require.NoError(t, PingCheck("postgres", pinger{})(context.Background()))

	err := PingCheck("postgres", pinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Equal(t, "ping postgres: refused", err.Error())
}

func TestRuntimeChecks(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
