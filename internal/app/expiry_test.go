package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeExpirer struct {
	calls   atomic.Int32
	timeout atomic.Int64
	err     error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.calls.Add(1)
	f.timeout.Store(int64(olderThan))
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestExpireUnpaid(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), zap.New(core)))

	f := &fakeExpirer{}
	done := make(chan error, 1)
	go func() { done <- expireUnpaid(ctx, f, 30*time.Minute, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return f.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(30*time.Minute), f.timeout.Load())
	assert.NotEmpty(t, logs.FilterMessage("Expired unpaid orders").All())
}

func TestExpireUnpaid_KeepsRunningOnError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), zap.New(core)))
	defer cancel()

	f := &fakeExpirer{err: errors.New("db down")}
	go func() { _ = expireUnpaid(ctx, f, time.Minute, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, time.Second, time.Millisecond)
	assert.NotEmpty(t, logs.FilterMessage("Expire unpaid orders").All())
}
