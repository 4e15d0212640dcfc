package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func pct(t *testing.T, v string) discount.Rule {
	t.Helper()
	r, err := discount.NewPercentage(decimal.RequireFromString(v))
	require.NoError(t, err)
	return r
}

type memRepo struct {
	mu   sync.Mutex
	byID map[string]Snapshot
}

func newMemRepo() *memRepo { return &memRepo{byID: map[string]Snapshot{}} }

func (m *memRepo) FindByID(_ context.Context, id string) (*Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return Restore(s), nil
}

func (m *memRepo) ListActive(_ context.Context, now time.Time) ([]*Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Promotion
	for _, s := range m.byID {
		if !now.Before(s.StartsAt) && !now.After(s.EndsAt) {
			out = append(out, Restore(s))
		}
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, p *Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID()] = p.Snapshot()
	return nil
}

func (m *memRepo) Save(_ context.Context, p *Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[p.ID()].Version != p.Version() {
		return domain.ErrConflict
	}
	p.MarkPersisted(p.Version() + 1)
	m.byID[p.ID()] = p.Snapshot()
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "", pct(t, "5"), fixedNow, fixedNow.Add(time.Hour), fixedNow)
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = New("Sale", "", pct(t, "5"), fixedNow, fixedNow.Add(-time.Second), fixedNow)
	require.ErrorIs(t, err, ErrInvalidPeriod)
	require.ErrorIs(t, err, domain.ErrValidation)

	p, err := New("Flash", "", pct(t, "5"), fixedNow, fixedNow, fixedNow)
	require.NoError(t, err)
	assert.True(t, p.IsActive(fixedNow))
}

func TestPromotion_ActiveWindow(t *testing.T) {
	start := fixedNow
	end := fixedNow.Add(48 * time.Hour)
	p, err := New("Summer", "", pct(t, "10"), start, end, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, p.DrainEvents(), "not started yet")

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "before start", at: start.Add(-time.Nanosecond), want: false},
		{name: "at start", at: start, want: true},
		{name: "middle", at: start.Add(24 * time.Hour), want: true},
		{name: "at end", at: end, want: true},
		{name: "after end", at: end.Add(time.Nanosecond), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsActive(tt.at))
		})
	}
	assert.True(t, p.IsExpired(end.Add(time.Second)))
}

func TestPromotion_DeactivateZeroesDiscount(t *testing.T) {
	p, err := New("Sale", "", pct(t, "20"), fixedNow, fixedNow.Add(time.Hour), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"PromotionStarted"}, eventTypes(p.DrainEvents()))

	got, err := p.CalculateDiscount(money.MustNew("350"), fixedNow)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(70).Equal(got.Amount()))

	p.Deactivate(fixedNow)
	got, err = p.CalculateDiscount(money.MustNew("350"), fixedNow)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.False(t, p.IsApplicableTo(money.MustNew("350"), fixedNow))

	p.Activate(fixedNow)
	assert.True(t, p.IsActive(fixedNow))
	assert.Len(t, p.DrainEvents(), 1)
}

func TestService_BestPicksLargestDiscount(t *testing.T) {
	repo := newMemRepo()
	var sink event.Collector
	svc := NewService(repo, &sink)
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	s, e := fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour)

	_, err := svc.Create(ctx, "Ten percent", "", pct(t, "10"), s, e)
	require.NoError(t, err)
	fixed, err := svc.Create(ctx, "Fifty off", "", discount.NewFixedAmount(money.MustNew("50")), s, e)
	require.NoError(t, err)
	bigMin, err := discount.NewPercentageWithMinimum(decimal.NewFromInt(30), money.MustNew("1000"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, "Big spender", "", bigMin, s, e)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "Later", "", pct(t, "90"), fixedNow.Add(time.Hour), fixedNow.Add(2*time.Hour))
	require.NoError(t, err)

	best, ok, err := svc.Best(ctx, money.MustNew("300"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixed.ID(), best.PromotionID)
	assert.True(t, decimal.NewFromInt(50).Equal(best.Amount.Amount()))

	best, ok, err = svc.Best(ctx, money.MustNew("1000"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Big spender", best.Name)
	assert.True(t, decimal.NewFromInt(300).Equal(best.Amount.Amount()))

	require.NoError(t, svc.Deactivate(ctx, fixed.ID()))
	best, ok, err = svc.Best(ctx, money.MustNew("300"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ten percent", best.Name)

	assert.Len(t, sink.Types(), 3, "only promotions active at creation emit started")
}

func TestService_BestNoneApplies(t *testing.T) {
	svc := NewService(newMemRepo(), event.Discard)
	svc.now = func() time.Time { return fixedNow }

	_, ok, err := svc.Best(context.Background(), money.MustNew("10"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Update(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, event.Discard)
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	p, err := svc.Create(ctx, "Old", "", pct(t, "5"), fixedNow, fixedNow.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, p.ID(), "New", "desc"))
	got, err := svc.Get(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name())
	assert.Equal(t, int64(1), got.Version())

	require.ErrorIs(t, svc.Update(ctx, p.ID(), " ", ""), ErrNameRequired)
	require.ErrorIs(t, svc.Activate(ctx, "missing"), ErrNotFound)
}

func eventTypes(evs []event.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.EventType())
	}
	return out
}
