package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

// --- Mock implementations ---

type memRepo struct {
	mu        sync.Mutex
	byProduct map[string]Snapshot
	// conflicts makes the next N saves fail with a version conflict.
	conflicts int
	saves     int
}

func newMemRepo(invs ...*Inventory) *memRepo {
	r := &memRepo{byProduct: map[string]Snapshot{}}
	for _, inv := range invs {
		r.byProduct[inv.ProductID()] = inv.Snapshot()
	}
	return r
}

func (r *memRepo) FindByProductID(_ context.Context, productID string) (*Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byProduct[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return Restore(s), nil
}

func (r *memRepo) Create(_ context.Context, inv *Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byProduct[inv.ProductID()]; ok {
		return ErrAlreadyExists
	}
	r.byProduct[inv.ProductID()] = inv.Snapshot()
	return nil
}

func (r *memRepo) Save(_ context.Context, inv *Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		return domain.ErrConflict
	}
	if r.byProduct[inv.ProductID()].Version != inv.Version() {
		return domain.ErrConflict
	}
	inv.MarkPersisted(inv.Version() + 1)
	r.byProduct[inv.ProductID()] = inv.Snapshot()
	return nil
}

func (r *memRepo) ListLowStock(_ context.Context) ([]*Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Inventory
	for _, s := range r.byProduct {
		if inv := Restore(s); inv.IsLowStock() {
			out = append(out, inv)
		}
	}
	return out, nil
}

// --- Tests ---

func TestService_ReservePublishesAfterSave(t *testing.T) {
	inv := newInv(t, 11)
	repo := newMemRepo(inv)
	var sink event.Collector
	svc := NewService(repo, &sink)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Reserve(context.Background(), "p1", 1))
	assert.Empty(t, sink.Events())

	require.NoError(t, svc.ReduceStock(context.Background(), "p1", 2))
	assert.Equal(t, []string{"LowStockDetected"}, sink.Types())

	got, err := svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, Stock(9), got.Stock())
	assert.Equal(t, 1, got.Reserved())
	assert.Equal(t, int64(2), got.Version())
}

func TestService_RetriesOnConflict(t *testing.T) {
	repo := newMemRepo(newInv(t, 50))
	repo.conflicts = 2
	svc := NewService(repo, event.Discard)

	require.NoError(t, svc.Reserve(context.Background(), "p1", 5))
	assert.Equal(t, 3, repo.saves)

	got, err := svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Reserved())
}

func TestService_FailedMutationPublishesNothing(t *testing.T) {
	repo := newMemRepo(newInv(t, 3))
	var sink event.Collector
	svc := NewService(repo, &sink)

	err := svc.Reserve(context.Background(), "p1", 4)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Empty(t, sink.Events())
	assert.Equal(t, 0, repo.saves)
}

func TestService_ConcurrentReservationsNeverOversell(t *testing.T) {
	repo := newMemRepo(newInv(t, 10))
	svc := NewService(repo, event.Discard)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Reserve(context.Background(), "p1", 2); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, ok*2, got.Reserved())
	assert.LessOrEqual(t, got.Reserved(), 10)
}

func TestService_IsAvailable(t *testing.T) {
	svc := NewService(newMemRepo(newInv(t, 4)), event.Discard)

	ok, err := svc.IsAvailable(context.Background(), "p1", 4)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsAvailable(context.Background(), "missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Create(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, event.Discard)

	inv, err := svc.Create(context.Background(), "p9", 100, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, inv.LowStockThreshold())

	_, err = svc.Create(context.Background(), "p9", 1, -1)
	require.ErrorIs(t, err, ErrAlreadyExists)
}
