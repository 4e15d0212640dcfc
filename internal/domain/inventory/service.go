package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

// Service runs inventory use cases: load, mutate, save with a version check,
// then publish the drained events. Conflicting saves are retried.
type Service struct {
	repo   Repository
	events event.Publisher
	now    func() time.Time
}

// NewService creates an inventory Service.
func NewService(repo Repository, events event.Publisher) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// Create registers stock for a product. threshold < 0 keeps the default.
func (s *Service) Create(ctx context.Context, productID string, initial, threshold int) (*Inventory, error) {
	now := s.now()
	inv, err := New(productID, initial, now)
	if err != nil {
		return nil, err
	}
	if threshold >= 0 {
		if err := inv.SetLowStockThreshold(threshold, now); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create inventory for %s: %w", productID, err)
	}
	return inv, nil
}

// Get returns the inventory of productID.
func (s *Service) Get(ctx context.Context, productID string) (*Inventory, error) {
	inv, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "find inventory %s", productID)
	}
	return inv, nil
}

// IsAvailable reports whether qty units of productID can be reserved.
// A product without inventory has nothing available.
func (s *Service) IsAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	inv, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "find inventory %s", productID)
	}
	return inv.IsAvailable(qty), nil
}

// LowStock lists inventories whose stock is below their threshold.
func (s *Service) LowStock(ctx context.Context) ([]*Inventory, error) {
	list, err := s.repo.ListLowStock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list low stock")
	}
	return list, nil
}

func (s *Service) Reserve(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, productID, "reserve", func(inv *Inventory, now time.Time) error {
		return inv.Reserve(qty, now)
	})
}

func (s *Service) Release(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, productID, "release", func(inv *Inventory, now time.Time) error {
		return inv.ReleaseReservation(qty, now)
	})
}

func (s *Service) Confirm(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, productID, "confirm", func(inv *Inventory, now time.Time) error {
		return inv.ConfirmReservation(qty, now)
	})
}

func (s *Service) Restock(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, productID, "restock", func(inv *Inventory, now time.Time) error {
		return inv.Restock(qty, now)
	})
}

func (s *Service) ReduceStock(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, productID, "reduce stock", func(inv *Inventory, now time.Time) error {
		return inv.ReduceStock(qty, now)
	})
}

func (s *Service) SetThreshold(ctx context.Context, productID string, threshold int) error {
	return s.mutate(ctx, productID, "set threshold", func(inv *Inventory, now time.Time) error {
		return inv.SetLowStockThreshold(threshold, now)
	})
}

func (s *Service) mutate(ctx context.Context, productID, op string, fn func(*Inventory, time.Time) error) error {
	var saved *Inventory
	err := domain.RetryOnConflict(ctx, func() error {
		inv, err := s.repo.FindByProductID(ctx, productID)
		if err != nil {
			return err
		}
		if err := fn(inv, s.now()); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, inv); err != nil {
			return err
		}
		saved = inv
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, productID, err)
	}
	event.Emit(ctx, s.events, saved.DrainEvents())
	return nil
}
