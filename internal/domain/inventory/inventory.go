// Package inventory tracks on-hand stock and reservations per product.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
)

// DefaultLowStockThreshold is used when an inventory is created without one.
const DefaultLowStockThreshold = 10

var (
	// ErrNotFound is returned when no inventory exists for a product.
	ErrNotFound = fmt.Errorf("inventory %w", domain.ErrNotFound)
	// ErrAlreadyExists is returned when creating a second inventory for a product.
	ErrAlreadyExists = fmt.Errorf("%w: inventory already exists for product", domain.ErrPolicy)
	// ErrInvalidQuantity is returned for a non-positive quantity argument.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	// ErrInvalidThreshold is returned for a negative low-stock threshold.
	ErrInvalidThreshold = fmt.Errorf("%w: threshold cannot be negative", domain.ErrValidation)
	// ErrConfirmExceedsReserved is returned when confirming more than is reserved.
	ErrConfirmExceedsReserved = fmt.Errorf("%w: cannot confirm more than reserved", domain.ErrInvalidState)
	// ErrReducesReserved is returned when a stock reduction would leave less
	// stock than is reserved.
	ErrReducesReserved = fmt.Errorf("%w: reduction would drop stock below reserved quantity", domain.ErrCapacity)
)

// Inventory is the stock aggregate of one product.
// Invariant: 0 <= reserved <= stock.
type Inventory struct {
	id              string
	productID       string
	stock           Stock
	reserved        int
	threshold       int
	lastRestockedAt time.Time
	updatedAt       time.Time
	version         int64

	events event.Recorder
}

// New creates an inventory for productID with initial stock.
func New(productID string, initial int, now time.Time) (*Inventory, error) {
	s, err := NewStock(initial)
	if err != nil {
		return nil, err
	}
	inv := &Inventory{
		id:        uuid.NewString(),
		productID: productID,
		stock:     s,
		threshold: DefaultLowStockThreshold,
		updatedAt: now,
	}
	if initial > 0 {
		inv.lastRestockedAt = now
	}
	return inv, nil
}

// Snapshot is the persisted form of an Inventory.
type Snapshot struct {
	ID              string
	ProductID       string
	Stock           int
	Reserved        int
	Threshold       int
	LastRestockedAt time.Time
	UpdatedAt       time.Time
	Version         int64
}

// Restore rebuilds an Inventory from storage.
func Restore(s Snapshot) *Inventory {
	return &Inventory{
		id:              s.ID,
		productID:       s.ProductID,
		stock:           Stock(s.Stock),
		reserved:        s.Reserved,
		threshold:       s.Threshold,
		lastRestockedAt: s.LastRestockedAt,
		updatedAt:       s.UpdatedAt,
		version:         s.Version,
	}
}

// Snapshot returns the persisted form.
func (i *Inventory) Snapshot() Snapshot {
	return Snapshot{
		ID:              i.id,
		ProductID:       i.productID,
		Stock:           int(i.stock),
		Reserved:        i.reserved,
		Threshold:       i.threshold,
		LastRestockedAt: i.lastRestockedAt,
		UpdatedAt:       i.updatedAt,
		Version:         i.version,
	}
}

func (i *Inventory) ID() string                 { return i.id }
func (i *Inventory) ProductID() string          { return i.productID }
func (i *Inventory) Stock() Stock               { return i.stock }
func (i *Inventory) Reserved() int              { return i.reserved }
func (i *Inventory) LowStockThreshold() int     { return i.threshold }
func (i *Inventory) LastRestockedAt() time.Time { return i.lastRestockedAt }
func (i *Inventory) UpdatedAt() time.Time       { return i.updatedAt }
func (i *Inventory) Version() int64             { return i.version }

// Available is stock minus reserved.
func (i *Inventory) Available() int { return int(i.stock) - i.reserved }

// IsAvailable reports whether qty units can still be reserved.
func (i *Inventory) IsAvailable(qty int) bool { return i.Available() >= qty }

// IsLowStock reports stock below the threshold.
func (i *Inventory) IsLowStock() bool { return i.stock.IsLowStock(i.threshold) }

// MarkPersisted records the version assigned by the repository on save.
func (i *Inventory) MarkPersisted(version int64) { i.version = version }

// DrainEvents returns and clears events recorded since the last drain.
func (i *Inventory) DrainEvents() []event.Event { return i.events.Drain() }

// PendingEvents returns recorded events without clearing them.
func (i *Inventory) PendingEvents() []event.Event { return i.events.Pending() }

// Restock adds qty units to stock.
func (i *Inventory) Restock(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s, err := i.stock.Add(qty)
	if err != nil {
		return err
	}
	i.stock = s
	i.lastRestockedAt = now
	i.updatedAt = now
	return nil
}

// Reserve holds qty units for a pending order.
func (i *Inventory) Reserve(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !i.IsAvailable(qty) {
		return &InsufficientStockError{Have: i.Available(), Need: qty}
	}
	i.reserved += qty
	i.updatedAt = now
	i.checkLowStock(now)
	return nil
}

// ReleaseReservation gives back qty reserved units. Releasing more than is
// reserved clamps the reservation at zero.
func (i *Inventory) ReleaseReservation(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	i.reserved = max(0, i.reserved-qty)
	i.updatedAt = now
	return nil
}

// ConfirmReservation turns qty reserved units into a sale: both stock and
// reservation drop by qty.
func (i *Inventory) ConfirmReservation(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > i.reserved {
		return fmt.Errorf("%w: reserved %d, confirm %d", ErrConfirmExceedsReserved, i.reserved, qty)
	}
	s, err := i.stock.Sub(qty)
	if err != nil {
		return err
	}
	i.stock = s
	i.reserved -= qty
	i.updatedAt = now
	i.checkDepleted(now)
	return nil
}

// ReduceStock removes qty unreserved units, e.g. for damage or shrinkage.
func (i *Inventory) ReduceStock(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s, err := i.stock.Sub(qty)
	if err != nil {
		return err
	}
	if int(s) < i.reserved {
		return fmt.Errorf("%w: stock %d, reserved %d, reduce %d", ErrReducesReserved, i.stock, i.reserved, qty)
	}
	i.stock = s
	i.updatedAt = now
	i.checkLowStock(now)
	i.checkDepleted(now)
	return nil
}

// SetLowStockThreshold changes the low-stock alert level.
func (i *Inventory) SetLowStockThreshold(threshold int, now time.Time) error {
	if threshold < 0 {
		return ErrInvalidThreshold
	}
	i.threshold = threshold
	i.updatedAt = now
	return nil
}

func (i *Inventory) checkLowStock(now time.Time) {
	if i.IsLowStock() {
		i.events.Record(LowStockDetected{
			Base:         event.NewBase(i.id, now),
			ProductID:    i.productID,
			CurrentStock: int(i.stock),
			Threshold:    i.threshold,
		})
	}
}

func (i *Inventory) checkDepleted(now time.Time) {
	if i.stock.IsOutOfStock() {
		i.events.Record(StockDepleted{
			Base:      event.NewBase(i.id, now),
			ProductID: i.productID,
		})
	}
}

// LowStockDetected is raised when stock drops below the threshold.
type LowStockDetected struct {
	event.Base
	ProductID    string
	CurrentStock int
	Threshold    int
}

func (LowStockDetected) EventType() string { return "LowStockDetected" }

// StockDepleted is raised when stock reaches zero.
type StockDepleted struct {
	event.Base
	ProductID string
}

func (StockDepleted) EventType() string { return "StockDepleted" }

// Repository persists inventories. Save must fail with an error wrapping
// domain.ErrConflict when the stored version differs from Version().
type Repository interface {
	FindByProductID(ctx context.Context, productID string) (*Inventory, error)
	Create(ctx context.Context, inv *Inventory) error
	Save(ctx context.Context, inv *Inventory) error
	ListLowStock(ctx context.Context) ([]*Inventory, error)
}
