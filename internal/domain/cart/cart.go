// Package cart implements the shopping cart aggregate and its use cases.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// MaxItems is the maximum number of distinct products in one cart.
const MaxItems = 50

var (
	// ErrCartNotFound is returned when a customer has no stored cart.
	ErrCartNotFound = fmt.Errorf("cart %w", domain.ErrNotFound)
	// ErrItemNotFound is returned when the product is not in the cart.
	ErrItemNotFound = fmt.Errorf("cart item %w", domain.ErrNotFound)
	// ErrCartFull is returned when adding a product beyond MaxItems.
	ErrCartFull = fmt.Errorf("%w: cart cannot hold more than %d products", domain.ErrCapacity, MaxItems)
	// ErrQuantityLimit is returned when a line would exceed MaxQuantity.
	ErrQuantityLimit = fmt.Errorf("%w: item quantity cannot exceed %d", domain.ErrCapacity, MaxQuantity)
	// ErrInvalidQuantity is returned for a quantity outside [1, 99].
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be between %d and %d", domain.ErrValidation, MinQuantity, MaxQuantity)
)

// Item is one product line. Values returned by Cart are copies.
type Item struct {
	ProductID string
	Name      string
	SKU       string
	UnitPrice money.Money
	Quantity  Quantity
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Subtotal is UnitPrice × Quantity.
func (it Item) Subtotal() money.Money {
	// Quantity is always >= 1, so Mul cannot fail.
	s, _ := it.UnitPrice.Mul(int(it.Quantity))
	return s
}

// Cart is a customer's basket. Lines keep insertion order.
type Cart struct {
	id         string
	customerID string
	items      map[string]*Item
	order      []string
	createdAt  time.Time
	updatedAt  time.Time
	version    int64
}

// New returns an empty cart for customerID.
func New(customerID string, now time.Time) *Cart {
	return &Cart{
		id:         uuid.NewString(),
		customerID: customerID,
		items:      make(map[string]*Item),
		createdAt:  now,
		updatedAt:  now,
	}
}

// Snapshot is the persisted form of a Cart.
type Snapshot struct {
	ID         string
	CustomerID string
	Items      []Item
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int64
}

// Restore rebuilds a Cart from storage.
func Restore(s Snapshot) *Cart {
	c := &Cart{
		id:         s.ID,
		customerID: s.CustomerID,
		items:      make(map[string]*Item, len(s.Items)),
		order:      make([]string, 0, len(s.Items)),
		createdAt:  s.CreatedAt,
		updatedAt:  s.UpdatedAt,
		version:    s.Version,
	}
	for i := range s.Items {
		it := s.Items[i]
		if _, dup := c.items[it.ProductID]; dup {
			continue
		}
		c.items[it.ProductID] = &it
		c.order = append(c.order, it.ProductID)
	}
	return c
}

// Snapshot returns the persisted form.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		ID:         c.id,
		CustomerID: c.customerID,
		Items:      c.Items(),
		CreatedAt:  c.createdAt,
		UpdatedAt:  c.updatedAt,
		Version:    c.version,
	}
}

func (c *Cart) ID() string           { return c.id }
func (c *Cart) CustomerID() string   { return c.customerID }
func (c *Cart) CreatedAt() time.Time { return c.createdAt }
func (c *Cart) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cart) Version() int64       { return c.version }

// MarkPersisted records the version assigned by the repository on save.
func (c *Cart) MarkPersisted(version int64) { c.version = version }

// AddItem adds qty of a product, merging with an existing line. The price
// snapshot of an existing line is kept.
func (c *Cart) AddItem(productID, name, sku string, unitPrice money.Money, qty int, now time.Time) (Item, error) {
	q, err := NewQuantity(qty)
	if err != nil {
		return Item{}, err
	}

	if it, ok := c.items[productID]; ok {
		merged, err := it.Quantity.Add(q)
		if err != nil {
			return Item{}, err
		}
		it.Quantity = merged
		it.UpdatedAt = now
		c.updatedAt = now
		return *it, nil
	}

	if len(c.items) >= MaxItems {
		return Item{}, ErrCartFull
	}
	if len(c.order) > 0 && !c.items[c.order[0]].UnitPrice.SameCurrency(unitPrice) {
		return Item{}, money.ErrCurrencyMismatch
	}

	it := &Item{
		ProductID: productID,
		Name:      name,
		SKU:       sku,
		UnitPrice: unitPrice,
		Quantity:  q,
		AddedAt:   now,
		UpdatedAt: now,
	}
	c.items[productID] = it
	c.order = append(c.order, productID)
	c.updatedAt = now
	return *it, nil
}

// UpdateItemQuantity replaces the quantity of an existing line.
func (c *Cart) UpdateItemQuantity(productID string, qty int, now time.Time) error {
	it, ok := c.items[productID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	q, err := NewQuantity(qty)
	if err != nil {
		return err
	}
	it.Quantity = q
	it.UpdatedAt = now
	c.updatedAt = now
	return nil
}

// RemoveItem deletes a line.
func (c *Cart) RemoveItem(productID string, now time.Time) error {
	if _, ok := c.items[productID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.updatedAt = now
	return nil
}

// Deduct takes qty units off a line and drops the line once nothing is
// left. Missing lines are ignored.
func (c *Cart) Deduct(productID string, qty int, now time.Time) {
	it, ok := c.items[productID]
	if !ok || qty <= 0 {
		return
	}
	if int(it.Quantity) <= qty {
		_ = c.RemoveItem(productID, now)
		return
	}
	it.Quantity -= Quantity(qty)
	it.UpdatedAt = now
	c.updatedAt = now
}

// Clear removes every line.
func (c *Cart) Clear(now time.Time) {
	c.items = make(map[string]*Item)
	c.order = nil
	c.updatedAt = now
}

// Item returns the line for productID.
func (c *Cart) Item(productID string) (Item, bool) {
	it, ok := c.items[productID]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// ContainsProduct reports whether productID has a line.
func (c *Cart) ContainsProduct(productID string) bool {
	_, ok := c.items[productID]
	return ok
}

// Items returns copies of all lines in insertion order.
func (c *Cart) Items() []Item {
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.items[id])
	}
	return out
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

// ItemCount is the number of distinct products.
func (c *Cart) ItemCount() int { return len(c.items) }

// TotalItemCount is the sum of all line quantities.
func (c *Cart) TotalItemCount() int {
	n := 0
	for _, it := range c.items {
		n += int(it.Quantity)
	}
	return n
}

// Currency is the currency of the cart's lines, or the default when empty.
func (c *Cart) Currency() string {
	if len(c.order) == 0 {
		return money.DefaultCurrency()
	}
	return c.items[c.order[0]].UnitPrice.Currency()
}

// Total is the sum of line subtotals.
func (c *Cart) Total() money.Money {
	sum := decimal.Zero
	for _, it := range c.items {
		sum = sum.Add(it.Subtotal().Amount())
	}
	// Lines share one validated currency and are non-negative.
	total, err := money.FromDecimal(sum, c.Currency())
	if err != nil {
		return money.Zero(c.Currency())
	}
	return total
}

// Repository persists carts, one per customer. Save must fail with an error
// wrapping domain.ErrConflict when the stored version differs from Version().
type Repository interface {
	FindByCustomerID(ctx context.Context, customerID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, customerID string) error
}
