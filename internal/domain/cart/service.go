package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// ProductNotFoundError indicates a product that does not exist or is not
// currently sold.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return domain.ErrNotFound }

// InsufficientStockError indicates the requested line quantity is not available.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return domain.ErrCapacity }

// Catalog is the product and stock lookup port used before mutating a cart.
type Catalog interface {
	ProductInfo(ctx context.Context, productID string) (product.Info, error)
	IsStockAvailable(ctx context.Context, productID string, qty int) (bool, error)
}

// Service runs cart use cases.
type Service struct {
	carts   Repository
	catalog Catalog
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(carts Repository, catalog Catalog) *Service {
	return &Service{carts: carts, catalog: catalog, now: time.Now}
}

// Get returns the customer's cart, or a new empty one that is not stored.
func (s *Service) Get(ctx context.Context, customerID string) (*Cart, error) {
	c, err := s.carts.FindByCustomerID(ctx, customerID)
	switch {
	case errors.Is(err, ErrCartNotFound):
		return New(customerID, s.now()), nil
	case err != nil:
		return nil, errors.Wrapf(err, "find cart of %s", customerID)
	}
	return c, nil
}

// AddItem adds qty units of productID to the customer's cart.
func (s *Service) AddItem(ctx context.Context, customerID, productID string, qty int) (*Cart, error) {
	if _, err := NewQuantity(qty); err != nil {
		return nil, err
	}
	info, err := s.lookup(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, customerID, "add item", func(c *Cart, now time.Time) error {
		want := qty
		if it, ok := c.Item(productID); ok {
			want += int(it.Quantity)
		}
		if err := s.checkStock(ctx, productID, want); err != nil {
			return err
		}
		_, err := c.AddItem(info.ID, info.Name, info.SKU, info.Price, qty, now)
		return err
	})
}

// UpdateItem sets the quantity of an existing line.
func (s *Service) UpdateItem(ctx context.Context, customerID, productID string, qty int) (*Cart, error) {
	return s.mutate(ctx, customerID, "update item", func(c *Cart, now time.Time) error {
		if !c.ContainsProduct(productID) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
		}
		if _, err := NewQuantity(qty); err != nil {
			return err
		}
		if err := s.checkStock(ctx, productID, qty); err != nil {
			return err
		}
		return c.UpdateItemQuantity(productID, qty, now)
	})
}

// RemoveItem deletes a line from the customer's cart.
func (s *Service) RemoveItem(ctx context.Context, customerID, productID string) (*Cart, error) {
	return s.mutate(ctx, customerID, "remove item", func(c *Cart, now time.Time) error {
		return c.RemoveItem(productID, now)
	})
}

// Clear empties the customer's cart.
func (s *Service) Clear(ctx context.Context, customerID string) error {
	_, err := s.mutate(ctx, customerID, "clear", func(c *Cart, now time.Time) error {
		c.Clear(now)
		return nil
	})
	return err
}

// RemoveOrdered deducts checked-out quantities, keyed by product ID, from the
// customer's current cart. Lines added or topped up since the checkout
// snapshot stay in the cart.
func (s *Service) RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) error {
	_, err := s.mutate(ctx, customerID, "remove ordered", func(c *Cart, now time.Time) error {
		for productID, qty := range ordered {
			c.Deduct(productID, qty, now)
		}
		return nil
	})
	return err
}

func (s *Service) lookup(ctx context.Context, productID string) (product.Info, error) {
	info, err := s.catalog.ProductInfo(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.Info{}, &ProductNotFoundError{ProductID: productID}
		}
		return product.Info{}, errors.Wrap(err, "product info")
	}
	if !info.Active {
		return product.Info{}, &ProductNotFoundError{ProductID: productID}
	}
	return info, nil
}

func (s *Service) checkStock(ctx context.Context, productID string, qty int) error {
	ok, err := s.catalog.IsStockAvailable(ctx, productID, qty)
	if err != nil {
		return errors.Wrap(err, "check stock")
	}
	if !ok {
		return &InsufficientStockError{ProductID: productID, Requested: qty}
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, customerID, op string, fn func(*Cart, time.Time) error) (*Cart, error) {
	var out *Cart
	err := domain.RetryOnConflict(ctx, func() error {
		c, err := s.Get(ctx, customerID)
		if err != nil {
			return err
		}
		if err := fn(c, s.now()); err != nil {
			return err
		}
		if err := s.carts.Save(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
