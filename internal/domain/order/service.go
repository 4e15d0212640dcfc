package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
)

// ErrEmptyCart is returned when checking out a cart with no items.
var ErrEmptyCart = fmt.Errorf("%w: cart is empty", domain.ErrValidation)

// Carts is the cart side of checkout.
type Carts interface {
	Get(ctx context.Context, customerID string) (*cart.Cart, error)
	RemoveOrdered(ctx context.Context, customerID string, ordered map[string]int) error
}

// Stock is the inventory side of the order lifecycle.
type Stock interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
	Confirm(ctx context.Context, productID string, qty int) error
	Restock(ctx context.Context, productID string, qty int) error
}

// Promotions picks the best automatic discount for a total.
type Promotions interface {
	Best(ctx context.Context, total money.Money) (promotion.Applied, bool, error)
}

// Spending credits paid order totals to customers.
type Spending interface {
	AddSpending(ctx context.Context, customerID string, amount money.Money) (bool, error)
}

// CheckoutRequest holds the input for turning a cart into an order.
type CheckoutRequest struct {
	CustomerID string
	CouponCode string
}

// Option configures a Service.
type Option func(*Service)

// WithPromotions enables automatic promotions for checkouts without a coupon.
func WithPromotions(p Promotions) Option {
	return func(s *Service) { s.promotions = p }
}

// WithSpending credits paid orders to customer spending.
func WithSpending(sp Spending) Option {
	return func(s *Service) { s.spending = sp }
}

// WithEvents sets the event publisher.
func WithEvents(p event.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// Service encapsulates the order lifecycle: checkout, payment,
// fulfilment, cancellation and expiry.
type Service struct {
	orders     Repository
	carts      Carts
	stock      Stock
	coupons    coupon.Redeemer
	promotions Promotions
	spending   Spending
	events     event.Publisher
	now        func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	carts Carts,
	stock Stock,
	coupons coupon.Redeemer,
	opts ...Option,
) *Service {
	s := &Service{
		orders:  orders,
		carts:   carts,
		stock:   stock,
		coupons: coupons,
		events:  event.Discard,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Checkout snapshots the customer's cart into a new order. Stock is reserved
// for every line and the coupon, if any, is redeemed. Any failure undoes the
// reservations and the redemption made so far.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	c, err := s.carts.Get(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items := itemsFromCart(c)
	subtotal := c.Total()

	reserved := make([]Item, 0, len(items))
	undo := func(code coupon.Code) {
		s.releaseAll(ctx, reserved)
		if code != "" {
			if err := s.coupons.Revoke(ctx, code, req.CustomerID); err != nil {
				zctx.From(ctx).Warn("Revoke coupon after failed checkout",
					zap.String("coupon", code.String()),
					zap.Error(err),
				)
			}
		}
	}

	for _, it := range items {
		if err := s.stock.Reserve(ctx, it.ProductID, it.Quantity); err != nil {
			undo("")
			return nil, fmt.Errorf("reserve %s: %w", it.ProductID, err)
		}
		reserved = append(reserved, it)
	}

	d, err := s.discountFor(ctx, req, subtotal)
	if err != nil {
		undo("")
		return nil, err
	}
	var redeemed coupon.Code
	if d != nil && d.Source == DiscountCoupon {
		redeemed = coupon.Code(d.Code)
	}

	o, err := NewFromCart(req.CustomerID, items, d, s.now())
	if err != nil {
		undo(redeemed)
		return nil, err
	}
	if err := s.orders.Create(ctx, o); err != nil {
		undo(redeemed)
		return nil, errors.Wrap(err, "create order")
	}

	// The order is committed; a stale cart is only cosmetic. Only the ordered
	// quantities leave the cart, so lines added meanwhile survive.
	ordered := make(map[string]int, len(items))
	for _, it := range items {
		ordered[it.ProductID] += it.Quantity
	}
	if err := s.carts.RemoveOrdered(ctx, req.CustomerID, ordered); err != nil {
		zctx.From(ctx).Warn("Clear cart after checkout",
			zap.String("order_id", o.ID()),
			zap.Error(err),
		)
	}
	event.Emit(ctx, s.events, o.DrainEvents())
	return o, nil
}

// discountFor redeems the coupon when one is given. Otherwise, with
// promotions enabled, the best active promotion applies. Coupons and
// promotions never stack.
func (s *Service) discountFor(ctx context.Context, req CheckoutRequest, subtotal money.Money) (*Discount, error) {
	if req.CouponCode != "" {
		cd, err := s.coupons.Redeem(ctx, req.CouponCode, req.CustomerID, subtotal)
		if err != nil {
			return nil, err
		}
		return &Discount{Source: DiscountCoupon, Code: cd.Code.String(), Amount: cd.Amount}, nil
	}
	if s.promotions == nil {
		return nil, nil
	}
	best, ok, err := s.promotions.Best(ctx, subtotal)
	if err != nil {
		return nil, errors.Wrap(err, "find promotion")
	}
	if !ok {
		return nil, nil
	}
	return &Discount{Source: DiscountPromotion, Code: best.PromotionID, Amount: best.Amount}, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return o, nil
}

// ListByCustomer returns the customer's orders, optionally in one status.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, status *Status) ([]*Order, error) {
	var (
		list []*Order
		err  error
	)
	if status != nil {
		list, err = s.orders.FindByCustomerIDAndStatus(ctx, customerID, *status)
	} else {
		list, err = s.orders.FindByCustomerID(ctx, customerID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of %s", customerID)
	}
	return list, nil
}

// Pay marks the order paid, turns reservations into sales and credits the
// total to the customer's spending. Fully discounted orders credit nothing.
func (s *Service) Pay(ctx context.Context, id, paymentID string) (*Order, error) {
	o, _, err := s.mutate(ctx, id, "pay", func(o *Order, now time.Time) error {
		return o.MarkAsPaid(paymentID, now)
	})
	if err != nil {
		return nil, err
	}
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID()))
	for _, it := range o.Items() {
		if err := s.stock.Confirm(ctx, it.ProductID, it.Quantity); err != nil {
			lg.Error("Confirm reservation", zap.String("product_id", it.ProductID), zap.Error(err))
		}
	}
	if s.spending != nil && !o.Total().IsZero() {
		upgraded, err := s.spending.AddSpending(ctx, o.CustomerID(), o.Total())
		if err != nil {
			lg.Warn("Add customer spending", zap.Error(err))
		} else if upgraded {
			lg.Info("Customer level upgraded", zap.String("customer_id", o.CustomerID()))
		}
	}
	return o, nil
}

// Ship records the tracking number of a paid order.
func (s *Service) Ship(ctx context.Context, id, trackingNumber string) (*Order, error) {
	o, _, err := s.mutate(ctx, id, "ship", func(o *Order, now time.Time) error {
		return o.MarkAsShipped(trackingNumber, now)
	})
	return o, err
}

// Deliver completes a shipped order.
func (s *Service) Deliver(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.mutate(ctx, id, "deliver", func(o *Order, now time.Time) error {
		return o.MarkAsDelivered(now)
	})
	return o, err
}

// Cancel cancels an unshipped order. Reservations of an unpaid order are
// released; the stock of a paid order is put back.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	o, prev, err := s.mutate(ctx, id, "cancel", func(o *Order, now time.Time) error {
		return o.Cancel(reason, now)
	})
	if err != nil {
		return nil, err
	}
	if prev == StatusPaid {
		s.restockAll(ctx, o.Items())
	} else {
		s.releaseAll(ctx, o.Items())
	}
	return o, nil
}

// ExpirePayment closes an unpaid order and releases its reservations.
func (s *Service) ExpirePayment(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.mutate(ctx, id, "expire", func(o *Order, now time.Time) error {
		return o.ExpirePayment(now)
	})
	if err != nil {
		return nil, err
	}
	s.releaseAll(ctx, o.Items())
	return o, nil
}

// ExpireStale expires every order left in PENDING_PAYMENT for longer than
// olderThan and returns how many were expired. Orders paid in the meantime
// are skipped.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.orders.FindPendingPaymentBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "find stale orders")
	}

	lg := zctx.From(ctx)
	expired := 0
	for _, o := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.ExpirePayment(ctx, o.ID())
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrInvalidState):
			lg.Debug("Order left pending state before expiry", zap.String("order_id", o.ID()))
		default:
			lg.Warn("Expire order", zap.String("order_id", o.ID()), zap.Error(err))
		}
	}
	return expired, nil
}

// Refund marks a paid or cancelled order refunded.
func (s *Service) Refund(ctx context.Context, id string) (*Order, error) {
	o, _, err := s.mutate(ctx, id, "refund", func(o *Order, now time.Time) error {
		return o.MarkAsRefunded(now)
	})
	return o, err
}

func (s *Service) mutate(ctx context.Context, id, op string, fn func(*Order, time.Time) error) (*Order, Status, error) {
	var (
		saved *Order
		prev  Status
	)
	err := domain.RetryOnConflict(ctx, func() error {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return err
		}
		before := o.Status()
		if err := fn(o, s.now()); err != nil {
			return err
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return err
		}
		saved, prev = o, before
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s order %s: %w", op, id, err)
	}
	event.Emit(ctx, s.events, saved.DrainEvents())
	return saved, prev, nil
}

func (s *Service) releaseAll(ctx context.Context, items []Item) {
	for _, it := range items {
		if err := s.stock.Release(ctx, it.ProductID, it.Quantity); err != nil {
			zctx.From(ctx).Warn("Release reservation",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) restockAll(ctx context.Context, items []Item) {
	for _, it := range items {
		if err := s.stock.Restock(ctx, it.ProductID, it.Quantity); err != nil {
			zctx.From(ctx).Warn("Restock cancelled order",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
		}
	}
}

func itemsFromCart(c *cart.Cart) []Item {
	lines := c.Items()
	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			SKU:       l.SKU,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity.Int(),
		}
	}
	return items
}
