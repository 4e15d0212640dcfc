package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var (
	ErrOrderNotFound      = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrEmptyItems         = fmt.Errorf("%w: order requires at least one item", domain.ErrValidation)
	ErrInvalidItem        = fmt.Errorf("%w: invalid order item", domain.ErrValidation)
	ErrPaymentIDRequired  = fmt.Errorf("%w: payment id is required", domain.ErrValidation)
	ErrTrackingRequired   = fmt.Errorf("%w: tracking number is required", domain.ErrValidation)
	ErrCancelReasonNeeded = fmt.Errorf("%w: cancellation reason is required", domain.ErrValidation)
)

// Item is an immutable snapshot of a cart line taken at checkout.
type Item struct {
	ProductID string
	Name      string
	SKU       string
	UnitPrice money.Money
	Quantity  int
}

// Subtotal is UnitPrice × Quantity.
func (it Item) Subtotal() money.Money {
	sub, _ := it.UnitPrice.Mul(it.Quantity)
	return sub
}

// DiscountSource says where an order discount came from.
type DiscountSource string

const (
	DiscountNone      DiscountSource = ""
	DiscountCoupon    DiscountSource = "coupon"
	DiscountPromotion DiscountSource = "promotion"
)

// Discount is applied once at order creation. Code is the coupon code or
// the promotion ID.
type Discount struct {
	Source DiscountSource
	Code   string
	Amount money.Money
}

// Order is the priced, immutable result of a checkout plus its lifecycle.
type Order struct {
	id                 string
	customerID         string
	items              []Item
	subtotal           money.Money
	discount           money.Money
	total              money.Money
	discountSource     DiscountSource
	discountCode       string
	status             Status
	paymentID          string
	trackingNumber     string
	cancellationReason string
	requiresRefund     bool
	createdAt          time.Time
	paidAt             time.Time
	shippedAt          time.Time
	deliveredAt        time.Time
	updatedAt          time.Time
	version            int64

	events event.Recorder
}

// NewFromCart prices items once. The discount is capped at the subtotal so
// the total never drops below zero. d may be nil.
func NewFromCart(customerID string, items []Item, d *Discount, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}

	currency := items[0].UnitPrice.Currency()
	subtotal := money.Zero(currency)
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %q quantity %d", ErrInvalidItem, it.ProductID, it.Quantity)
		}
		line, err := it.UnitPrice.Mul(it.Quantity)
		if err != nil {
			return nil, err
		}
		if subtotal, err = subtotal.Add(line); err != nil {
			return nil, err
		}
	}

	o := &Order{
		id:         uuid.NewString(),
		customerID: customerID,
		items:      append([]Item(nil), items...),
		subtotal:   subtotal,
		discount:   money.Zero(currency),
		status:     StatusPendingPayment,
		createdAt:  now,
		updatedAt:  now,
	}
	if d != nil && d.Source != DiscountNone {
		capped, err := d.Amount.Min(subtotal)
		if err != nil {
			return nil, err
		}
		o.discount = capped
		o.discountSource = d.Source
		o.discountCode = d.Code
	}
	total, err := subtotal.SubFloor(o.discount)
	if err != nil {
		return nil, err
	}
	o.total = total

	o.events.Record(Created{
		Base:       event.NewBase(o.id, now),
		CustomerID: customerID,
		ItemCount:  len(items),
		Total:      total,
	})
	return o, nil
}

// Snapshot is the persisted form of an Order.
type Snapshot struct {
	ID                 string
	CustomerID         string
	Items              []Item
	Subtotal           money.Money
	Discount           money.Money
	Total              money.Money
	DiscountSource     DiscountSource
	DiscountCode       string
	Status             Status
	PaymentID          string
	TrackingNumber     string
	CancellationReason string
	RequiresRefund     bool
	CreatedAt          time.Time
	PaidAt             time.Time
	ShippedAt          time.Time
	DeliveredAt        time.Time
	UpdatedAt          time.Time
	Version            int64
}

// Restore rebuilds an Order from storage.
func Restore(s Snapshot) *Order {
	return &Order{
		id:                 s.ID,
		customerID:         s.CustomerID,
		items:              append([]Item(nil), s.Items...),
		subtotal:           s.Subtotal,
		discount:           s.Discount,
		total:              s.Total,
		discountSource:     s.DiscountSource,
		discountCode:       s.DiscountCode,
		status:             s.Status,
		paymentID:          s.PaymentID,
		trackingNumber:     s.TrackingNumber,
		cancellationReason: s.CancellationReason,
		requiresRefund:     s.RequiresRefund,
		createdAt:          s.CreatedAt,
		paidAt:             s.PaidAt,
		shippedAt:          s.ShippedAt,
		deliveredAt:        s.DeliveredAt,
		updatedAt:          s.UpdatedAt,
		version:            s.Version,
	}
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		ID:                 o.id,
		CustomerID:         o.customerID,
		Items:              o.Items(),
		Subtotal:           o.subtotal,
		Discount:           o.discount,
		Total:              o.total,
		DiscountSource:     o.discountSource,
		DiscountCode:       o.discountCode,
		Status:             o.status,
		PaymentID:          o.paymentID,
		TrackingNumber:     o.trackingNumber,
		CancellationReason: o.cancellationReason,
		RequiresRefund:     o.requiresRefund,
		CreatedAt:          o.createdAt,
		PaidAt:             o.paidAt,
		ShippedAt:          o.shippedAt,
		DeliveredAt:        o.deliveredAt,
		UpdatedAt:          o.updatedAt,
		Version:            o.version,
	}
}

func (o *Order) ID() string                     { return o.id }
func (o *Order) CustomerID() string             { return o.customerID }
func (o *Order) Subtotal() money.Money          { return o.subtotal }
func (o *Order) Discount() money.Money          { return o.discount }
func (o *Order) Total() money.Money             { return o.total }
func (o *Order) DiscountSource() DiscountSource { return o.discountSource }
func (o *Order) DiscountCode() string           { return o.discountCode }
func (o *Order) Status() Status                 { return o.status }
func (o *Order) PaymentID() string              { return o.paymentID }
func (o *Order) TrackingNumber() string         { return o.trackingNumber }
func (o *Order) CancellationReason() string     { return o.cancellationReason }
func (o *Order) RequiresRefund() bool           { return o.requiresRefund }
func (o *Order) CreatedAt() time.Time           { return o.createdAt }
func (o *Order) PaidAt() time.Time              { return o.paidAt }
func (o *Order) ShippedAt() time.Time           { return o.shippedAt }
func (o *Order) DeliveredAt() time.Time         { return o.deliveredAt }
func (o *Order) UpdatedAt() time.Time           { return o.updatedAt }
func (o *Order) Version() int64                 { return o.version }

// Items returns a copy of the order lines.
func (o *Order) Items() []Item { return append([]Item(nil), o.items...) }

// CouponCode is the redeemed coupon code, empty when none was used.
func (o *Order) CouponCode() string {
	if o.discountSource != DiscountCoupon {
		return ""
	}
	return o.discountCode
}

func (o *Order) MarkPersisted(version int64) { o.version = version }

func (o *Order) DrainEvents() []event.Event { return o.events.Drain() }

// CanBeCancelled reports whether Cancel would succeed.
func (o *Order) CanBeCancelled() bool { return o.status.CanTransitionTo(StatusCancelled) }

// MarkAsPaid records the gateway payment ID.
func (o *Order) MarkAsPaid(paymentID string, now time.Time) error {
	if err := o.allow(StatusPaid, "pay"); err != nil {
		return err
	}
	if strings.TrimSpace(paymentID) == "" {
		return ErrPaymentIDRequired
	}
	o.transition(StatusPaid, now)
	o.paymentID = paymentID
	o.paidAt = now
	o.events.Record(Paid{
		Base:       event.NewBase(o.id, now),
		CustomerID: o.customerID,
		PaymentID:  paymentID,
		Total:      o.total,
	})
	return nil
}

// MarkAsShipped records the carrier tracking number.
func (o *Order) MarkAsShipped(trackingNumber string, now time.Time) error {
	if err := o.allow(StatusShipped, "ship"); err != nil {
		return err
	}
	if strings.TrimSpace(trackingNumber) == "" {
		return ErrTrackingRequired
	}
	o.transition(StatusShipped, now)
	o.trackingNumber = trackingNumber
	o.shippedAt = now
	return nil
}

func (o *Order) MarkAsDelivered(now time.Time) error {
	if err := o.allow(StatusDelivered, "deliver"); err != nil {
		return err
	}
	o.transition(StatusDelivered, now)
	o.deliveredAt = now
	return nil
}

// Cancel is allowed before shipping. Cancelling a paid order flags it for
// refund.
func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.allow(StatusCancelled, "cancel"); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return ErrCancelReasonNeeded
	}
	wasPaid := o.status == StatusPaid
	o.transition(StatusCancelled, now)
	o.cancellationReason = reason
	o.requiresRefund = wasPaid
	o.events.Record(Cancelled{
		Base:           event.NewBase(o.id, now),
		CustomerID:     o.customerID,
		Reason:         reason,
		RequiresRefund: wasPaid,
	})
	return nil
}

// ExpirePayment closes an order whose payment window lapsed.
func (o *Order) ExpirePayment(now time.Time) error {
	if err := o.allow(StatusPaymentExpired, "expire payment of"); err != nil {
		return err
	}
	o.transition(StatusPaymentExpired, now)
	return nil
}

func (o *Order) MarkAsRefunded(now time.Time) error {
	if err := o.allow(StatusRefunded, "refund"); err != nil {
		return err
	}
	o.transition(StatusRefunded, now)
	o.requiresRefund = false
	return nil
}

// allow is checked before any argument so a closed order always reports
// its status.
func (o *Order) allow(next Status, action string) error {
	if !o.status.CanTransitionTo(next) {
		return &TransitionError{From: o.status, Action: action}
	}
	return nil
}

func (o *Order) transition(next Status, now time.Time) {
	o.status = next
	o.updatedAt = now
}

// Created is raised when checkout produces an order.
type Created struct {
	event.Base
	CustomerID string
	ItemCount  int
	Total      money.Money
}

func (Created) EventType() string { return "OrderCreated" }

// Paid is raised when payment completes.
type Paid struct {
	event.Base
	CustomerID string
	PaymentID  string
	Total      money.Money
}

func (Paid) EventType() string { return "OrderPaid" }

// Cancelled is raised on cancellation.
type Cancelled struct {
	event.Base
	CustomerID     string
	Reason         string
	RequiresRefund bool
}

func (Cancelled) EventType() string { return "OrderCancelled" }

// Repository persists orders. Save must fail with an error wrapping
// domain.ErrConflict on a stale version.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Save(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByCustomerID(ctx context.Context, customerID string) ([]*Order, error)
	FindByCustomerIDAndStatus(ctx context.Context, customerID string, status Status) ([]*Order, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
}
