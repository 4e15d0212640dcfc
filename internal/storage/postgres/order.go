package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

const (
	orderColumns = `id, customer_id, items, subtotal, discount, total, currency, discount_source, discount_code,
		status, payment_id, tracking_number, cancellation_reason, requires_refund,
		created_at, paid_at, shipped_at, delivered_at, updated_at, version`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE customer_id = $1 ORDER BY created_at DESC`

	listOrdersByCustomerStatusSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE customer_id = $1 AND status = $2 ORDER BY created_at DESC`

	listPendingBeforeSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE status = 'PENDING_PAYMENT' AND created_at < $1 ORDER BY created_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 0)`

	updateOrderSQL = `UPDATE orders SET
		status = $3, payment_id = $4, tracking_number = $5, cancellation_reason = $6, requires_refund = $7,
		paid_at = $8, shipped_at = $9, delivered_at = $10, updated_at = $11, version = version + 1
	WHERE id = $1 AND version = $2`
)

// orderItemJSON is the JSONB form of an order line.
type orderItemJSON struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	s := o.Snapshot()
	items := make([]orderItemJSON, len(s.Items))
	for i, it := range s.Items {
		items[i] = orderItemJSON{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice.Amount(),
			Currency:  it.UnitPrice.Currency(),
			Quantity:  it.Quantity,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		s.ID, s.CustomerID, itemsJSON,
		s.Subtotal.Amount(), s.Discount.Amount(), s.Total.Amount(), s.Total.Currency(),
		string(s.DiscountSource), s.DiscountCode,
		string(s.Status), s.PaymentID, s.TrackingNumber, s.CancellationReason, s.RequiresRefund,
		s.CreatedAt, nullTime(s.PaidAt), nullTime(s.ShippedAt), nullTime(s.DeliveredAt), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", s.ID, err)
	}
	return nil
}

// Save writes the lifecycle columns under the optimistic version check.
// Items and amounts never change after creation.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	s := o.Snapshot()
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		s.ID, s.Version,
		string(s.Status), s.PaymentID, s.TrackingNumber, s.CancellationReason, s.RequiresRefund,
		nullTime(s.PaidAt), nullTime(s.ShippedAt), nullTime(s.DeliveredAt), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving order %q: %w", s.ID, err)
	}
	if err := checkVersioned(tag, "order", s.ID, s.Version); err != nil {
		return err
	}
	o.MarkPersisted(s.Version + 1)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

func (r *OrderRepository) FindByCustomerID(ctx context.Context, customerID string) ([]*order.Order, error) {
	return r.list(ctx, listOrdersByCustomerSQL, customerID)
}

func (r *OrderRepository) FindByCustomerIDAndStatus(ctx context.Context, customerID string, status order.Status) ([]*order.Order, error) {
	return r.list(ctx, listOrdersByCustomerStatusSQL, customerID, string(status))
}

// FindPendingPaymentBefore returns unpaid orders created before cutoff.
func (r *OrderRepository) FindPendingPaymentBefore(ctx context.Context, cutoff time.Time) ([]*order.Order, error) {
	return r.list(ctx, listPendingBeforeSQL, cutoff)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		s                          order.Snapshot
		itemsJSON                  []byte
		subtotal, discount, total  decimal.Decimal
		currency, source, status   string
		paidAt, shippedAt, delivAt *time.Time
	)
	err := row.Scan(
		&s.ID, &s.CustomerID, &itemsJSON, &subtotal, &discount, &total, &currency, &source, &s.DiscountCode,
		&status, &s.PaymentID, &s.TrackingNumber, &s.CancellationReason, &s.RequiresRefund,
		&s.CreatedAt, &paidAt, &shippedAt, &delivAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}

	var items []orderItemJSON
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return nil, fmt.Errorf("order %s items: %w", s.ID, err)
	}
	s.Items = make([]order.Item, len(items))
	for i, it := range items {
		price, err := money.FromDecimal(it.UnitPrice, it.Currency)
		if err != nil {
			return nil, err
		}
		s.Items[i] = order.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: price,
			Quantity:  it.Quantity,
		}
	}

	if s.Subtotal, err = money.FromDecimal(subtotal, currency); err != nil {
		return nil, err
	}
	if s.Discount, err = money.FromDecimal(discount, currency); err != nil {
		return nil, err
	}
	if s.Total, err = money.FromDecimal(total, currency); err != nil {
		return nil, err
	}
	s.DiscountSource = order.DiscountSource(source)
	s.Status = order.Status(status)
	s.PaidAt = fromNullTime(paidAt)
	s.ShippedAt = fromNullTime(shippedAt)
	s.DeliveredAt = fromNullTime(delivAt)
	return order.Restore(s), nil
}
