package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
)

const (
	inventoryColumns = `id, product_id, stock, reserved, low_stock_threshold, last_restocked_at, updated_at, version`

	getInventorySQL = `SELECT ` + inventoryColumns + ` FROM inventories WHERE product_id = $1`

	listLowStockSQL = `SELECT ` + inventoryColumns + ` FROM inventories
	WHERE stock < low_stock_threshold ORDER BY stock, product_id`

	createInventorySQL = `INSERT INTO inventories (` + inventoryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`

	updateInventorySQL = `UPDATE inventories SET
		stock = $3, reserved = $4, low_stock_threshold = $5,
		last_restocked_at = $6, updated_at = $7, version = version + 1
	WHERE product_id = $1 AND version = $2`
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// FindByProductID loads the inventory record of a product.
func (r *InventoryRepository) FindByProductID(ctx context.Context, productID string) (*inventory.Inventory, error) {
	rows, err := r.pool.Query(ctx, getInventorySQL, productID)
	if err != nil {
		return nil, fmt.Errorf("getting inventory of %q: %w", productID, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInventory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrNotFound
		}
		return nil, fmt.Errorf("getting inventory of %q: %w", productID, err)
	}
	return inv, nil
}

// Create inserts a new inventory record at version 0.
func (r *InventoryRepository) Create(ctx context.Context, inv *inventory.Inventory) error {
	s := inv.Snapshot()
	_, err := r.pool.Exec(ctx, createInventorySQL,
		s.ID, s.ProductID, s.Stock, s.Reserved, s.Threshold, nullTime(s.LastRestockedAt), s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", inventory.ErrAlreadyExists, s.ProductID)
		}
		return fmt.Errorf("creating inventory of %q: %w", s.ProductID, err)
	}
	return nil
}

// Save writes inv if nobody else has since the version it was loaded at.
func (r *InventoryRepository) Save(ctx context.Context, inv *inventory.Inventory) error {
	s := inv.Snapshot()
	tag, err := r.pool.Exec(ctx, updateInventorySQL,
		s.ProductID, s.Version, s.Stock, s.Reserved, s.Threshold, nullTime(s.LastRestockedAt), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving inventory of %q: %w", s.ProductID, err)
	}
	if err := checkVersioned(tag, "inventory", s.ProductID, s.Version); err != nil {
		return err
	}
	inv.MarkPersisted(s.Version + 1)
	return nil
}

// ListLowStock returns records whose stock is below their threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*inventory.Inventory, error) {
	rows, err := r.pool.Query(ctx, listLowStockSQL)
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
	}
	return pgx.CollectRows(rows, scanInventory)
}

func scanInventory(row pgx.CollectableRow) (*inventory.Inventory, error) {
	var (
		s         inventory.Snapshot
		restocked *time.Time
	)
	err := row.Scan(&s.ID, &s.ProductID, &s.Stock, &s.Reserved, &s.Threshold, &restocked, &s.UpdatedAt, &s.Version)
	if err != nil {
		return nil, err
	}
	s.LastRestockedAt = fromNullTime(restocked)
	return inventory.Restore(s), nil
}
