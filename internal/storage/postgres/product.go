package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

const (
	productColumns = `id, sku, name, description, category_id, price, currency, active, created_at, updated_at`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	listProductsByCategorySQL = `SELECT ` + productColumns + ` FROM products WHERE category_id = $1 ORDER BY id`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		sku = EXCLUDED.sku,
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		category_id = EXCLUDED.category_id,
		price = EXCLUDED.price,
		currency = EXCLUDED.currency,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// ListByCategory returns the products filed under categoryID ordered by ID.
func (r *ProductRepository) ListByCategory(ctx context.Context, categoryID string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsByCategorySQL, categoryID)
	if err != nil {
		return nil, fmt.Errorf("listing products of category %q: %w", categoryID, err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Save inserts or replaces a catalog entry.
func (r *ProductRepository) Save(ctx context.Context, p *product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.SKU.String(), p.Name, p.Description, nullString(p.CategoryID),
		p.Price.Amount(), p.Price.Currency(), p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		sku      string
		category *string
		price    decimal.Decimal
		currency string
	)
	err := row.Scan(
		&p.ID, &sku, &p.Name, &p.Description, &category,
		&price, &currency, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.SKU = product.SKU(sku)
	p.CategoryID = fromNullString(category)
	p.Price, err = money.FromDecimal(price, currency)
	return p, err
}
