package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

const (
	categoryColumns = `id, name, description, parent_id, display_order, active, created_at, updated_at`

	listActiveCategoriesSQL = `SELECT ` + categoryColumns + ` FROM categories
	WHERE active
	ORDER BY display_order, name`

	getCategoryByIDSQL = `SELECT ` + categoryColumns + ` FROM categories WHERE id = $1`

	upsertCategorySQL = `INSERT INTO categories (` + categoryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		parent_id = EXCLUDED.parent_id,
		display_order = EXCLUDED.display_order,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at`
)

var _ product.CategoryRepository = (*CategoryRepository)(nil)

// CategoryRepository implements product.CategoryRepository backed by PostgreSQL.
type CategoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository returns a CategoryRepository that uses the given pool.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

func (r *CategoryRepository) ListActive(ctx context.Context) ([]product.Category, error) {
	rows, err := r.pool.Query(ctx, listActiveCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, scanCategory)
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*product.Category, error) {
	rows, err := r.pool.Query(ctx, getCategoryByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("getting category %q: %w", id, err)
	}
	return &c, nil
}

// Save inserts or replaces a category.
func (r *CategoryRepository) Save(ctx context.Context, c *product.Category) error {
	_, err := r.pool.Exec(ctx, upsertCategorySQL,
		c.ID, c.Name, c.Description, nullString(c.ParentID),
		c.DisplayOrder, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving category %q: %w", c.ID, err)
	}
	return nil
}

func scanCategory(row pgx.CollectableRow) (product.Category, error) {
	var (
		c      product.Category
		parent *string
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &parent,
		&c.DisplayOrder, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	c.ParentID = fromNullString(parent)
	return c, err
}
