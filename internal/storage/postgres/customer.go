package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/customer"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

const (
	customerColumns = `id, email, first_name, last_name, phone, total_spending, currency,
		member_level, created_at, updated_at, version`

	getCustomerSQL = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	customerEmailExistsSQL = `SELECT EXISTS (SELECT 1 FROM customers WHERE email = $1)`

	createCustomerSQL = `INSERT INTO customers (` + customerColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)`

	updateCustomerSQL = `UPDATE customers SET
		total_spending = $3, currency = $4, member_level = $5, updated_at = $6, version = version + 1
	WHERE id = $1 AND version = $2`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	rows, err := r.pool.Query(ctx, getCustomerSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return c, nil
}

func (r *CustomerRepository) ExistsByEmail(ctx context.Context, email customer.Email) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, customerEmailExistsSQL, email.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists, nil
}

// Create inserts a new customer. A concurrent registration with the same
// email is reported as customer.ErrEmailTaken.
func (r *CustomerRepository) Create(ctx context.Context, c *customer.Customer) error {
	s := c.Snapshot()
	_, err := r.pool.Exec(ctx, createCustomerSQL,
		s.ID, s.Email.String(), s.FirstName, s.LastName, s.Phone,
		s.TotalSpending.Amount(), s.TotalSpending.Currency(), s.Level.String(), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", customer.ErrEmailTaken, s.Email)
		}
		return fmt.Errorf("creating customer: %w", err)
	}
	return nil
}

func (r *CustomerRepository) Save(ctx context.Context, c *customer.Customer) error {
	s := c.Snapshot()
	tag, err := r.pool.Exec(ctx, updateCustomerSQL,
		s.ID, s.Version, s.TotalSpending.Amount(), s.TotalSpending.Currency(), s.Level.String(), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving customer %q: %w", s.ID, err)
	}
	if err := checkVersioned(tag, "customer", s.ID, s.Version); err != nil {
		return err
	}
	c.MarkPersisted(s.Version + 1)
	return nil
}

func scanCustomer(row pgx.CollectableRow) (*customer.Customer, error) {
	var (
		s        customer.Snapshot
		email    string
		spending decimal.Decimal
		currency string
		level    string
	)
	err := row.Scan(
		&s.ID, &email, &s.FirstName, &s.LastName, &s.Phone,
		&spending, &currency, &level, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.Email = customer.Email(email)
	if s.TotalSpending, err = money.FromDecimal(spending, currency); err != nil {
		return nil, err
	}
	// The level column is informational; Restore derives it from spending.
	if s.Level, err = customer.ParseLevel(level); err != nil {
		return nil, err
	}
	return customer.Restore(s), nil
}
