package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, value, currency, minimum, expires_at,
		max_uses, max_uses_per_customer, usage_count, customer_usage, active, created_at, updated_at, version`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = UPPER($1))`

	listValidCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
	WHERE active AND expires_at >= $1 AND (max_uses = 0 OR usage_count < max_uses)
	ORDER BY expires_at, code`

	createCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0)`

	updateCouponSQL = `UPDATE coupons SET
		description = $3, usage_count = $4, customer_usage = $5, active = $6,
		updated_at = $7, version = version + 1
	WHERE id = $1 AND version = $2`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code. The SQL query applies UPPER()
// on the parameter, so the code is passed as-is.
func (r *CouponRepository) FindByCode(ctx context.Context, code coupon.Code) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, code.String())
}

// FindByID looks up a coupon by its ID.
func (r *CouponRepository) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, query, key string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	return c, nil
}

// ExistsByCode reports whether a coupon with the code exists.
func (r *CouponRepository) ExistsByCode(ctx context.Context, code coupon.Code) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", code, err)
	}
	return exists, nil
}

// ListValid returns active, unexpired, unexhausted coupons.
func (r *CouponRepository) ListValid(ctx context.Context, now time.Time) ([]*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listValidCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing valid coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Create inserts a new coupon at version 0. A duplicate code is reported as
// coupon.ErrDuplicateCode.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	s := c.Snapshot()
	usage, err := json.Marshal(s.CustomerUsage)
	if err != nil {
		return fmt.Errorf("marshaling coupon usage: %w", err)
	}
	rule := ruleToRow(s.Rule)
	_, err = r.pool.Exec(ctx, createCouponSQL,
		s.ID, s.Code.String(), s.Description, rule.Type, rule.Value, rule.Currency, rule.Minimum, s.ExpiresAt,
		s.MaxUses, s.MaxUsesPerCustomer, s.UsageCount, usage, s.Active, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", coupon.ErrDuplicateCode, s.Code)
		}
		return fmt.Errorf("creating coupon %q: %w", s.Code, err)
	}
	return nil
}

// Save writes the mutable coupon state under the optimistic version check.
func (r *CouponRepository) Save(ctx context.Context, c *coupon.Coupon) error {
	s := c.Snapshot()
	usage, err := json.Marshal(s.CustomerUsage)
	if err != nil {
		return fmt.Errorf("marshaling coupon usage: %w", err)
	}
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		s.ID, s.Version, s.Description, s.UsageCount, usage, s.Active, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving coupon %q: %w", s.Code, err)
	}
	if err := checkVersioned(tag, "coupon", s.Code.String(), s.Version); err != nil {
		return err
	}
	c.MarkPersisted(s.Version + 1)
	return nil
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		s     coupon.Snapshot
		code  string
		rule  ruleRow
		usage []byte
	)
	err := row.Scan(
		&s.ID, &code, &s.Description, &rule.Type, &rule.Value, &rule.Currency, &rule.Minimum, &s.ExpiresAt,
		&s.MaxUses, &s.MaxUsesPerCustomer, &s.UsageCount, &usage, &s.Active, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.Code = coupon.Code(code)
	if s.Rule, err = rule.rule(); err != nil {
		return nil, fmt.Errorf("coupon %s rule: %w", code, err)
	}
	if err := json.Unmarshal(usage, &s.CustomerUsage); err != nil {
		return nil, fmt.Errorf("coupon %s usage: %w", code, err)
	}
	return coupon.Restore(s), nil
}
