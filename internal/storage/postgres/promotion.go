package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
)

const (
	promotionColumns = `id, name, description, discount_type, value, currency, minimum,
		starts_at, ends_at, active, created_at, updated_at, version`

	getPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	listActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
	WHERE active AND starts_at <= $1 AND ends_at >= $1
	ORDER BY starts_at, id`

	createPromotionSQL = `INSERT INTO promotions (` + promotionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0)`

	updatePromotionSQL = `UPDATE promotions SET
		name = $3, description = $4, active = $5, updated_at = $6, version = version + 1
	WHERE id = $1 AND version = $2`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

func (r *PromotionRepository) FindByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	return p, nil
}

// ListActive returns promotions whose window contains now.
func (r *PromotionRepository) ListActive(ctx context.Context, now time.Time) ([]*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, listActivePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	s := p.Snapshot()
	rule := ruleToRow(s.Rule)
	_, err := r.pool.Exec(ctx, createPromotionSQL,
		s.ID, s.Name, s.Description, rule.Type, rule.Value, rule.Currency, rule.Minimum,
		s.StartsAt, s.EndsAt, s.Active, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating promotion %q: %w", s.Name, err)
	}
	return nil
}

func (r *PromotionRepository) Save(ctx context.Context, p *promotion.Promotion) error {
	s := p.Snapshot()
	tag, err := r.pool.Exec(ctx, updatePromotionSQL,
		s.ID, s.Version, s.Name, s.Description, s.Active, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving promotion %q: %w", s.ID, err)
	}
	if err := checkVersioned(tag, "promotion", s.ID, s.Version); err != nil {
		return err
	}
	p.MarkPersisted(s.Version + 1)
	return nil
}

func scanPromotion(row pgx.CollectableRow) (*promotion.Promotion, error) {
	var (
		s    promotion.Snapshot
		rule ruleRow
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &rule.Type, &rule.Value, &rule.Currency, &rule.Minimum,
		&s.StartsAt, &s.EndsAt, &s.Active, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	if s.Rule, err = rule.rule(); err != nil {
		return nil, fmt.Errorf("promotion %s rule: %w", s.ID, err)
	}
	return promotion.Restore(s), nil
}
