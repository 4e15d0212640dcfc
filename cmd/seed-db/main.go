// Command seed-db loads a demo catalog into a fresh database: categories,
// products with their inventory, coupons and promotions. It is safe to rerun; existing
// inventory, coupons and promotions are left untouched.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
)

// duration decodes Go duration strings such as "720h".
type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

type ruleJSON struct {
	Type    discount.Type `json:"type"`
	Value   string        `json:"value"`
	Minimum string        `json:"minimum_order"`
}

type categoryJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ParentID     string `json:"parent_id"`
	DisplayOrder int    `json:"display_order"`
}

type productJSON struct {
	ID           string `json:"id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	CategoryID   string `json:"category_id"`
	Price        string `json:"price"`
	Stock        int    `json:"stock"`
	LowThreshold *int   `json:"low_stock_threshold"`
}

type couponJSON struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Rule        ruleJSON `json:"rule"`
	ValidFor    duration `json:"valid_for"`
	MaxUses     int      `json:"max_uses"`
	PerCustomer int      `json:"max_uses_per_customer"`
}

type promotionJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rule        ruleJSON `json:"rule"`
	ValidFor    duration `json:"valid_for"`
}

type seedFile struct {
	Categories []categoryJSON  `json:"categories"`
	Products   []productJSON   `json:"products"`
	Coupons    []couponJSON    `json:"coupons"`
	Promotions []promotionJSON `json:"promotions"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "file", "db/seed/catalog.json", "path to the seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	f, err := os.Open(seedPath)
	if err != nil {
		return errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()

	seed, err := decodeSeed(f)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s := seeder{
		categories: postgres.NewCategoryRepository(pool),
		products:   postgres.NewProductRepository(pool),
		inventory:  inventory.NewService(postgres.NewInventoryRepository(pool), event.Discard),
		coupons:    coupon.NewService(postgres.NewCouponRepository(pool), event.Discard),
		promotions: promotion.NewService(postgres.NewPromotionRepository(pool), event.Discard),
		now:        time.Now(),
	}
	return s.seed(ctx, seed)
}

func decodeSeed(r io.Reader) (seedFile, error) {
	var seed seedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return seedFile{}, errors.Wrap(err, "parse seed JSON")
	}
	return seed, nil
}

func (r ruleJSON) rule() (discount.Rule, error) {
	var minimum *money.Money
	if r.Minimum != "" {
		m, err := money.New(r.Minimum)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "minimum_order")
		}
		minimum = &m
	}
	switch r.Type {
	case discount.Percentage:
		pct, err := decimal.NewFromString(r.Value)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "percentage")
		}
		if minimum != nil {
			return discount.NewPercentageWithMinimum(pct, *minimum)
		}
		return discount.NewPercentage(pct)
	case discount.FixedAmount:
		amount, err := money.New(r.Value)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "amount")
		}
		if minimum != nil {
			return discount.NewFixedAmountWithMinimum(amount, *minimum), nil
		}
		return discount.NewFixedAmount(amount), nil
	default:
		return discount.Rule{}, errors.Wrapf(discount.ErrUnknownType, "%q", r.Type)
	}
}

func (c categoryJSON) category(now time.Time) (*product.Category, error) {
	cat, err := product.NewCategory(c.Name, c.Description, c.ParentID, c.DisplayOrder, now)
	if err != nil {
		return nil, err
	}
	cat.ID = c.ID
	return cat, nil
}

func (p productJSON) product(now time.Time) (*product.Product, error) {
	sku, err := product.ParseSKU(p.SKU)
	if err != nil {
		return nil, err
	}
	price, err := money.New(p.Price)
	if err != nil {
		return nil, err
	}
	return &product.Product{
		ID:          p.ID,
		SKU:         sku,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Price:       price,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type (
	categorySaver interface {
		Save(ctx context.Context, c *product.Category) error
	}
	productSaver interface {
		Save(ctx context.Context, p *product.Product) error
	}
	inventoryCreator interface {
		Create(ctx context.Context, productID string, initial, threshold int) (*inventory.Inventory, error)
	}
	couponCreator interface {
		Create(ctx context.Context, p coupon.Params) (*coupon.Coupon, error)
	}
	promotionCreator interface {
		ListActive(ctx context.Context) ([]*promotion.Promotion, error)
		Create(ctx context.Context, name, description string, rule discount.Rule, start, end time.Time) (*promotion.Promotion, error)
	}
)

type seeder struct {
	categories categorySaver
	products   productSaver
	inventory  inventoryCreator
	coupons    couponCreator
	promotions promotionCreator
	now        time.Time
}

func (s seeder) seed(ctx context.Context, seed seedFile) error {
	slog.Info("upserting categories", slog.Int("count", len(seed.Categories)))
	for _, cj := range seed.Categories {
		c, err := cj.category(s.now)
		if err != nil {
			return errors.Wrapf(err, "category %s", cj.ID)
		}
		if err := s.categories.Save(ctx, c); err != nil {
			return errors.Wrapf(err, "save category %s", c.ID)
		}
	}

	slog.Info("upserting products", slog.Int("count", len(seed.Products)))
	for _, pj := range seed.Products {
		p, err := pj.product(s.now)
		if err != nil {
			return errors.Wrapf(err, "product %s", pj.ID)
		}
		if err := s.products.Save(ctx, p); err != nil {
			return errors.Wrapf(err, "save product %s", p.ID)
		}

		threshold := -1
		if pj.LowThreshold != nil {
			threshold = *pj.LowThreshold
		}
		_, err = s.inventory.Create(ctx, p.ID, pj.Stock, threshold)
		switch {
		case errors.Is(err, inventory.ErrAlreadyExists):
			slog.Info("inventory exists, kept", slog.String("id", p.ID))
		case err != nil:
			return errors.Wrapf(err, "create inventory %s", p.ID)
		default:
			slog.Info("seeded product", slog.String("id", p.ID), slog.Int("stock", pj.Stock))
		}
	}

	for _, cj := range seed.Coupons {
		code, err := coupon.ParseCode(cj.Code)
		if err != nil {
			return err
		}
		rule, err := cj.Rule.rule()
		if err != nil {
			return errors.Wrapf(err, "coupon %s rule", code)
		}
		desc := cj.Description
		if desc == "" {
			desc = rule.Description()
		}
		_, err = s.coupons.Create(ctx, coupon.Params{
			Code:               code,
			Description:        desc,
			Rule:               rule,
			ExpiresAt:          s.now.Add(time.Duration(cj.ValidFor)),
			MaxUses:            cj.MaxUses,
			MaxUsesPerCustomer: cj.PerCustomer,
		})
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists, kept", slog.String("code", code.String()))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", code)
		default:
			slog.Info("seeded coupon", slog.String("code", code.String()))
		}
	}

	active, err := s.promotions.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list promotions")
	}
	running := make(map[string]bool, len(active))
	for _, p := range active {
		running[p.Name()] = true
	}
	for _, pj := range seed.Promotions {
		if running[pj.Name] {
			slog.Info("promotion running, kept", slog.String("name", pj.Name))
			continue
		}
		rule, err := pj.Rule.rule()
		if err != nil {
			return errors.Wrapf(err, "promotion %q rule", pj.Name)
		}
		if _, err := s.promotions.Create(ctx, pj.Name, pj.Description, rule, s.now, s.now.Add(time.Duration(pj.ValidFor))); err != nil {
			return errors.Wrapf(err, "create promotion %q", pj.Name)
		}
		slog.Info("seeded promotion", slog.String("name", pj.Name))
	}
	return nil
}
