// Command coupon-import loads batches of generated coupon codes into the
// coupon store.
//
// Every input file is a gzip-compressed list with one code per line. All
// codes get the same discount rule and limits from the flags. A code that
// shows up in more than one batch file is a generator collision: it is
// reported and skipped rather than handed to two campaigns.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
)

type options struct {
	glob        string
	databaseURL string
	expected    uint
	concurrency int

	ruleType    string
	value       string
	minimum     string
	description string
	expiresIn   time.Duration
	maxUses     int
	perCustomer int
}

func main() {
	var o options
	flag.StringVar(&o.glob, "files", "data/coupons*.gz", "glob of gzip-compressed code lists")
	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&o.expected, "expected", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&o.concurrency, "concurrency", 8, "parallel coupon inserts")
	flag.StringVar(&o.ruleType, "type", string(discount.Percentage), "discount type: percentage or fixed_amount")
	flag.StringVar(&o.value, "value", "10", "percentage or amount off")
	flag.StringVar(&o.minimum, "minimum", "", "minimum order total, empty for none")
	flag.StringVar(&o.description, "description", "", "coupon description, defaults to the rule text")
	flag.DurationVar(&o.expiresIn, "expires-in", 30*24*time.Hour, "validity from now")
	flag.IntVar(&o.maxUses, "max-uses", 1, "total uses per code, 0 for unlimited")
	flag.IntVar(&o.perCustomer, "per-customer", 1, "uses per customer, 0 for unlimited")
	flag.Parse()

	if o.databaseURL == "" {
		o.databaseURL = os.Getenv("DATABASE_URL")
	}
	if o.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, o); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, o options) error {
	files, err := filepath.Glob(o.glob)
	if err != nil {
		return errors.Wrap(err, "glob input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", o.glob)
	}
	if len(files) > maxFiles {
		return errors.Errorf("%d files match, at most %d supported", len(files), maxFiles)
	}

	rule, err := buildRule(o.ruleType, o.value, o.minimum)
	if err != nil {
		return err
	}
	tmpl := coupon.Params{
		Description:        o.description,
		Rule:               rule,
		ExpiresAt:          time.Now().Add(o.expiresIn),
		MaxUses:            o.maxUses,
		MaxUsesPerCustomer: o.perCustomer,
	}
	if tmpl.Description == "" {
		tmpl.Description = rule.Description()
	}

	slog.Info("scanning for collisions", slog.Int("files", len(files)))
	collisions, err := findCollisions(ctx, files, o.expected)
	if err != nil {
		return errors.Wrap(err, "find collisions")
	}
	slog.Info("collisions found", slog.Int("count", len(collisions)))

	pool, err := postgres.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc := coupon.NewService(postgres.NewCouponRepository(pool), event.Discard)
	st, err := importCodes(ctx, svc, files, collisions, tmpl, o.concurrency)
	slog.Info("import summary",
		slog.Int64("created", st.created.Load()),
		slog.Int64("existing", st.existing.Load()),
		slog.Int64("invalid", st.invalid.Load()),
		slog.Int64("collisions", st.collided.Load()),
	)
	return err
}

// buildRule turns the rule flags into a discount rule.
func buildRule(typ, value, minimum string) (discount.Rule, error) {
	var minAmount *money.Money
	if minimum != "" {
		m, err := money.New(minimum)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "minimum")
		}
		minAmount = &m
	}

	switch discount.Type(typ) {
	case discount.Percentage:
		pct, err := decimal.NewFromString(value)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "percentage value")
		}
		if minAmount != nil {
			return discount.NewPercentageWithMinimum(pct, *minAmount)
		}
		return discount.NewPercentage(pct)
	case discount.FixedAmount:
		amount, err := money.New(value)
		if err != nil {
			return discount.Rule{}, errors.Wrap(err, "fixed amount value")
		}
		if minAmount != nil {
			return discount.NewFixedAmountWithMinimum(amount, *minAmount), nil
		}
		return discount.NewFixedAmount(amount), nil
	default:
		return discount.Rule{}, fmt.Errorf("%w: %q", discount.ErrUnknownType, typ)
	}
}

// Creator is implemented by *coupon.Service.
type Creator interface {
	Create(ctx context.Context, p coupon.Params) (*coupon.Coupon, error)
}

type stats struct {
	created, existing, invalid, collided atomic.Int64
}

// importCodes streams every file again and creates a coupon per code that
// parses and did not collide. Codes already in the store are counted and
// skipped so an interrupted import can simply be rerun.
func importCodes(ctx context.Context, svc Creator, files []string, collisions map[string]struct{}, tmpl coupon.Params, concurrency int) (*stats, error) {
	st := new(stats)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for _, path := range files {
		err := streamGzFile(ctx, path, func(line string) {
			code, err := coupon.ParseCode(line)
			if err != nil {
				st.invalid.Add(1)
				return
			}
			if _, ok := collisions[code.String()]; ok {
				st.collided.Add(1)
				return
			}
			p := tmpl
			p.Code = code
			g.Go(func() error {
				_, err := svc.Create(ctx, p)
				switch {
				case err == nil:
					if n := st.created.Add(1); n%progressEvery == 0 {
						slog.Info("import progress", slog.Int64("created", n))
					}
					return nil
				case errors.Is(err, coupon.ErrDuplicateCode):
					st.existing.Add(1)
					return nil
				default:
					return errors.Wrapf(err, "create %s", code)
				}
			})
		})
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return st, werr
			}
			return st, err
		}
	}
	return st, g.Wait()
}
