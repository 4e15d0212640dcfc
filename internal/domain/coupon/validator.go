package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// NotValidError explains why a coupon cannot be applied to an order.
type NotValidError struct {
	Code   Code
	Reason error
}

func (e *NotValidError) Error() string {
	return fmt.Sprintf("coupon %s cannot be applied: %v", e.Code, e.Reason)
}

func (e *NotValidError) Unwrap() error { return e.Reason }

// Discount is the result of applying a coupon to an order total.
type Discount struct {
	Code        Code
	Amount      money.Money
	Description string
}

// Validator checks a coupon code against an order without consuming it.
type Validator interface {
	Validate(ctx context.Context, code, customerID string, total money.Money) (Discount, error)
}

// Redeemer consumes one use of a coupon for an order.
type Redeemer interface {
	Redeem(ctx context.Context, code, customerID string, total money.Money) (Discount, error)
	Revoke(ctx context.Context, code Code, customerID string) error
}

var (
	_ Validator = (*Service)(nil)
	_ Redeemer  = (*Service)(nil)
)

// Service runs coupon use cases against a Repository.
type Service struct {
	repo   Repository
	events event.Publisher
	now    func() time.Time
}

// NewService creates a coupon Service.
func NewService(repo Repository, events event.Publisher) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// Create stores a new coupon, rejecting duplicate codes.
func (s *Service) Create(ctx context.Context, p Params) (*Coupon, error) {
	c, err := New(p, s.now())
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByCode(ctx, c.Code())
	if err != nil {
		return nil, errors.Wrap(err, "check coupon code")
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, c.Code())
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create coupon %s: %w", c.Code(), err)
	}
	return c, nil
}

// Get returns the coupon with the given code.
func (s *Service) Get(ctx context.Context, code string) (*Coupon, error) {
	cc, err := ParseCode(code)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.FindByCode(ctx, cc)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %s", cc)
	}
	return c, nil
}

// ListValid returns coupons that are active and not expired.
func (s *Service) ListValid(ctx context.Context) ([]*Coupon, error) {
	list, err := s.repo.ListValid(ctx, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list valid coupons")
	}
	return list, nil
}

// Validate reports the discount code would give customerID on total.
func (s *Service) Validate(ctx context.Context, code, customerID string, total money.Money) (Discount, error) {
	c, err := s.Get(ctx, code)
	if err != nil {
		return Discount{}, err
	}
	return s.check(c, customerID, total, s.now())
}

// Redeem validates and consumes one use of code for customerID. Concurrent
// redemptions are serialized by the repository version check, so a coupon
// with MaxUses=1 is used exactly once.
func (s *Service) Redeem(ctx context.Context, code, customerID string, total money.Money) (Discount, error) {
	cc, err := ParseCode(code)
	if err != nil {
		return Discount{}, err
	}

	var (
		out   Discount
		saved *Coupon
	)
	err = domain.RetryOnConflict(ctx, func() error {
		c, err := s.repo.FindByCode(ctx, cc)
		if err != nil {
			return err
		}
		now := s.now()
		d, err := s.check(c, customerID, total, now)
		if err != nil {
			return err
		}
		if err := c.Use(customerID, now); err != nil {
			return &NotValidError{Code: cc, Reason: err}
		}
		if err := s.repo.Save(ctx, c); err != nil {
			return err
		}
		out, saved = d, c
		return nil
	})
	if err != nil {
		return Discount{}, fmt.Errorf("redeem coupon %s: %w", cc, err)
	}
	event.Emit(ctx, s.events, saved.DrainEvents())
	return out, nil
}

// Revoke gives back one use of code by customerID.
func (s *Service) Revoke(ctx context.Context, code Code, customerID string) error {
	return s.mutate(ctx, code, "revoke", func(c *Coupon, now time.Time) {
		c.RevokeUse(customerID, now)
	})
}

// Deactivate disables a coupon.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	cc, err := ParseCode(code)
	if err != nil {
		return err
	}
	return s.mutate(ctx, cc, "deactivate", (*Coupon).Deactivate)
}

// Reactivate re-enables a coupon.
func (s *Service) Reactivate(ctx context.Context, code string) error {
	cc, err := ParseCode(code)
	if err != nil {
		return err
	}
	return s.mutate(ctx, cc, "reactivate", (*Coupon).Reactivate)
}

func (s *Service) check(c *Coupon, customerID string, total money.Money, now time.Time) (Discount, error) {
	if err := c.usabilityError(customerID, now); err != nil {
		return Discount{}, &NotValidError{Code: c.Code(), Reason: err}
	}
	if !c.IsApplicableTo(total) {
		return Discount{}, &NotValidError{Code: c.Code(), Reason: ErrMinimumNotMet}
	}
	amount, err := c.CalculateDiscount(total)
	if err != nil {
		return Discount{}, errors.Wrap(err, "calculate discount")
	}
	return Discount{Code: c.Code(), Amount: amount, Description: c.Rule().Description()}, nil
}

func (s *Service) mutate(ctx context.Context, code Code, op string, fn func(*Coupon, time.Time)) error {
	err := domain.RetryOnConflict(ctx, func() error {
		c, err := s.repo.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		fn(c, s.now())
		return s.repo.Save(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("%s coupon %s: %w", op, code, err)
	}
	return nil
}
