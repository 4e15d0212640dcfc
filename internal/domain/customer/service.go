package customer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// Membership summarizes a customer's tier.
type Membership struct {
	CustomerID     string
	Level          Level
	DiscountPct    int
	TotalSpending  money.Money
	SpendingToNext money.Money
	BenefitSummary string
}

// Service runs customer use cases.
type Service struct {
	repo   Repository
	events event.Publisher
	now    func() time.Time
}

func NewService(repo Repository, events event.Publisher) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// Register signs up a new customer. Duplicate emails are rejected.
func (s *Service) Register(ctx context.Context, email, firstName, lastName, phone string) (*Customer, error) {
	addr, err := ParseEmail(email)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByEmail(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(err, "check email")
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, addr)
	}
	c, err := Register(addr, firstName, lastName, phone, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create customer")
	}
	event.Emit(ctx, s.events, c.DrainEvents())
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Customer, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "find customer %s", id)
	}
	return c, nil
}

// AddSpending credits a paid order total to the customer.
func (s *Service) AddSpending(ctx context.Context, customerID string, amount money.Money) (bool, error) {
	var (
		upgraded bool
		saved    *Customer
	)
	err := domain.RetryOnConflict(ctx, func() error {
		c, err := s.repo.FindByID(ctx, customerID)
		if err != nil {
			return err
		}
		up, err := c.AddSpending(amount, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, c); err != nil {
			return err
		}
		upgraded, saved = up, c
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("add spending to customer %s: %w", customerID, err)
	}
	event.Emit(ctx, s.events, saved.DrainEvents())
	return upgraded, nil
}

// Membership returns the tier summary for a customer.
func (s *Service) Membership(ctx context.Context, customerID string) (Membership, error) {
	c, err := s.Get(ctx, customerID)
	if err != nil {
		return Membership{}, err
	}
	next := SpendingToNextLevel(c.TotalSpending())
	return Membership{
		CustomerID:     c.ID(),
		Level:          c.Level(),
		DiscountPct:    c.DiscountPercentage(),
		TotalSpending:  c.TotalSpending(),
		SpendingToNext: next,
		BenefitSummary: BenefitDescription(c.Level(), next),
	}, nil
}
