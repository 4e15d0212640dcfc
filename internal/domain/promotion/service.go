package promotion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// Applied is the best promotion found for an order total.
type Applied struct {
	PromotionID string
	Name        string
	Amount      money.Money
}

// Service runs promotion use cases.
type Service struct {
	repo   Repository
	events event.Publisher
	now    func() time.Time
}

// NewService creates a promotion Service.
func NewService(repo Repository, events event.Publisher) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// Create stores a new promotion.
func (s *Service) Create(ctx context.Context, name, description string, rule discount.Rule, start, end time.Time) (*Promotion, error) {
	p, err := New(name, description, rule, start, end, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create promotion")
	}
	event.Emit(ctx, s.events, p.DrainEvents())
	return p, nil
}

// Get returns a promotion by ID.
func (s *Service) Get(ctx context.Context, id string) (*Promotion, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "find promotion %s", id)
	}
	return p, nil
}

// ListActive returns promotions active right now.
func (s *Service) ListActive(ctx context.Context) ([]*Promotion, error) {
	now := s.now()
	list, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active promotions")
	}
	// Storage filters by period; the manual flag and clock are rechecked here.
	out := list[:0]
	for _, p := range list {
		if p.IsActive(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Best returns the active promotion giving the largest discount on total.
// ok is false when none applies.
func (s *Service) Best(ctx context.Context, total money.Money) (best Applied, ok bool, err error) {
	list, err := s.ListActive(ctx)
	if err != nil {
		return Applied{}, false, err
	}
	now := s.now()
	for _, p := range list {
		if !p.IsApplicableTo(total, now) {
			continue
		}
		amount, err := p.CalculateDiscount(total, now)
		if err != nil {
			return Applied{}, false, errors.Wrapf(err, "promotion %s", p.ID())
		}
		if amount.IsZero() {
			continue
		}
		if !ok || amount.GreaterThan(best.Amount) {
			best = Applied{PromotionID: p.ID(), Name: p.Name(), Amount: amount}
			ok = true
		}
	}
	return best, ok, nil
}

// Activate sets the manual flag of a promotion.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.mutate(ctx, id, "activate", func(p *Promotion, now time.Time) error {
		p.Activate(now)
		return nil
	})
}

// Deactivate clears the manual flag of a promotion.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.mutate(ctx, id, "deactivate", func(p *Promotion, now time.Time) error {
		p.Deactivate(now)
		return nil
	})
}

// Update changes the name and description of a promotion.
func (s *Service) Update(ctx context.Context, id, name, description string) error {
	return s.mutate(ctx, id, "update", func(p *Promotion, now time.Time) error {
		return p.Update(name, description, now)
	})
}

func (s *Service) mutate(ctx context.Context, id, op string, fn func(*Promotion, time.Time) error) error {
	var saved *Promotion
	err := domain.RetryOnConflict(ctx, func() error {
		p, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(p, s.now()); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, p); err != nil {
			return err
		}
		saved = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s promotion %s: %w", op, id, err)
	}
	event.Emit(ctx, s.events, saved.DrainEvents())
	return nil
}
