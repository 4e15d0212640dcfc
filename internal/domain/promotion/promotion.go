// Package promotion implements time-boxed store-wide discounts.
package promotion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var (
	// ErrNotFound is returned when no promotion matches the ID.
	ErrNotFound = fmt.Errorf("promotion %w", domain.ErrNotFound)
	// ErrInvalidPeriod is returned when the end precedes the start.
	ErrInvalidPeriod = fmt.Errorf("%w: promotion end must not be before start", domain.ErrValidation)
	// ErrNameRequired is returned for a blank name.
	ErrNameRequired = fmt.Errorf("%w: promotion name is required", domain.ErrValidation)
)

// Promotion discounts any qualifying order while active. It has no usage
// counters and is not tied to a customer.
type Promotion struct {
	id          string
	name        string
	description string
	rule        discount.Rule
	startsAt    time.Time
	endsAt      time.Time
	active      bool
	createdAt   time.Time
	updatedAt   time.Time
	version     int64

	events event.Recorder
}

// New creates a manually active promotion for [start, end].
func New(name, description string, rule discount.Rule, start, end, now time.Time) (*Promotion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if end.Before(start) {
		return nil, ErrInvalidPeriod
	}
	p := &Promotion{
		id:          uuid.NewString(),
		name:        name,
		description: description,
		rule:        rule,
		startsAt:    start,
		endsAt:      end,
		active:      true,
		createdAt:   now,
		updatedAt:   now,
	}
	if p.IsActive(now) {
		p.recordStarted(now)
	}
	return p, nil
}

// Snapshot is the persisted form of a Promotion.
type Snapshot struct {
	ID          string
	Name        string
	Description string
	Rule        discount.Rule
	StartsAt    time.Time
	EndsAt      time.Time
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// Restore rebuilds a Promotion from storage.
func Restore(s Snapshot) *Promotion {
	return &Promotion{
		id:          s.ID,
		name:        s.Name,
		description: s.Description,
		rule:        s.Rule,
		startsAt:    s.StartsAt,
		endsAt:      s.EndsAt,
		active:      s.Active,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		version:     s.Version,
	}
}

// Snapshot returns the persisted form.
func (p *Promotion) Snapshot() Snapshot {
	return Snapshot{
		ID:          p.id,
		Name:        p.name,
		Description: p.description,
		Rule:        p.rule,
		StartsAt:    p.startsAt,
		EndsAt:      p.endsAt,
		Active:      p.active,
		CreatedAt:   p.createdAt,
		UpdatedAt:   p.updatedAt,
		Version:     p.version,
	}
}

func (p *Promotion) ID() string          { return p.id }
func (p *Promotion) Name() string        { return p.name }
func (p *Promotion) Description() string { return p.description }
func (p *Promotion) Rule() discount.Rule { return p.rule }
func (p *Promotion) StartsAt() time.Time { return p.startsAt }
func (p *Promotion) EndsAt() time.Time   { return p.endsAt }
func (p *Promotion) Version() int64      { return p.version }

// MarkPersisted records the version assigned by the repository on save.
func (p *Promotion) MarkPersisted(version int64) { p.version = version }

// DrainEvents returns and clears events recorded since the last drain.
func (p *Promotion) DrainEvents() []event.Event { return p.events.Drain() }

// IsActive reports the manual flag set and now within [start, end].
func (p *Promotion) IsActive(now time.Time) bool {
	return p.active && !now.Before(p.startsAt) && !now.After(p.endsAt)
}

// IsExpired reports now past the end.
func (p *Promotion) IsExpired(now time.Time) bool { return now.After(p.endsAt) }

// Activate sets the manual flag.
func (p *Promotion) Activate(now time.Time) {
	if p.active {
		return
	}
	p.active = true
	p.updatedAt = now
	if p.IsActive(now) {
		p.recordStarted(now)
	}
}

// Deactivate clears the manual flag.
func (p *Promotion) Deactivate(now time.Time) {
	p.active = false
	p.updatedAt = now
}

// Update changes the display fields.
func (p *Promotion) Update(name, description string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	p.name = name
	p.description = description
	p.updatedAt = now
	return nil
}

// IsApplicableTo reports an active promotion whose minimum total is met.
func (p *Promotion) IsApplicableTo(total money.Money, now time.Time) bool {
	return p.IsActive(now) && p.rule.MeetsMinimum(total)
}

// CalculateDiscount returns the discount for total, zero when inactive.
func (p *Promotion) CalculateDiscount(total money.Money, now time.Time) (money.Money, error) {
	if !p.IsActive(now) {
		return money.Zero(total.Currency()), nil
	}
	return p.rule.Calculate(total)
}

func (p *Promotion) recordStarted(now time.Time) {
	p.events.Record(Started{Base: event.NewBase(p.id, now), Name: p.name})
}

// Started is raised when a promotion becomes active by creation or activation.
type Started struct {
	event.Base
	Name string
}

func (Started) EventType() string { return "PromotionStarted" }

// Repository persists promotions. Save must fail with an error wrapping
// domain.ErrConflict when the stored version differs from Version().
type Repository interface {
	FindByID(ctx context.Context, id string) (*Promotion, error)
	ListActive(ctx context.Context, now time.Time) ([]*Promotion, error)
	Create(ctx context.Context, p *Promotion) error
	Save(ctx context.Context, p *Promotion) error
}
