// Package coupon implements redeemable discount codes.
package coupon

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var (
	// ErrNotFound is returned when no coupon matches the code or ID.
	ErrNotFound = fmt.Errorf("coupon %w", domain.ErrNotFound)
	// ErrDuplicateCode is returned when creating a coupon whose code is taken.
	ErrDuplicateCode = fmt.Errorf("%w: coupon code already exists", domain.ErrPolicy)
	// ErrCouponInactive is returned when using a deactivated coupon.
	ErrCouponInactive = fmt.Errorf("%w: coupon is inactive", domain.ErrPolicy)
	// ErrCouponExpired is returned when using a coupon after its expiry.
	ErrCouponExpired = fmt.Errorf("%w: coupon has expired", domain.ErrPolicy)
	// ErrCouponExhausted is returned when the coupon has no uses left.
	ErrCouponExhausted = fmt.Errorf("%w: coupon has reached maximum uses", domain.ErrPolicy)
	// ErrCustomerLimitReached is returned when the customer used up their share.
	ErrCustomerLimitReached = fmt.Errorf("%w: customer has reached maximum uses for this coupon", domain.ErrPolicy)
	// ErrMinimumNotMet is returned when the order total is below the rule minimum.
	ErrMinimumNotMet = fmt.Errorf("%w: order total is below the coupon minimum", domain.ErrPolicy)
	// ErrInvalidLimit is returned for a negative usage limit.
	ErrInvalidLimit = fmt.Errorf("%w: usage limit cannot be negative", domain.ErrValidation)
)

// Params describes a new coupon. Zero MaxUses or MaxUsesPerCustomer means
// unlimited.
type Params struct {
	Code               Code
	Description        string
	Rule               discount.Rule
	ExpiresAt          time.Time
	MaxUses            int
	MaxUsesPerCustomer int
}

// Coupon is a discount code with global and per-customer usage limits.
type Coupon struct {
	id             string
	code           Code
	description    string
	rule           discount.Rule
	expiresAt      time.Time
	maxUses        int
	maxPerCustomer int
	usageCount     int
	usage          map[string]int
	active         bool
	createdAt      time.Time
	updatedAt      time.Time
	version        int64

	events event.Recorder
}

// New creates an active coupon.
func New(p Params, now time.Time) (*Coupon, error) {
	if p.MaxUses < 0 || p.MaxUsesPerCustomer < 0 {
		return nil, ErrInvalidLimit
	}
	if _, err := ParseCode(string(p.Code)); err != nil {
		return nil, err
	}
	return &Coupon{
		id:             uuid.NewString(),
		code:           p.Code,
		description:    p.Description,
		rule:           p.Rule,
		expiresAt:      p.ExpiresAt,
		maxUses:        p.MaxUses,
		maxPerCustomer: p.MaxUsesPerCustomer,
		usage:          make(map[string]int),
		active:         true,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// NewSingleUse creates a coupon that can be used once in total.
func NewSingleUse(code Code, description string, rule discount.Rule, expiresAt, now time.Time) (*Coupon, error) {
	return New(Params{Code: code, Description: description, Rule: rule, ExpiresAt: expiresAt, MaxUses: 1}, now)
}

// NewUnlimited creates a coupon without usage limits.
func NewUnlimited(code Code, description string, rule discount.Rule, expiresAt, now time.Time) (*Coupon, error) {
	return New(Params{Code: code, Description: description, Rule: rule, ExpiresAt: expiresAt}, now)
}

// NewWithPerCustomerLimit creates a coupon capped per customer and, when
// maxUses > 0, in total.
func NewWithPerCustomerLimit(code Code, description string, rule discount.Rule, expiresAt time.Time, maxUses, perCustomer int, now time.Time) (*Coupon, error) {
	return New(Params{
		Code:               code,
		Description:        description,
		Rule:               rule,
		ExpiresAt:          expiresAt,
		MaxUses:            maxUses,
		MaxUsesPerCustomer: perCustomer,
	}, now)
}

// Snapshot is the persisted form of a Coupon.
type Snapshot struct {
	ID                 string
	Code               Code
	Description        string
	Rule               discount.Rule
	ExpiresAt          time.Time
	MaxUses            int
	MaxUsesPerCustomer int
	UsageCount         int
	CustomerUsage      map[string]int
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// Restore rebuilds a Coupon from storage.
func Restore(s Snapshot) *Coupon {
	usage := make(map[string]int, len(s.CustomerUsage))
	maps.Copy(usage, s.CustomerUsage)
	return &Coupon{
		id:             s.ID,
		code:           s.Code,
		description:    s.Description,
		rule:           s.Rule,
		expiresAt:      s.ExpiresAt,
		maxUses:        s.MaxUses,
		maxPerCustomer: s.MaxUsesPerCustomer,
		usageCount:     s.UsageCount,
		usage:          usage,
		active:         s.Active,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
		version:        s.Version,
	}
}

// Snapshot returns the persisted form.
func (c *Coupon) Snapshot() Snapshot {
	usage := make(map[string]int, len(c.usage))
	maps.Copy(usage, c.usage)
	return Snapshot{
		ID:                 c.id,
		Code:               c.code,
		Description:        c.description,
		Rule:               c.rule,
		ExpiresAt:          c.expiresAt,
		MaxUses:            c.maxUses,
		MaxUsesPerCustomer: c.maxPerCustomer,
		UsageCount:         c.usageCount,
		CustomerUsage:      usage,
		Active:             c.active,
		CreatedAt:          c.createdAt,
		UpdatedAt:          c.updatedAt,
		Version:            c.version,
	}
}

func (c *Coupon) ID() string              { return c.id }
func (c *Coupon) Code() Code              { return c.code }
func (c *Coupon) Description() string     { return c.description }
func (c *Coupon) Rule() discount.Rule     { return c.rule }
func (c *Coupon) ExpiresAt() time.Time    { return c.expiresAt }
func (c *Coupon) MaxUses() int            { return c.maxUses }
func (c *Coupon) MaxUsesPerCustomer() int { return c.maxPerCustomer }
func (c *Coupon) UsageCount() int         { return c.usageCount }
func (c *Coupon) IsActive() bool          { return c.active }
func (c *Coupon) Version() int64          { return c.version }

// MarkPersisted records the version assigned by the repository on save.
func (c *Coupon) MarkPersisted(version int64) { c.version = version }

// DrainEvents returns and clears events recorded since the last drain.
func (c *Coupon) DrainEvents() []event.Event { return c.events.Drain() }

// IsExpired reports now past the expiry instant.
func (c *Coupon) IsExpired(now time.Time) bool { return now.After(c.expiresAt) }

// IsExhausted reports a bounded coupon with no uses left.
func (c *Coupon) IsExhausted() bool { return c.maxUses > 0 && c.usageCount >= c.maxUses }

// IsSingleUse reports a coupon usable once in total.
func (c *Coupon) IsSingleUse() bool { return c.maxUses == 1 }

// IsValid reports active and not expired.
func (c *Coupon) IsValid(now time.Time) bool { return c.active && !c.IsExpired(now) }

// CanBeUsed reports valid and not exhausted.
func (c *Coupon) CanBeUsed(now time.Time) bool { return c.IsValid(now) && !c.IsExhausted() }

// CanBeUsedBy additionally checks the per-customer cap.
func (c *Coupon) CanBeUsedBy(customerID string, now time.Time) bool {
	return c.usabilityError(customerID, now) == nil
}

// UsesBy returns how many times customerID used the coupon.
func (c *Coupon) UsesBy(customerID string) int { return c.usage[customerID] }

// HasBeenUsedBy reports at least one use by customerID.
func (c *Coupon) HasBeenUsedBy(customerID string) bool { return c.usage[customerID] > 0 }

// usabilityError reports the first failing validity predicate.
func (c *Coupon) usabilityError(customerID string, now time.Time) error {
	switch {
	case !c.active:
		return ErrCouponInactive
	case c.IsExpired(now):
		return ErrCouponExpired
	case c.IsExhausted():
		return ErrCouponExhausted
	case c.maxPerCustomer > 0 && c.usage[customerID] >= c.maxPerCustomer:
		return ErrCustomerLimitReached
	}
	return nil
}

// Use records one redemption by customerID.
func (c *Coupon) Use(customerID string, now time.Time) error {
	if err := c.usabilityError(customerID, now); err != nil {
		return err
	}
	c.usageCount++
	c.usage[customerID]++
	c.updatedAt = now
	c.events.Record(Used{
		Base:       event.NewBase(c.id, now),
		Code:       c.code,
		CustomerID: customerID,
		UsageCount: c.usageCount,
	})
	return nil
}

// RevokeUse undoes one redemption by customerID, e.g. when checkout fails
// after the coupon was redeemed. Counters never go below zero.
func (c *Coupon) RevokeUse(customerID string, now time.Time) {
	if c.usage[customerID] == 0 {
		return
	}
	c.usage[customerID]--
	if c.usage[customerID] == 0 {
		delete(c.usage, customerID)
	}
	c.usageCount = max(0, c.usageCount-1)
	c.updatedAt = now
}

// Deactivate disables the coupon until reactivated.
func (c *Coupon) Deactivate(now time.Time) {
	c.active = false
	c.updatedAt = now
}

// Reactivate enables a deactivated coupon.
func (c *Coupon) Reactivate(now time.Time) {
	c.active = true
	c.updatedAt = now
}

// IsApplicableTo reports whether total meets the rule minimum.
func (c *Coupon) IsApplicableTo(total money.Money) bool { return c.rule.MeetsMinimum(total) }

// CalculateDiscount returns the discount for total, zero below the minimum.
func (c *Coupon) CalculateDiscount(total money.Money) (money.Money, error) {
	return c.rule.Calculate(total)
}

// Used is raised on every successful redemption.
type Used struct {
	event.Base
	Code       Code
	CustomerID string
	UsageCount int
}

func (Used) EventType() string { return "CouponUsed" }

// Repository persists coupons. Save must fail with an error wrapping
// domain.ErrConflict when the stored version differs from Version().
type Repository interface {
	FindByCode(ctx context.Context, code Code) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	ExistsByCode(ctx context.Context, code Code) (bool, error)
	ListValid(ctx context.Context, now time.Time) ([]*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Save(ctx context.Context, c *Coupon) error
}
