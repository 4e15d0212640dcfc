// Package customer holds the spending-relevant slice of a customer and the
// membership tier it earns.
package customer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var (
	ErrNotFound        = fmt.Errorf("customer %w", domain.ErrNotFound)
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email", domain.ErrValidation)
	ErrNameRequired    = fmt.Errorf("%w: first and last name are required", domain.ErrValidation)
	ErrEmailTaken      = fmt.Errorf("%w: email already registered", domain.ErrPolicy)
	ErrInvalidSpending = fmt.Errorf("%w: spending must be positive", domain.ErrValidation)
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Email is a lowercased, syntactically valid address.
type Email string

// ParseEmail validates and normalizes an address.
func ParseEmail(s string) (Email, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !emailPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}
	return Email(s), nil
}

func (e Email) String() string { return string(e) }

// Customer tracks cumulative spending and the derived member level.
type Customer struct {
	id            string
	email         Email
	firstName     string
	lastName      string
	phone         string
	totalSpending money.Money
	level         Level
	createdAt     time.Time
	updatedAt     time.Time
	version       int64

	events event.Recorder
}

// Register creates a NORMAL customer with zero spending.
func Register(email Email, firstName, lastName, phone string, now time.Time) (*Customer, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if firstName == "" || lastName == "" {
		return nil, ErrNameRequired
	}
	if email == "" {
		return nil, ErrInvalidEmail
	}
	c := &Customer{
		id:            uuid.NewString(),
		email:         email,
		firstName:     firstName,
		lastName:      lastName,
		phone:         strings.TrimSpace(phone),
		totalSpending: money.Zero(""),
		level:         Normal,
		createdAt:     now,
		updatedAt:     now,
	}
	c.events.Record(Registered{
		Base:      event.NewBase(c.id, now),
		Email:     email.String(),
		FirstName: firstName,
		LastName:  lastName,
	})
	return c, nil
}

// Snapshot is the persisted form of a Customer.
type Snapshot struct {
	ID            string
	Email         Email
	FirstName     string
	LastName      string
	Phone         string
	TotalSpending money.Money
	Level         Level
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Restore rebuilds a Customer from storage. The level is recomputed from
// spending so a stale stored level cannot survive.
func Restore(s Snapshot) *Customer {
	return &Customer{
		id:            s.ID,
		email:         s.Email,
		firstName:     s.FirstName,
		lastName:      s.LastName,
		phone:         s.Phone,
		totalSpending: s.TotalSpending,
		level:         CalculateLevel(s.TotalSpending),
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
		version:       s.Version,
	}
}

func (c *Customer) Snapshot() Snapshot {
	return Snapshot{
		ID:            c.id,
		Email:         c.email,
		FirstName:     c.firstName,
		LastName:      c.lastName,
		Phone:         c.phone,
		TotalSpending: c.totalSpending,
		Level:         c.level,
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
		Version:       c.version,
	}
}

func (c *Customer) ID() string                 { return c.id }
func (c *Customer) Email() Email               { return c.email }
func (c *Customer) FullName() string           { return c.firstName + " " + c.lastName }
func (c *Customer) TotalSpending() money.Money { return c.totalSpending }
func (c *Customer) Level() Level               { return c.level }
func (c *Customer) Version() int64             { return c.version }

// DiscountPercentage is the member discount for the current level.
func (c *Customer) DiscountPercentage() int { return DiscountPercentage(c.level) }

func (c *Customer) MarkPersisted(version int64) { c.version = version }

func (c *Customer) DrainEvents() []event.Event { return c.events.Drain() }

// AddSpending adds a positive amount to the running total and recomputes the
// level. It reports whether the level went up; only then is LevelUpgraded
// recorded.
func (c *Customer) AddSpending(amount money.Money, now time.Time) (bool, error) {
	if amount.IsZero() {
		return false, ErrInvalidSpending
	}
	total, err := c.totalSpending.Add(amount)
	if err != nil {
		return false, err
	}
	old := c.level
	c.totalSpending = total
	c.level = CalculateLevel(total)
	c.updatedAt = now

	if c.level <= old {
		return false, nil
	}
	c.events.Record(LevelUpgraded{
		Base:             event.NewBase(c.id, now),
		CustomerID:       c.id,
		OldLevel:         old,
		NewLevel:         c.level,
		NewDiscountPct:   DiscountPercentage(c.level),
		NewTotalSpending: total,
	})
	return true, nil
}

// Registered is raised once when a customer signs up.
type Registered struct {
	event.Base
	Email     string
	FirstName string
	LastName  string
}

func (Registered) EventType() string { return "CustomerRegistered" }

// LevelUpgraded is raised when spending moves a customer to a higher tier.
type LevelUpgraded struct {
	event.Base
	CustomerID       string
	OldLevel         Level
	NewLevel         Level
	NewDiscountPct   int
	NewTotalSpending money.Money
}

func (LevelUpgraded) EventType() string { return "LevelUpgraded" }

// Repository persists customers. Save must fail with an error wrapping
// domain.ErrConflict on a stale version.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
	ExistsByEmail(ctx context.Context, email Email) (bool, error)
	Create(ctx context.Context, c *Customer) error
	Save(ctx context.Context, c *Customer) error
}
