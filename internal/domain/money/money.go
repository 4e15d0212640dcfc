// Package money provides a currency-tagged decimal amount.
package money

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain"
)

// Scale is the number of fractional digits every amount is rounded to.
const Scale = 2

var (
	// ErrNegative is returned when an amount would be below zero.
	ErrNegative = fmt.Errorf("%w: money amount cannot be negative", domain.ErrValidation)
	// ErrCurrencyMismatch is returned when combining amounts in different currencies.
	ErrCurrencyMismatch = fmt.Errorf("%w: currency mismatch", domain.ErrValidation)
	// ErrInvalidCurrency is returned for a currency code that is not three letters.
	ErrInvalidCurrency = fmt.Errorf("%w: invalid currency code", domain.ErrValidation)
)

var defaultCurrency atomic.Value

func init() {
	defaultCurrency.Store("TWD")
}

// DefaultCurrency returns the currency used by the single-argument constructors.
func DefaultCurrency() string {
	return defaultCurrency.Load().(string)
}

// SetDefaultCurrency changes the default currency. It is meant to be called
// once at startup, before any amounts are created.
func SetDefaultCurrency(code string) error {
	c, err := normalizeCurrency(code)
	if err != nil {
		return err
	}
	defaultCurrency.Store(c)
	return nil
}

// Money is an immutable non-negative amount with a currency. The zero value
// is not usable; construct with New, FromDecimal or Zero.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New parses amount in the default currency.
func New(amount string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: parse amount %q: %v", domain.ErrValidation, amount, err)
	}
	return FromDecimal(d, DefaultCurrency())
}

// MustNew is like New but panics on error. Intended for tests and constants.
func MustNew(amount string) Money {
	m, err := New(amount)
	if err != nil {
		panic(err)
	}
	return m
}

// FromDecimal builds Money from a decimal amount, rounding half-up to Scale.
func FromDecimal(amount decimal.Decimal, currency string) (Money, error) {
	c, err := normalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	if amount.IsNegative() {
		return Money{}, ErrNegative
	}
	return Money{amount: amount.Round(Scale), currency: c}, nil
}

// FromInt builds Money from a whole amount in the default currency.
func FromInt(amount int64) (Money, error) {
	return FromDecimal(decimal.NewFromInt(amount), DefaultCurrency())
}

// Zero returns zero in the given currency, or the default currency when empty.
func Zero(currency string) Money {
	if currency == "" {
		currency = DefaultCurrency()
	}
	return Money{amount: decimal.Zero, currency: strings.ToUpper(currency)}
}

func normalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", ErrInvalidCurrency
	}
	for i := range len(c) {
		if c[i] < 'A' || c[i] > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return c, nil
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO 4217 code.
func (m Money) Currency() string {
	if m.currency == "" {
		return DefaultCurrency()
	}
	return m.currency
}

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.Currency()}, nil
}

// Sub returns m - o. It fails with ErrNegative when o > m.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	r := m.amount.Sub(o.amount)
	if r.IsNegative() {
		return Money{}, ErrNegative
	}
	return Money{amount: r, currency: m.Currency()}, nil
}

// SubFloor returns m - o clamped at zero.
func (m Money) SubFloor(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	r := m.amount.Sub(o.amount)
	if r.IsNegative() {
		r = decimal.Zero
	}
	return Money{amount: r, currency: m.Currency()}, nil
}

// Mul returns m multiplied by a non-negative integer factor.
func (m Money) Mul(n int) (Money, error) {
	if n < 0 {
		return Money{}, ErrNegative
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(n))).Round(Scale), currency: m.Currency()}, nil
}

// Min returns the smaller of m and o. Currencies must match.
func (m Money) Min(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	if o.amount.LessThan(m.amount) {
		return o, nil
	}
	return m, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// Cmp compares amounts: -1 if m < o, 0 if equal, +1 if m > o. Currencies
// are not checked; use SameCurrency first when mixing sources.
func (m Money) Cmp(o Money) int { return m.amount.Cmp(o.amount) }

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool { return m.amount.GreaterThan(o.amount) }

// GreaterThanOrEqual reports m >= o.
func (m Money) GreaterThanOrEqual(o Money) bool { return m.amount.GreaterThanOrEqual(o.amount) }

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool { return m.amount.LessThan(o.amount) }

// Equal reports equal amount and currency.
func (m Money) Equal(o Money) bool {
	return m.Currency() == o.Currency() && m.amount.Equal(o.amount)
}

// SameCurrency reports whether both amounts share a currency.
func (m Money) SameCurrency(o Money) bool { return m.Currency() == o.Currency() }

func (m Money) sameCurrency(o Money) error {
	if !m.SameCurrency(o) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency(), o.Currency())
	}
	return nil
}

// String formats as "TWD 12.50".
func (m Money) String() string {
	return m.Currency() + " " + m.amount.StringFixed(Scale)
}
