// Package discount implements the discount rule shared by coupons and
// promotions.
package discount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// Percentage takes a percentage of the order total.
	Percentage Type = "percentage"
	// FixedAmount takes a fixed amount, capped at the order total.
	FixedAmount Type = "fixed_amount"
)

var hundred = decimal.NewFromInt(100)

var (
	// ErrInvalidPercentage is returned for a percentage outside [0, 100].
	ErrInvalidPercentage = fmt.Errorf("%w: percentage must be between 0 and 100", domain.ErrValidation)
	// ErrUnknownType is returned when restoring a rule of an unknown type.
	ErrUnknownType = fmt.Errorf("%w: unknown discount type", domain.ErrValidation)
)

// Rule is an immutable discount definition with an optional minimum order.
type Rule struct {
	kind       Type
	percent    decimal.Decimal
	amount     money.Money
	minimum    money.Money
	hasMinimum bool
}

// NewPercentage returns a rule taking pct percent of the total.
func NewPercentage(pct decimal.Decimal) (Rule, error) {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return Rule{}, ErrInvalidPercentage
	}
	return Rule{kind: Percentage, percent: pct}, nil
}

// NewPercentageWithMinimum is NewPercentage that only applies from minimum up.
func NewPercentageWithMinimum(pct decimal.Decimal, minimum money.Money) (Rule, error) {
	r, err := NewPercentage(pct)
	if err != nil {
		return Rule{}, err
	}
	r.minimum, r.hasMinimum = minimum, true
	return r, nil
}

// NewFixedAmount returns a rule taking a fixed amount off the total.
func NewFixedAmount(amount money.Money) Rule {
	return Rule{kind: FixedAmount, amount: amount}
}

// NewFixedAmountWithMinimum is NewFixedAmount that only applies from minimum up.
func NewFixedAmountWithMinimum(amount, minimum money.Money) Rule {
	return Rule{kind: FixedAmount, amount: amount, minimum: minimum, hasMinimum: true}
}

// Restore rebuilds a rule from its stored parts. value is a percentage for
// Percentage rules and an amount in currency for FixedAmount rules.
func Restore(kind Type, value decimal.Decimal, currency string, minimum *decimal.Decimal) (Rule, error) {
	var (
		r   Rule
		err error
	)
	switch kind {
	case Percentage:
		r, err = NewPercentage(value)
	case FixedAmount:
		var amt money.Money
		amt, err = money.FromDecimal(value, currency)
		r = NewFixedAmount(amt)
	default:
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
	if err != nil {
		return Rule{}, err
	}
	if minimum != nil {
		m, err := money.FromDecimal(*minimum, currency)
		if err != nil {
			return Rule{}, err
		}
		r.minimum, r.hasMinimum = m, true
	}
	return r, nil
}

// Type returns the rule strategy.
func (r Rule) Type() Type { return r.kind }

// Value returns the percentage or the fixed amount as a plain decimal.
func (r Rule) Value() decimal.Decimal {
	if r.kind == FixedAmount {
		return r.amount.Amount()
	}
	return r.percent
}

// Currency is the currency of the fixed amount or the minimum. Pure
// percentage rules report the default currency.
func (r Rule) Currency() string {
	switch {
	case r.kind == FixedAmount:
		return r.amount.Currency()
	case r.hasMinimum:
		return r.minimum.Currency()
	}
	return money.DefaultCurrency()
}

// Minimum returns the minimum order amount, if any.
func (r Rule) Minimum() (money.Money, bool) { return r.minimum, r.hasMinimum }

// MeetsMinimum reports whether total satisfies the minimum order amount.
func (r Rule) MeetsMinimum(total money.Money) bool {
	return !r.hasMinimum || total.GreaterThanOrEqual(r.minimum)
}

// Calculate returns the discount for total. The result never exceeds total
// and is zero when the minimum is not met.
func (r Rule) Calculate(total money.Money) (money.Money, error) {
	zero := money.Zero(total.Currency())
	if r.hasMinimum {
		if !r.minimum.SameCurrency(total) {
			return money.Money{}, fmt.Errorf("%w: minimum in %s, total in %s",
				money.ErrCurrencyMismatch, r.minimum.Currency(), total.Currency())
		}
		if !r.MeetsMinimum(total) {
			return zero, nil
		}
	}

	switch r.kind {
	case Percentage:
		amount := total.Amount().Mul(r.percent).Div(hundred)
		return money.FromDecimal(amount, total.Currency())
	case FixedAmount:
		return r.amount.Min(total)
	default:
		return zero, nil
	}
}

// Description renders the rule for display, e.g. "20% off" or
// "TWD 100.00 off (min. TWD 500.00)".
func (r Rule) Description() string {
	var s string
	switch r.kind {
	case Percentage:
		s = r.percent.String() + "% off"
	case FixedAmount:
		s = r.amount.String() + " off"
	}
	if r.hasMinimum {
		s += " (min. " + r.minimum.String() + ")"
	}
	return s
}
