package customer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

// Level is a membership tier. Higher values are better tiers.
type Level int

const (
	Normal Level = iota
	Silver
	Gold
	Platinum
)

var levelNames = [...]string{"NORMAL", "SILVER", "GOLD", "PLATINUM"}

var thresholds = [...]decimal.Decimal{
	decimal.Zero,
	decimal.NewFromInt(10000),
	decimal.NewFromInt(30000),
	decimal.NewFromInt(100000),
}

var discountPercentages = [...]int{0, 3, 5, 10}

func (l Level) String() string {
	if l < Normal || l > Platinum {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a stored level name back to a Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown member level %q", s)
}

// Threshold is the lowest total spending that earns the level.
func (l Level) Threshold() decimal.Decimal { return thresholds[l] }

// CalculateLevel maps cumulative spending onto the half-open bands
// [0,10000) [10000,30000) [30000,100000) [100000,inf).
func CalculateLevel(total money.Money) Level {
	amount := total.Amount()
	for l := Platinum; l > Normal; l-- {
		if amount.GreaterThanOrEqual(thresholds[l]) {
			return l
		}
	}
	return Normal
}

// SpendingToNextLevel returns the gap to the next band, zero at Platinum.
func SpendingToNextLevel(total money.Money) money.Money {
	l := CalculateLevel(total)
	if l == Platinum {
		return money.Zero(total.Currency())
	}
	// The next threshold is strictly above total, so the difference is positive.
	gap, _ := money.FromDecimal(thresholds[l+1].Sub(total.Amount()), total.Currency())
	return gap
}

// DiscountPercentage is the member discount for a level.
func DiscountPercentage(l Level) int {
	if l < Normal || l > Platinum {
		return 0
	}
	return discountPercentages[l]
}

// WouldUpgrade reports whether newTotal lands strictly above current.
func WouldUpgrade(current Level, newTotal money.Money) bool {
	return CalculateLevel(newTotal) > current
}

// BenefitDescription is the customer-facing blurb for a level.
func BenefitDescription(l Level, toNext money.Money) string {
	switch l {
	case Silver:
		return "Silver member discount"
	case Gold:
		return "Gold member discount and birthday gift"
	case Platinum:
		return "Platinum member 10% discount and priority service"
	default:
		return fmt.Sprintf("Welcome! Spend %s more to become a Silver member", toNext.Amount().StringFixed(0))
	}
}
