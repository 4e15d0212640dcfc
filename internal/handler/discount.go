package handler

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
)

// ruleJSON is the wire form of a discount rule, used both ways.
type ruleJSON struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Minimum     string `json:"minimum_order,omitempty"`
	Description string `json:"description,omitempty"`
}

func toRule(r discount.Rule) ruleJSON {
	out := ruleJSON{
		Type:        string(r.Type()),
		Value:       r.Value().String(),
		Description: r.Description(),
	}
	if m, ok := r.Minimum(); ok {
		out.Minimum = m.Amount().String()
	}
	return out
}

func (j ruleJSON) rule() (discount.Rule, error) {
	switch discount.Type(j.Type) {
	case discount.Percentage:
		pct, err := decimal.NewFromString(j.Value)
		if err != nil {
			return discount.Rule{}, errors.Wrapf(domain.ErrValidation, "percentage %q", j.Value)
		}
		if j.Minimum == "" {
			return discount.NewPercentage(pct)
		}
		minimum, err := parseMoney("minimum_order", j.Minimum)
		if err != nil {
			return discount.Rule{}, err
		}
		return discount.NewPercentageWithMinimum(pct, minimum)
	case discount.FixedAmount:
		amount, err := parseMoney("value", j.Value)
		if err != nil {
			return discount.Rule{}, err
		}
		if j.Minimum == "" {
			return discount.NewFixedAmount(amount), nil
		}
		minimum, err := parseMoney("minimum_order", j.Minimum)
		if err != nil {
			return discount.Rule{}, err
		}
		return discount.NewFixedAmountWithMinimum(amount, minimum), nil
	default:
		return discount.Rule{}, errors.Wrapf(discount.ErrUnknownType, "%q", j.Type)
	}
}
