package postgres

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain/discount"
)

// ruleRow is the column form of a discount.Rule shared by coupons and
// promotions.
type ruleRow struct {
	Type     string
	Value    decimal.Decimal
	Currency string
	Minimum  *decimal.Decimal
}

func ruleToRow(r discount.Rule) ruleRow {
	row := ruleRow{
		Type:     string(r.Type()),
		Value:    r.Value(),
		Currency: r.Currency(),
	}
	if m, ok := r.Minimum(); ok {
		amt := m.Amount()
		row.Minimum = &amt
	}
	return row
}

func (row ruleRow) rule() (discount.Rule, error) {
	return discount.Restore(discount.Type(row.Type), row.Value, row.Currency, row.Minimum)
}
