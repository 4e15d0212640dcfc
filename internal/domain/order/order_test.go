package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func items() []Item {
	return []Item{
		{ProductID: "p1", Name: "Waffle", SKU: "WAF-1", UnitPrice: money.MustNew("100"), Quantity: 2},
		{ProductID: "p2", Name: "Latte", SKU: "LAT-1", UnitPrice: money.MustNew("75"), Quantity: 2},
	}
}

func newPending(t *testing.T) *Order {
	t.Helper()
	o, err := NewFromCart("cust-1", items(), nil, fixedNow)
	require.NoError(t, err)
	return o
}

func TestNewFromCart_Pricing(t *testing.T) {
	tests := []struct {
		name         string
		discount     *Discount
		wantDiscount string
		wantTotal    string
	}{
		{name: "no discount", wantDiscount: "0", wantTotal: "350"},
		{
			name:         "20 percent coupon",
			discount:     &Discount{Source: DiscountCoupon, Code: "SAVE20", Amount: money.MustNew("70")},
			wantDiscount: "70",
			wantTotal:    "280",
		},
		{
			name:         "discount larger than subtotal is capped",
			discount:     &Discount{Source: DiscountPromotion, Code: "promo-1", Amount: money.MustNew("500")},
			wantDiscount: "350",
			wantTotal:    "0",
		},
		{
			name:         "source none ignores amount",
			discount:     &Discount{Amount: money.MustNew("10")},
			wantDiscount: "0",
			wantTotal:    "350",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewFromCart("cust-1", items(), tt.discount, fixedNow)
			require.NoError(t, err)
			assert.True(t, d("350").Equal(o.Subtotal().Amount()))
			assert.True(t, d(tt.wantDiscount).Equal(o.Discount().Amount()), "discount %s", o.Discount())
			assert.True(t, d(tt.wantTotal).Equal(o.Total().Amount()), "total %s", o.Total())
			assert.Equal(t, StatusPendingPayment, o.Status())
		})
	}
}

func TestNewFromCart_CouponCodeRecorded(t *testing.T) {
	o, err := NewFromCart("cust-1", items(), &Discount{Source: DiscountCoupon, Code: "SAVE20", Amount: money.MustNew("70")}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", o.CouponCode())
	assert.Equal(t, DiscountCoupon, o.DiscountSource())

	o, err = NewFromCart("cust-1", items(), &Discount{Source: DiscountPromotion, Code: "promo-9", Amount: money.MustNew("5")}, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, o.CouponCode())
	assert.Equal(t, "promo-9", o.DiscountCode())
}

func TestNewFromCart_Validation(t *testing.T) {
	_, err := NewFromCart("cust-1", nil, nil, fixedNow)
	require.ErrorIs(t, err, ErrEmptyItems)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewFromCart("cust-1", []Item{{ProductID: "p1", UnitPrice: money.MustNew("1"), Quantity: 0}}, nil, fixedNow)
	require.ErrorIs(t, err, ErrInvalidItem)

	_, err = NewFromCart(" ", items(), nil, fixedNow)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewFromCart_ItemsAreCopied(t *testing.T) {
	in := items()
	o, err := NewFromCart("cust-1", in, nil, fixedNow)
	require.NoError(t, err)
	in[0].Quantity = 99
	assert.Equal(t, 2, o.Items()[0].Quantity)

	out := o.Items()
	out[0].Quantity = 50
	assert.Equal(t, 2, o.Items()[0].Quantity)
}

func TestStatus_TransitionGraph(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPendingPayment: {StatusPaid, StatusCancelled, StatusPaymentExpired},
		StatusPaid:           {StatusShipped, StatusCancelled, StatusRefunded},
		StatusShipped:        {StatusDelivered},
		StatusCancelled:      {StatusRefunded},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	for _, s := range []Status{StatusDelivered, StatusPaymentExpired, StatusRefunded} {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusCancelled.IsTerminal())
}

// drive moves a fresh order into the given status through legal actions.
func drive(t *testing.T, to Status) *Order {
	t.Helper()
	o := newPending(t)
	switch to {
	case StatusPendingPayment:
	case StatusPaid:
		require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
	case StatusShipped:
		require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
		require.NoError(t, o.MarkAsShipped("TRK-1", fixedNow))
	case StatusDelivered:
		require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
		require.NoError(t, o.MarkAsShipped("TRK-1", fixedNow))
		require.NoError(t, o.MarkAsDelivered(fixedNow))
	case StatusCancelled:
		require.NoError(t, o.Cancel("changed mind", fixedNow))
	case StatusPaymentExpired:
		require.NoError(t, o.ExpirePayment(fixedNow))
	case StatusRefunded:
		require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
		require.NoError(t, o.MarkAsRefunded(fixedNow))
	}
	require.Equal(t, to, o.Status())
	return o
}

func TestOrder_ActionsFollowGraph(t *testing.T) {
	actions := []struct {
		name   string
		target Status
		run    func(o *Order) error
	}{
		{"pay", StatusPaid, func(o *Order) error { return o.MarkAsPaid("pay-2", fixedNow) }},
		{"ship", StatusShipped, func(o *Order) error { return o.MarkAsShipped("TRK-2", fixedNow) }},
		{"deliver", StatusDelivered, func(o *Order) error { return o.MarkAsDelivered(fixedNow) }},
		{"cancel", StatusCancelled, func(o *Order) error { return o.Cancel("oops", fixedNow) }},
		{"expire", StatusPaymentExpired, func(o *Order) error { return o.ExpirePayment(fixedNow) }},
		{"refund", StatusRefunded, func(o *Order) error { return o.MarkAsRefunded(fixedNow) }},
	}

	for _, from := range AllStatuses {
		for _, a := range actions {
			t.Run(string(from)+"/"+a.name, func(t *testing.T) {
				o := drive(t, from)
				before := o.Snapshot()
				err := a.run(o)
				if from.CanTransitionTo(a.target) {
					require.NoError(t, err)
					assert.Equal(t, a.target, o.Status())
					return
				}
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				require.ErrorIs(t, err, domain.ErrInvalidState)
				assert.Equal(t, from, te.From)
				assert.Equal(t, before, o.Snapshot(), "order must be unchanged")
			})
		}
	}
}

func TestOrder_CancelPaidRequiresRefund(t *testing.T) {
	o := drive(t, StatusPaid)
	o.DrainEvents()

	require.NoError(t, o.Cancel("out of stock", fixedNow))
	assert.True(t, o.RequiresRefund())
	assert.Equal(t, "out of stock", o.CancellationReason())

	evs := o.DrainEvents()
	require.Len(t, evs, 1)
	c, ok := evs[0].(Cancelled)
	require.True(t, ok)
	assert.True(t, c.RequiresRefund)

	require.NoError(t, o.MarkAsRefunded(fixedNow))
	assert.False(t, o.RequiresRefund())
}

func TestOrder_CancelPendingNoRefund(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.Cancel("changed mind", fixedNow))
	assert.False(t, o.RequiresRefund())
	assert.False(t, o.CanBeCancelled())
}

func TestOrder_RequiredArguments(t *testing.T) {
	o := newPending(t)
	require.ErrorIs(t, o.MarkAsPaid(" ", fixedNow), ErrPaymentIDRequired)
	require.ErrorIs(t, o.Cancel("", fixedNow), ErrCancelReasonNeeded)
	assert.Equal(t, StatusPendingPayment, o.Status())

	require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
	require.ErrorIs(t, o.MarkAsShipped("", fixedNow), ErrTrackingRequired)
	assert.Equal(t, StatusPaid, o.Status())
}

func TestOrder_StateCheckedBeforeArguments(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.MarkAsPaid("pay-1", fixedNow))
	require.NoError(t, o.MarkAsShipped("TRK-1", fixedNow))
	require.NoError(t, o.MarkAsDelivered(fixedNow))

	tests := []struct {
		name   string
		action func() error
	}{
		{"pay", func() error { return o.MarkAsPaid("", fixedNow) }},
		{"ship", func() error { return o.MarkAsShipped(" ", fixedNow) }},
		{"cancel", func() error { return o.Cancel("", fixedNow) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action()
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, StatusDelivered, te.From)
			require.ErrorIs(t, err, domain.ErrInvalidState)
			assert.Contains(t, err.Error(), string(StatusDelivered))
		})
	}
	assert.Equal(t, StatusDelivered, o.Status())
}

func TestOrder_Timestamps(t *testing.T) {
	o := newPending(t)
	paidAt := fixedNow.Add(time.Minute)
	shippedAt := fixedNow.Add(time.Hour)
	deliveredAt := fixedNow.Add(48 * time.Hour)

	require.NoError(t, o.MarkAsPaid("pay-1", paidAt))
	require.NoError(t, o.MarkAsShipped("TRK-1", shippedAt))
	require.NoError(t, o.MarkAsDelivered(deliveredAt))

	assert.Equal(t, paidAt, o.PaidAt())
	assert.Equal(t, shippedAt, o.ShippedAt())
	assert.Equal(t, deliveredAt, o.DeliveredAt())
	assert.Equal(t, deliveredAt, o.UpdatedAt())
	assert.Equal(t, "pay-1", o.PaymentID())
	assert.Equal(t, "TRK-1", o.TrackingNumber())
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("LOST")
	require.ErrorIs(t, err, ErrUnknownStatus)
}
