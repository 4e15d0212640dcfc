// Package eventbus delivers domain events outside the process.
//
// Events are encoded as a JSON envelope:
//
//	{"id":"…","type":"OrderPaid","aggregate_id":"…","occurred_at":"…","data":{…}}
//
// and handed to Kafka, the log, or both.
package eventbus

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/customer"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
)

// ErrUnknownEvent is returned by Encode for event types it has no layout for.
var ErrUnknownEvent = errors.New("unknown event type")

// Encode renders e as a JSON envelope.
func Encode(e event.Event) ([]byte, error) {
	data, err := encodeData(e)
	if err != nil {
		return nil, err
	}

	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(e.EventID()) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(e.EventType()) })
		enc.Field("aggregate_id", func(enc *jx.Encoder) { enc.Str(e.AggregateID()) })
		enc.Field("occurred_at", func(enc *jx.Encoder) { encodeTime(enc, e.OccurredAt()) })
		enc.Field("data", func(enc *jx.Encoder) { enc.Raw(data) })
	})
	return enc.Bytes(), nil
}

func encodeData(e event.Event) ([]byte, error) {
	var enc jx.Encoder
	switch ev := e.(type) {
	case inventory.LowStockDetected:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("product_id", func(enc *jx.Encoder) { enc.Str(ev.ProductID) })
			enc.Field("current_stock", func(enc *jx.Encoder) { enc.Int(ev.CurrentStock) })
			enc.Field("threshold", func(enc *jx.Encoder) { enc.Int(ev.Threshold) })
		})
	case inventory.StockDepleted:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("product_id", func(enc *jx.Encoder) { enc.Str(ev.ProductID) })
		})
	case customer.Registered:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("email", func(enc *jx.Encoder) { enc.Str(ev.Email) })
			enc.Field("first_name", func(enc *jx.Encoder) { enc.Str(ev.FirstName) })
			enc.Field("last_name", func(enc *jx.Encoder) { enc.Str(ev.LastName) })
		})
	case customer.LevelUpgraded:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(ev.CustomerID) })
			enc.Field("old_level", func(enc *jx.Encoder) { enc.Str(ev.OldLevel.String()) })
			enc.Field("new_level", func(enc *jx.Encoder) { enc.Str(ev.NewLevel.String()) })
			enc.Field("discount_pct", func(enc *jx.Encoder) { enc.Int(ev.NewDiscountPct) })
			enc.Field("total_spending", func(enc *jx.Encoder) { encodeMoney(enc, ev.NewTotalSpending) })
		})
	case order.Created:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(ev.CustomerID) })
			enc.Field("item_count", func(enc *jx.Encoder) { enc.Int(ev.ItemCount) })
			enc.Field("total", func(enc *jx.Encoder) { encodeMoney(enc, ev.Total) })
		})
	case order.Paid:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(ev.CustomerID) })
			enc.Field("payment_id", func(enc *jx.Encoder) { enc.Str(ev.PaymentID) })
			enc.Field("total", func(enc *jx.Encoder) { encodeMoney(enc, ev.Total) })
		})
	case order.Cancelled:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(ev.CustomerID) })
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(ev.Reason) })
			enc.Field("requires_refund", func(enc *jx.Encoder) { enc.Bool(ev.RequiresRefund) })
		})
	case coupon.Used:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("code", func(enc *jx.Encoder) { enc.Str(ev.Code.String()) })
			enc.Field("customer_id", func(enc *jx.Encoder) { enc.Str(ev.CustomerID) })
			enc.Field("usage_count", func(enc *jx.Encoder) { enc.Int(ev.UsageCount) })
		})
	case promotion.Started:
		enc.Obj(func(enc *jx.Encoder) {
			enc.Field("name", func(enc *jx.Encoder) { enc.Str(ev.Name) })
		})
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%s (%T)", e.EventType(), e)
	}
	return enc.Bytes(), nil
}

// Money is written as {"amount":"12.50","currency":"TWD"} so consumers never
// see a float.
func encodeMoney(enc *jx.Encoder, m money.Money) {
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("amount", func(enc *jx.Encoder) { enc.Str(m.Amount().StringFixed(money.Scale)) })
		enc.Field("currency", func(enc *jx.Encoder) { enc.Str(m.Currency()) })
	})
}

func encodeTime(enc *jx.Encoder, t time.Time) {
	enc.Str(t.UTC().Format(time.RFC3339Nano))
}
