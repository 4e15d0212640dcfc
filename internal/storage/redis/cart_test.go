package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

func TestCartDocument(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := cart.New("alice", now)
	_, err := c.AddItem("p1", "Waffle", "WAF-001", money.MustNew("6.50"), 2, now)
	require.NoError(t, err)
	_, err = c.AddItem("p2", "Brownie", "BRW-001", money.MustNew("5.00"), 1, now.Add(time.Minute))
	require.NoError(t, err)
	c.MarkPersisted(3)

	doc, err := encodeCart(c.Snapshot())
	require.NoError(t, err)

	got, err := decodeCart(map[string]string{fieldDoc: string(doc), fieldVersion: "3"})
	require.NoError(t, err)
	assert.Equal(t, c.ID(), got.ID())
	assert.Equal(t, int64(3), got.Version())
	assert.True(t, c.Total().Equal(got.Total()))

	items := got.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].ProductID, "insertion order survives")
	assert.Equal(t, 2, items[0].Quantity.Int())
}

func TestCartDocument_Corrupt(t *testing.T) {
	_, err := decodeCart(map[string]string{fieldDoc: "{", fieldVersion: "1"})
	require.Error(t, err)

	_, err = decodeCart(map[string]string{fieldDoc: `{"customer_id":"a"}`, fieldVersion: "x"})
	require.Error(t, err)

	_, err = decodeCart(map[string]string{
		fieldDoc:     `{"customer_id":"a","items":[{"product_id":"p","unit_price":"1","currency":"TWD","quantity":0}]}`,
		fieldVersion: "1",
	})
	require.ErrorIs(t, err, cart.ErrInvalidQuantity)
}

func TestCartKey(t *testing.T) {
	assert.Equal(t, "cart:{alice}", cartKey("alice"))
}
