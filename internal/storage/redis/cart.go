// Package redis stores shopping carts in Redis.
//
// Each cart lives in a hash at cart:{customerID} with two fields: the JSON
// document and its version. Saves WATCH the key and only commit when the
// stored version still matches the one the cart was loaded at.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

const (
	fieldDoc     = "doc"
	fieldVersion = "version"
)

type cartItemJSON struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type cartJSON struct {
	ID         string         `json:"id"`
	CustomerID string         `json:"customer_id"`
	Items      []cartItemJSON `json:"items"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by Redis.
type CartRepository struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// NewCartRepository returns a CartRepository. A positive ttl expires idle
// carts that long after their last save.
func NewCartRepository(client goredis.UniversalClient, ttl time.Duration) *CartRepository {
	return &CartRepository{client: client, ttl: ttl}
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

func cartKey(customerID string) string { return "cart:{" + customerID + "}" }

func (r *CartRepository) FindByCustomerID(ctx context.Context, customerID string) (*cart.Cart, error) {
	fields, err := r.client.HGetAll(ctx, cartKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting cart of %q: %w", customerID, err)
	}
	if len(fields) == 0 {
		return nil, cart.ErrCartNotFound
	}
	return decodeCart(fields)
}

// Save writes the cart if nobody else saved it since it was loaded.
// A missing key is accepted at any version.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	s := c.Snapshot()
	doc, err := encodeCart(s)
	if err != nil {
		return err
	}
	key := cartKey(s.CustomerID)

	err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.HGet(ctx, key, fieldVersion).Int64()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		case cur != s.Version:
			return fmt.Errorf("%w: cart %s at version %d, stored %d", domain.ErrConflict, s.CustomerID, s.Version, cur)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldDoc, doc, fieldVersion, s.Version+1)
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		c.MarkPersisted(s.Version + 1)
		return nil
	case errors.Is(err, goredis.TxFailedErr):
		return fmt.Errorf("%w: cart %s changed during save", domain.ErrConflict, s.CustomerID)
	case errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("saving cart of %q: %w", s.CustomerID, err)
	}
}

func (r *CartRepository) Delete(ctx context.Context, customerID string) error {
	if err := r.client.Del(ctx, cartKey(customerID)).Err(); err != nil {
		return fmt.Errorf("deleting cart of %q: %w", customerID, err)
	}
	return nil
}

func encodeCart(s cart.Snapshot) ([]byte, error) {
	doc := cartJSON{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Items:      make([]cartItemJSON, len(s.Items)),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	for i, it := range s.Items {
		doc.Items[i] = cartItemJSON{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice.Amount(),
			Currency:  it.UnitPrice.Currency(),
			Quantity:  it.Quantity.Int(),
			AddedAt:   it.AddedAt,
			UpdatedAt: it.UpdatedAt,
		}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal cart")
	}
	return b, nil
}

func decodeCart(fields map[string]string) (*cart.Cart, error) {
	var doc cartJSON
	if err := json.Unmarshal([]byte(fields[fieldDoc]), &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "cart %s version", doc.CustomerID)
	}

	s := cart.Snapshot{
		ID:         doc.ID,
		CustomerID: doc.CustomerID,
		Items:      make([]cart.Item, len(doc.Items)),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
		Version:    version,
	}
	for i, it := range doc.Items {
		price, err := money.FromDecimal(it.UnitPrice, it.Currency)
		if err != nil {
			return nil, err
		}
		qty, err := cart.NewQuantity(it.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "cart %s item %s", doc.CustomerID, it.ProductID)
		}
		s.Items[i] = cart.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: price,
			Quantity:  qty,
			AddedAt:   it.AddedAt,
			UpdatedAt: it.UpdatedAt,
		}
	}
	return cart.Restore(s), nil
}
