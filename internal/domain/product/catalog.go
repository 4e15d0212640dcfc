package product

import (
	"context"

	"github.com/go-faster/errors"
)

// StockChecker answers whether a quantity of a product can be reserved.
type StockChecker interface {
	IsAvailable(ctx context.Context, productID string, qty int) (bool, error)
}

// Catalog is the product lookup used by cart use cases. It joins catalog
// data with live stock availability.
type Catalog struct {
	products Repository
	stock    StockChecker
}

// NewCatalog creates a Catalog.
func NewCatalog(products Repository, stock StockChecker) *Catalog {
	return &Catalog{products: products, stock: stock}
}

// ProductInfo returns the snapshot of productID, or ErrNotFound.
func (c *Catalog) ProductInfo(ctx context.Context, productID string) (Info, error) {
	p, err := c.products.GetByID(ctx, productID)
	if err != nil {
		return Info{}, errors.Wrapf(err, "get product %s", productID)
	}
	return p.Info(), nil
}

// IsStockAvailable reports whether qty units of productID are available.
func (c *Catalog) IsStockAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	return c.stock.IsAvailable(ctx, productID, qty)
}
