package product

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = fmt.Errorf("product %w", domain.ErrNotFound)
	// ErrInvalidSKU is returned for a malformed SKU.
	ErrInvalidSKU = fmt.Errorf("%w: SKU must be 3-50 characters of A-Z, 0-9 and '-'", domain.ErrValidation)
)

var skuPattern = regexp.MustCompile(`^[A-Z0-9-]{3,50}$`)

// SKU is a normalized stock keeping unit.
type SKU string

// ParseSKU trims and upper-cases s and validates the result.
func ParseSKU(s string) (SKU, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if !skuPattern.MatchString(v) {
		return "", ErrInvalidSKU
	}
	return SKU(v), nil
}

const skuAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSKU returns a random 8-character SKU, optionally as PREFIX-XXXXXXXX.
// The result must still be a valid SKU, which bounds the prefix.
func GenerateSKU(prefix string) (SKU, error) {
	var b strings.Builder
	if p := strings.ToUpper(strings.TrimSpace(prefix)); p != "" {
		b.WriteString(p)
		b.WriteByte('-')
	}
	limit := big.NewInt(int64(len(skuAlphabet)))
	for range 8 {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate sku: %w", err)
		}
		b.WriteByte(skuAlphabet[n.Int64()])
	}
	return ParseSKU(b.String())
}

func (s SKU) String() string { return string(s) }

// Product is a catalog entry.
type Product struct {
	ID          string
	SKU         SKU
	Name        string
	Description string
	CategoryID  string
	Price       money.Money
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Info is the snapshot of a product taken by carts and orders.
type Info struct {
	ID     string
	Name   string
	SKU    string
	Price  money.Money
	Active bool
}

// Info returns the product's snapshot view.
func (p *Product) Info() Info {
	return Info{ID: p.ID, Name: p.Name, SKU: p.SKU.String(), Price: p.Price, Active: p.Active}
}

// Repository provides read and write access to the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// ListByCategory returns the products filed directly under a category.
	ListByCategory(ctx context.Context, categoryID string) ([]Product, error)
	Save(ctx context.Context, p *Product) error
}
