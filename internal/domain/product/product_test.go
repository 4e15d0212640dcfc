package product

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

func TestParseSKU(t *testing.T) {
	tests := []struct {
		input   string
		want    SKU
		wantErr bool
	}{
		{input: " abc-123 ", want: "ABC-123"},
		{input: "WAFFLE01", want: "WAFFLE01"},
		{input: "ab", wantErr: true},
		{input: "has space", wantErr: true},
		{input: "under_score", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSKU(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSKU)
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateSKU(t *testing.T) {
	sku, err := GenerateSKU("dess")
	require.NoError(t, err)
	assert.Len(t, sku.String(), len("DESS-")+8)
	assert.True(t, strings.HasPrefix(sku.String(), "DESS-"))

	bare, err := GenerateSKU("")
	require.NoError(t, err)
	assert.Len(t, bare.String(), 8)

	_, err = GenerateSKU(strings.Repeat("X", 42))
	require.ErrorIs(t, err, ErrInvalidSKU)
	_, err = GenerateSKU("bad prefix")
	require.ErrorIs(t, err, ErrInvalidSKU)
}

// --- Mock implementations ---

type mockRepo struct {
	byID map[string]*Product
}

func (m *mockRepo) List(_ context.Context) ([]Product, error) { return nil, nil }

func (m *mockRepo) GetByID(_ context.Context, id string) (*Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) ListByCategory(_ context.Context, categoryID string) ([]Product, error) {
	var out []Product
	for _, p := range m.byID {
		if p.CategoryID == categoryID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockRepo) Save(_ context.Context, p *Product) error {
	m.byID[p.ID] = p
	return nil
}

type stockFunc func(productID string, qty int) bool

func (f stockFunc) IsAvailable(_ context.Context, productID string, qty int) (bool, error) {
	return f(productID, qty), nil
}

func TestCatalog(t *testing.T) {
	repo := &mockRepo{byID: map[string]*Product{
		"p1": {ID: "p1", SKU: "WAF-1", Name: "Waffle", Price: money.MustNew("6.50"), Active: true},
	}}
	cat := NewCatalog(repo, stockFunc(func(id string, qty int) bool { return id == "p1" && qty <= 3 }))

	info, err := cat.ProductInfo(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "WAF-1", info.SKU)
	assert.True(t, info.Active)

	_, err = cat.ProductInfo(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := cat.IsStockAvailable(context.Background(), "p1", 3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = cat.IsStockAvailable(context.Background(), "p1", 4)
	assert.False(t, ok)
}
