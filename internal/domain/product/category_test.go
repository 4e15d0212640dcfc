package product

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
)

var catNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type mockCategories struct {
	byID map[string]*Category
}

func (m *mockCategories) ListActive(context.Context) ([]Category, error) {
	var out []Category
	for _, c := range m.byID {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockCategories) GetByID(_ context.Context, id string) (*Category, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrCategoryNotFound
	}
	return c, nil
}

func (m *mockCategories) Save(_ context.Context, c *Category) error {
	m.byID[c.ID] = c
	return nil
}

func TestNewCategory(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		parentID string
		wantErr  error
		wantRoot bool
	}{
		{name: "root", input: "  Pastry ", wantRoot: true},
		{name: "child", input: "Waffle", parentID: "cat-pastry"},
		{name: "blank name", input: "   ", wantErr: ErrCategoryNameRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCategory(tt.input, "", tt.parentID, 0, catNow)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, c.ID)
			assert.True(t, c.Active)
			assert.Equal(t, tt.wantRoot, c.IsRoot())
			assert.NotContains(t, c.Name, " ")
		})
	}
}

func TestBuildTree(t *testing.T) {
	tree := BuildTree([]Category{
		{ID: "cake", Name: "Cake", DisplayOrder: 2},
		{ID: "waffle", Name: "Waffle", ParentID: "pastry", DisplayOrder: 1},
		{ID: "pastry", Name: "Pastry", DisplayOrder: 1},
		{ID: "baklava", Name: "Baklava", ParentID: "pastry", DisplayOrder: 1},
		{ID: "stray", Name: "Stray", ParentID: "hidden"},
	})

	require.Len(t, tree, 2)
	assert.Equal(t, "pastry", tree[0].ID)
	assert.Equal(t, "cake", tree[1].ID)
	assert.Empty(t, tree[1].Children)

	require.Len(t, tree[0].Children, 2)
	assert.Equal(t, "baklava", tree[0].Children[0].ID, "same order sorts by name")
	assert.Equal(t, "waffle", tree[0].Children[1].ID)
}

func newCategoryService(t *testing.T) (*CategoryService, *mockCategories) {
	t.Helper()
	categories := &mockCategories{byID: map[string]*Category{
		"pastry": {ID: "pastry", Name: "Pastry", Active: true},
		"waffle": {ID: "waffle", Name: "Waffle", ParentID: "pastry", Active: true},
		"closed": {ID: "closed", Name: "Closed"},
	}}
	products := &mockRepo{byID: map[string]*Product{
		"p1": {ID: "p1", SKU: "WAF-1", Name: "Berry Waffle", CategoryID: "waffle", Price: money.MustNew("175"), Active: true},
		"p2": {ID: "p2", SKU: "WAF-2", Name: "Old Waffle", CategoryID: "waffle", Price: money.MustNew("150")},
		"p3": {ID: "p3", SKU: "CAK-1", Name: "Cake", Price: money.MustNew("450"), Active: true},
	}}
	svc := NewCategoryService(categories, products)
	svc.now = func() time.Time { return catNow }
	return svc, categories
}

func TestCategoryService_Products(t *testing.T) {
	svc, _ := newCategoryService(t)
	ctx := context.Background()

	list, err := svc.Products(ctx, "waffle")
	require.NoError(t, err)
	require.Len(t, list, 1, "inactive products are hidden")
	assert.Equal(t, "p1", list[0].ID)

	list, err = svc.Products(ctx, "pastry")
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"nope", "closed"} {
		_, err = svc.Products(ctx, id)
		require.ErrorIs(t, err, ErrCategoryNotFound, id)
		require.ErrorIs(t, err, domain.ErrNotFound, id)
	}
}

func TestCategoryService_GetAndCreate(t *testing.T) {
	svc, categories := newCategoryService(t)
	ctx := context.Background()

	n, err := svc.Get(ctx, "pastry")
	require.NoError(t, err)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "waffle", n.Children[0].ID)

	_, err = svc.Get(ctx, "closed")
	require.ErrorIs(t, err, ErrCategoryNotFound)

	c, err := svc.Create(ctx, "Belgian", "", "waffle", 3)
	require.NoError(t, err)
	assert.Equal(t, catNow, c.CreatedAt)
	assert.Contains(t, categories.byID, c.ID)

	n, err = svc.Get(ctx, "waffle")
	require.NoError(t, err)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "Belgian", n.Children[0].Name)

	_, err = svc.Create(ctx, "Orphan", "", "closed", 0)
	require.ErrorIs(t, err, ErrCategoryNotFound)
	_, err = svc.Create(ctx, "", "", "", 0)
	require.ErrorIs(t, err, ErrCategoryNameRequired)
}
