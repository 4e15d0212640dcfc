package product

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-fulfillment/internal/domain"
)

var (
	// ErrCategoryNotFound is returned when a category does not exist or is inactive.
	ErrCategoryNotFound = fmt.Errorf("category %w", domain.ErrNotFound)
	// ErrCategoryNameRequired is returned for a blank category name.
	ErrCategoryNameRequired = fmt.Errorf("%w: category name is required", domain.ErrValidation)
)

// Category groups products for browsing. Categories form a tree through
// ParentID; an empty ParentID marks a root.
type Category struct {
	ID           string
	Name         string
	Description  string
	ParentID     string
	DisplayOrder int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCategory validates the name and returns an active category.
func NewCategory(name, description, parentID string, displayOrder int, now time.Time) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrCategoryNameRequired
	}
	return &Category{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(description),
		ParentID:     strings.TrimSpace(parentID),
		DisplayOrder: displayOrder,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsRoot reports whether the category has no parent.
func (c *Category) IsRoot() bool { return c.ParentID == "" }

// CategoryRepository persists categories.
type CategoryRepository interface {
	// ListActive returns every active category.
	ListActive(ctx context.Context) ([]Category, error)
	// GetByID returns ErrCategoryNotFound when the category does not exist.
	GetByID(ctx context.Context, id string) (*Category, error)
	Save(ctx context.Context, c *Category) error
}

// CategoryNode is a category with its active subcategories.
type CategoryNode struct {
	Category
	Children []*CategoryNode
}

// BuildTree arranges categories under their parents. Siblings are ordered
// by DisplayOrder, then name. A category whose parent is missing from the
// list is dropped along with its subtree.
func BuildTree(categories []Category) []*CategoryNode {
	children := make(map[string][]*CategoryNode, len(categories))
	for _, c := range categories {
		children[c.ParentID] = append(children[c.ParentID], &CategoryNode{Category: c})
	}
	var attach func(parentID string) []*CategoryNode
	attach = func(parentID string) []*CategoryNode {
		nodes := children[parentID]
		slices.SortFunc(nodes, func(a, b *CategoryNode) int {
			return cmp.Or(cmp.Compare(a.DisplayOrder, b.DisplayOrder), strings.Compare(a.Name, b.Name))
		})
		for _, n := range nodes {
			n.Children = attach(n.ID)
		}
		return nodes
	}
	return attach("")
}

// CategoryService runs category browsing use cases.
type CategoryService struct {
	categories CategoryRepository
	products   Repository
	now        func() time.Time
}

// NewCategoryService creates a CategoryService.
func NewCategoryService(categories CategoryRepository, products Repository) *CategoryService {
	return &CategoryService{categories: categories, products: products, now: time.Now}
}

// Create stores a new category. A non-empty parentID must name an active category.
func (s *CategoryService) Create(ctx context.Context, name, description, parentID string, displayOrder int) (*Category, error) {
	c, err := NewCategory(name, description, parentID, displayOrder, s.now())
	if err != nil {
		return nil, err
	}
	if !c.IsRoot() {
		if _, err := s.active(ctx, c.ParentID); err != nil {
			return nil, errors.Wrap(err, "parent")
		}
	}
	if err := s.categories.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save category")
	}
	return c, nil
}

// Tree returns the active root categories with their subcategories.
func (s *CategoryService) Tree(ctx context.Context) ([]*CategoryNode, error) {
	list, err := s.categories.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return BuildTree(list), nil
}

// Get returns one active category with its subcategories.
func (s *CategoryService) Get(ctx context.Context, id string) (*CategoryNode, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}
	if n := findNode(tree, id); n != nil {
		return n, nil
	}
	return nil, errors.Wrapf(ErrCategoryNotFound, "%q", id)
}

// Products returns the active products of an active category.
func (s *CategoryService) Products(ctx context.Context, categoryID string) ([]Product, error) {
	if _, err := s.active(ctx, categoryID); err != nil {
		return nil, err
	}
	list, err := s.products.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, errors.Wrapf(err, "list products of category %s", categoryID)
	}
	out := list[:0]
	for _, p := range list {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *CategoryService) active(ctx context.Context, id string) (*Category, error) {
	c, err := s.categories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, errors.Wrapf(ErrCategoryNotFound, "%q", id)
	}
	return c, nil
}

func findNode(nodes []*CategoryNode, id string) *CategoryNode {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
		if found := findNode(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}
