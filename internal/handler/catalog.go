package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// moneyJSON renders an amount without going through float.
type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoney(m money.Money) moneyJSON {
	return moneyJSON{Amount: m.Amount().StringFixed(money.Scale), Currency: m.Currency()}
}

// optionalTime turns the zero time into an omitted field.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type productResponse struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CategoryID  string    `json:"category_id,omitempty"`
	Price       moneyJSON `json:"price"`
	Active      bool      `json:"active"`
}

func toProduct(p product.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SKU:         p.SKU.String(),
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Price:       toMoney(p.Price),
		Active:      p.Active,
	}
}

// ListProducts returns the whole catalog, or the active products of one
// category when ?category= is set.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []product.Product
		err      error
	)
	if id := r.URL.Query().Get("category"); id != "" {
		products, err = h.Categories.Products(r.Context(), id)
	} else {
		products, err = h.Products.List(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProducts(w, products)
}

func writeProducts(w http.ResponseWriter, products []product.Product) {
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProduct(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProduct(*p))
}

type categoryResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	ParentID     string             `json:"parent_id,omitempty"`
	DisplayOrder int                `json:"display_order"`
	Children     []categoryResponse `json:"children"`
}

func toCategory(c product.Category) categoryResponse {
	return categoryResponse{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		ParentID:     c.ParentID,
		DisplayOrder: c.DisplayOrder,
		Children:     []categoryResponse{},
	}
}

func toCategoryNode(n *product.CategoryNode) categoryResponse {
	out := toCategory(n.Category)
	for _, child := range n.Children {
		out.Children = append(out.Children, toCategoryNode(child))
	}
	return out
}

type createCategoryRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ParentID     string `json:"parent_id"`
	DisplayOrder int    `json:"display_order"`
}

// ListCategories returns the active category tree starting at the roots.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Categories.Tree(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]categoryResponse, len(tree))
	for i, n := range tree {
		out[i] = toCategoryNode(n)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Categories.Create(r.Context(), req.Name, req.Description, req.ParentID, req.DisplayOrder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategory(*c))
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	n, err := h.Categories.Get(r.Context(), chi.URLParam(r, "categoryID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryNode(n))
}

func (h *Handler) ListCategoryProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Categories.Products(r.Context(), chi.URLParam(r, "categoryID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProducts(w, products)
}

type inventoryResponse struct {
	ProductID       string     `json:"product_id"`
	Stock           int        `json:"stock"`
	Reserved        int        `json:"reserved"`
	Available       int        `json:"available"`
	LowStock        bool       `json:"low_stock"`
	Threshold       int        `json:"low_stock_threshold"`
	LastRestockedAt *time.Time `json:"last_restocked_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toInventory(inv *inventory.Inventory) inventoryResponse {
	return inventoryResponse{
		ProductID:       inv.ProductID(),
		Stock:           int(inv.Stock()),
		Reserved:        inv.Reserved(),
		Available:       inv.Available(),
		LowStock:        inv.IsLowStock(),
		Threshold:       inv.LowStockThreshold(),
		LastRestockedAt: optionalTime(inv.LastRestockedAt()),
		UpdatedAt:       inv.UpdatedAt(),
	}
}

type createInventoryRequest struct {
	ProductID string `json:"product_id"`
	Initial   int    `json:"initial_stock"`
	Threshold *int   `json:"low_stock_threshold"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type thresholdRequest struct {
	Threshold int `json:"low_stock_threshold"`
}

func (h *Handler) CreateInventory(w http.ResponseWriter, r *http.Request) {
	var req createInventoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	threshold := -1
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	inv, err := h.Inventory.Create(r.Context(), req.ProductID, req.Initial, threshold)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventory(inv))
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Inventory.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventory(inv))
}

func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Inventory.LowStock(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]inventoryResponse, len(invs))
	for i, inv := range invs {
		out[i] = toInventory(inv)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) RestockInventory(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.Inventory.Restock(r.Context(), productID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetInventory(w, r)
}

func (h *Handler) SetInventoryThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")
	if err := h.Inventory.SetThreshold(r.Context(), productID, req.Threshold); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetInventory(w, r)
}
