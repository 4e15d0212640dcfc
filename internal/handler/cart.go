package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/cart"
)

type cartItemResponse struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	UnitPrice moneyJSON `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Subtotal  moneyJSON `json:"subtotal"`
}

type cartResponse struct {
	CustomerID string             `json:"customer_id"`
	Items      []cartItemResponse `json:"items"`
	ItemCount  int                `json:"item_count"`
	TotalUnits int                `json:"total_units"`
	Total      moneyJSON          `json:"total"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func toCart(c *cart.Cart) cartResponse {
	items := c.Items()
	out := cartResponse{
		CustomerID: c.CustomerID(),
		Items:      make([]cartItemResponse, len(items)),
		ItemCount:  c.ItemCount(),
		TotalUnits: c.TotalItemCount(),
		Total:      toMoney(c.Total()),
		UpdatedAt:  c.UpdatedAt(),
	}
	for i, it := range items {
		out.Items[i] = cartItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: toMoney(it.UnitPrice),
			Quantity:  it.Quantity.Int(),
			Subtotal:  toMoney(it.Subtotal()),
		}
	}
	return out
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

// AddCartItem merges the quantity into an existing line for the product.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Carts.AddItem(r.Context(), chi.URLParam(r, "customerID"), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Carts.UpdateItem(r.Context(),
		chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.RemoveItem(r.Context(), chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(c))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), chi.URLParam(r, "customerID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
