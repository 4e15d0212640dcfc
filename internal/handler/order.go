package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/order"
)

type orderItemResponse struct {
	ProductID string    `json:"product_id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	UnitPrice moneyJSON `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Subtotal  moneyJSON `json:"subtotal"`
}

type orderResponse struct {
	ID                 string              `json:"id"`
	CustomerID         string              `json:"customer_id"`
	Status             string              `json:"status"`
	Items              []orderItemResponse `json:"items"`
	Subtotal           moneyJSON           `json:"subtotal"`
	Discount           moneyJSON           `json:"discount"`
	Total              moneyJSON           `json:"total"`
	DiscountSource     string              `json:"discount_source,omitempty"`
	DiscountCode       string              `json:"discount_code,omitempty"`
	PaymentID          string              `json:"payment_id,omitempty"`
	TrackingNumber     string              `json:"tracking_number,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	RequiresRefund     bool                `json:"requires_refund"`
	CreatedAt          time.Time           `json:"created_at"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	ShippedAt          *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
}

func toOrder(o *order.Order) orderResponse {
	items := o.Items()
	out := orderResponse{
		ID:                 o.ID(),
		CustomerID:         o.CustomerID(),
		Status:             string(o.Status()),
		Items:              make([]orderItemResponse, len(items)),
		Subtotal:           toMoney(o.Subtotal()),
		Discount:           toMoney(o.Discount()),
		Total:              toMoney(o.Total()),
		DiscountSource:     string(o.DiscountSource()),
		DiscountCode:       o.DiscountCode(),
		PaymentID:          o.PaymentID(),
		TrackingNumber:     o.TrackingNumber(),
		CancellationReason: o.CancellationReason(),
		RequiresRefund:     o.RequiresRefund(),
		CreatedAt:          o.CreatedAt(),
		PaidAt:             optionalTime(o.PaidAt()),
		ShippedAt:          optionalTime(o.ShippedAt()),
		DeliveredAt:        optionalTime(o.DeliveredAt()),
	}
	for i, it := range items {
		out.Items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: toMoney(it.UnitPrice),
			Quantity:  it.Quantity,
			Subtotal:  toMoney(it.Subtotal()),
		}
	}
	return out
}

type checkoutRequest struct {
	CouponCode string `json:"coupon_code"`
}

type payRequest struct {
	PaymentID string `json:"payment_id"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Checkout turns the customer's cart into an order awaiting payment.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	o, err := h.Orders.Checkout(r.Context(), order.CheckoutRequest{
		CustomerID: chi.URLParam(r, "customerID"),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

// ListCustomerOrders accepts an optional ?status= filter.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	var status *order.Status
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := order.ParseStatus(v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status = &s
	}
	orders, err := h.Orders.ListByCustomer(r.Context(), chi.URLParam(r, "customerID"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = toOrder(o)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Pay(r.Context(), chi.URLParam(r, "orderID"), req.PaymentID)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Ship(r.Context(), chi.URLParam(r, "orderID"), req.TrackingNumber)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Deliver(r.Context(), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Refund(r.Context(), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}
