package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
)

type couponResponse struct {
	Code               string    `json:"code"`
	Description        string    `json:"description,omitempty"`
	Rule               ruleJSON  `json:"rule"`
	ExpiresAt          time.Time `json:"expires_at"`
	MaxUses            int       `json:"max_uses"`
	MaxUsesPerCustomer int       `json:"max_uses_per_customer"`
	UsageCount         int       `json:"usage_count"`
	Active             bool      `json:"active"`
}

func toCoupon(c *coupon.Coupon) couponResponse {
	return couponResponse{
		Code:               c.Code().String(),
		Description:        c.Description(),
		Rule:               toRule(c.Rule()),
		ExpiresAt:          c.ExpiresAt(),
		MaxUses:            c.MaxUses(),
		MaxUsesPerCustomer: c.MaxUsesPerCustomer(),
		UsageCount:         c.UsageCount(),
		Active:             c.IsActive(),
	}
}

type createCouponRequest struct {
	Code               string    `json:"code"`
	Description        string    `json:"description"`
	Rule               ruleJSON  `json:"rule"`
	ExpiresAt          time.Time `json:"expires_at"`
	MaxUses            int       `json:"max_uses"`
	MaxUsesPerCustomer int       `json:"max_uses_per_customer"`
}

type validateCouponRequest struct {
	CustomerID string `json:"customer_id"`
	Total      string `json:"order_total"`
}

type validateCouponResponse struct {
	Code        string    `json:"code"`
	Discount    moneyJSON `json:"discount"`
	Description string    `json:"description"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code, err := coupon.ParseCode(req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := req.Rule.rule()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Coupons.Create(r.Context(), coupon.Params{
		Code:               code,
		Description:        req.Description,
		Rule:               rule,
		ExpiresAt:          req.ExpiresAt,
		MaxUses:            req.MaxUses,
		MaxUsesPerCustomer: req.MaxUsesPerCustomer,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoupon(c))
}

// ListCoupons returns the coupons that can currently be redeemed.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.Coupons.ListValid(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]couponResponse, len(coupons))
	for i, c := range coupons {
		out[i] = toCoupon(c)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

// ValidateCoupon previews the discount for an order total without using
// the coupon up.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	total, err := parseMoney("order_total", req.Total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Coupons.Validate(r.Context(), chi.URLParam(r, "code"), req.CustomerID, total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Code:        d.Code.String(),
		Discount:    toMoney(d.Amount),
		Description: d.Description,
	})
}

func (h *Handler) DeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.toggleCoupon(w, r, h.Coupons.Deactivate)
}

func (h *Handler) ReactivateCoupon(w http.ResponseWriter, r *http.Request) {
	h.toggleCoupon(w, r, h.Coupons.Reactivate)
}

func (h *Handler) toggleCoupon(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, code string) error) {
	if err := op(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetCoupon(w, r)
}
