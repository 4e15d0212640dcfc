package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/customer"
)

type customerResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Level         string    `json:"member_level"`
	DiscountPct   int       `json:"discount_percentage"`
	TotalSpending moneyJSON `json:"total_spending"`
}

func toCustomer(c *customer.Customer) customerResponse {
	return customerResponse{
		ID:            c.ID(),
		Email:         c.Email().String(),
		Name:          c.FullName(),
		Level:         c.Level().String(),
		DiscountPct:   c.DiscountPercentage(),
		TotalSpending: toMoney(c.TotalSpending()),
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type membershipResponse struct {
	CustomerID     string    `json:"customer_id"`
	Level          string    `json:"member_level"`
	DiscountPct    int       `json:"discount_percentage"`
	TotalSpending  moneyJSON `json:"total_spending"`
	SpendingToNext moneyJSON `json:"spending_to_next_level"`
	Benefits       string    `json:"benefits"`
}

func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.Customers.Register(r.Context(), req.Email, req.FirstName, req.LastName, req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomer(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Customers.Get(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomer(c))
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.Customers.Membership(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{
		CustomerID:     m.CustomerID,
		Level:          m.Level.String(),
		DiscountPct:    m.DiscountPct,
		TotalSpending:  toMoney(m.TotalSpending),
		SpendingToNext: toMoney(m.SpendingToNext),
		Benefits:       m.BenefitSummary,
	})
}
