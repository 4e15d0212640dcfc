package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
)

type promotionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rule        ruleJSON  `json:"rule"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Active      bool      `json:"active"`
}

func (h *Handler) toPromotion(p *promotion.Promotion) promotionResponse {
	return promotionResponse{
		ID:          p.ID(),
		Name:        p.Name(),
		Description: p.Description(),
		Rule:        toRule(p.Rule()),
		StartsAt:    p.StartsAt(),
		EndsAt:      p.EndsAt(),
		Active:      p.IsActive(h.now()),
	}
}

type createPromotionRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Rule        ruleJSON  `json:"rule"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

type updatePromotionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := req.Rule.rule()
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Promotions.Create(r.Context(), req.Name, req.Description, rule, req.StartsAt, req.EndsAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPromotion(p))
}

// ListPromotions returns promotions running right now.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.Promotions.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]promotionResponse, len(promos))
	for i, p := range promos {
		out[i] = h.toPromotion(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.Promotions.Get(r.Context(), chi.URLParam(r, "promotionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPromotion(p))
}

func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	var req updatePromotionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Promotions.Update(r.Context(), chi.URLParam(r, "promotionID"), req.Name, req.Description); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetPromotion(w, r)
}

func (h *Handler) ActivatePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.Promotions.Activate(r.Context(), chi.URLParam(r, "promotionID")); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetPromotion(w, r)
}

func (h *Handler) DeactivatePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.Promotions.Deactivate(r.Context(), chi.URLParam(r, "promotionID")); err != nil {
		writeError(w, r, err)
		return
	}
	h.GetPromotion(w, r)
}
