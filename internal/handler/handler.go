// Package handler exposes the fulfillment services over a JSON REST API.
//
// Handlers only translate between HTTP and the domain services. Domain
// errors are mapped to status codes by kind: validation 400, not found 404,
// capacity, invalid state and conflicts 409, policy 422.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/customer"
	"github.com/xenking/kart-fulfillment/internal/domain/discount"
	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Products is the catalog read side.
type Products interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Categories is implemented by *product.CategoryService.
type Categories interface {
	Create(ctx context.Context, name, description, parentID string, displayOrder int) (*product.Category, error)
	Tree(ctx context.Context) ([]*product.CategoryNode, error)
	Get(ctx context.Context, id string) (*product.CategoryNode, error)
	Products(ctx context.Context, categoryID string) ([]product.Product, error)
}

// Carts is implemented by *cart.Service.
type Carts interface {
	Get(ctx context.Context, customerID string) (*cart.Cart, error)
	AddItem(ctx context.Context, customerID, productID string, qty int) (*cart.Cart, error)
	UpdateItem(ctx context.Context, customerID, productID string, qty int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, customerID, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, customerID string) error
}

// Orders is implemented by *order.Service.
type Orders interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByCustomer(ctx context.Context, customerID string, status *order.Status) ([]*order.Order, error)
	Pay(ctx context.Context, id, paymentID string) (*order.Order, error)
	Ship(ctx context.Context, id, trackingNumber string) (*order.Order, error)
	Deliver(ctx context.Context, id string) (*order.Order, error)
	Cancel(ctx context.Context, id, reason string) (*order.Order, error)
	Refund(ctx context.Context, id string) (*order.Order, error)
}

// Coupons is implemented by *coupon.Service.
type Coupons interface {
	Create(ctx context.Context, p coupon.Params) (*coupon.Coupon, error)
	Get(ctx context.Context, code string) (*coupon.Coupon, error)
	ListValid(ctx context.Context) ([]*coupon.Coupon, error)
	Validate(ctx context.Context, code, customerID string, total money.Money) (coupon.Discount, error)
	Deactivate(ctx context.Context, code string) error
	Reactivate(ctx context.Context, code string) error
}

// Promotions is implemented by *promotion.Service.
type Promotions interface {
	Create(ctx context.Context, name, description string, rule discount.Rule, start, end time.Time) (*promotion.Promotion, error)
	Get(ctx context.Context, id string) (*promotion.Promotion, error)
	ListActive(ctx context.Context) ([]*promotion.Promotion, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	Update(ctx context.Context, id, name, description string) error
}

// Customers is implemented by *customer.Service.
type Customers interface {
	Register(ctx context.Context, email, firstName, lastName, phone string) (*customer.Customer, error)
	Get(ctx context.Context, id string) (*customer.Customer, error)
	Membership(ctx context.Context, customerID string) (customer.Membership, error)
}

// Inventory is implemented by *inventory.Service.
type Inventory interface {
	Create(ctx context.Context, productID string, initial, threshold int) (*inventory.Inventory, error)
	Get(ctx context.Context, productID string) (*inventory.Inventory, error)
	LowStock(ctx context.Context) ([]*inventory.Inventory, error)
	Restock(ctx context.Context, productID string, qty int) error
	SetThreshold(ctx context.Context, productID string, threshold int) error
}

// Services groups the use cases the API exposes.
type Services struct {
	Products   Products
	Categories Categories
	Carts      Carts
	Orders     Orders
	Coupons    Coupons
	Promotions Promotions
	Customers  Customers
	Inventory  Inventory
}

// Handler serves the REST API.
type Handler struct {
	Services
	now func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(s Services) *Handler {
	return &Handler{Services: s, now: time.Now}
}

// Routes mounts every endpoint under /api. Middleware applied to coupon
// endpoints is passed in couponGuard; nil leaves them unguarded.
func (h *Handler) Routes(r chi.Router, couponGuard func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Get("/{categoryID}", h.GetCategory)
			r.Get("/{categoryID}/products", h.ListCategoryProducts)
		})

		r.Post("/customers", h.RegisterCustomer)
		r.Route("/customers/{customerID}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Get("/membership", h.GetMembership)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Put("/cart/items/{productID}", h.UpdateCartItem)
			r.Delete("/cart/items/{productID}", h.RemoveCartItem)

			r.With(optional(couponGuard)).Post("/checkout", h.Checkout)
			r.Get("/orders", h.ListCustomerOrders)
		})

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/pay", h.PayOrder)
			r.Post("/ship", h.ShipOrder)
			r.Post("/deliver", h.DeliverOrder)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/refund", h.RefundOrder)
		})

		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.ListCoupons)
			r.Post("/", h.CreateCoupon)
			r.Get("/{code}", h.GetCoupon)
			r.With(optional(couponGuard)).Post("/{code}/validate", h.ValidateCoupon)
			r.Post("/{code}/deactivate", h.DeactivateCoupon)
			r.Post("/{code}/reactivate", h.ReactivateCoupon)
		})

		r.Route("/promotions", func(r chi.Router) {
			r.Get("/", h.ListPromotions)
			r.Post("/", h.CreatePromotion)
			r.Get("/{promotionID}", h.GetPromotion)
			r.Patch("/{promotionID}", h.UpdatePromotion)
			r.Post("/{promotionID}/activate", h.ActivatePromotion)
			r.Post("/{promotionID}/deactivate", h.DeactivatePromotion)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/", h.CreateInventory)
			r.Get("/low-stock", h.ListLowStock)
			r.Get("/{productID}", h.GetInventory)
			r.Post("/{productID}/restock", h.RestockInventory)
			r.Put("/{productID}/threshold", h.SetInventoryThreshold)
		})
	})
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error to its HTTP status by domain kind.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrCapacity, domain.ErrInvalidState, domain.ErrConflict:
		return http.StatusConflict
	case domain.ErrPolicy:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; an encode failure means the client went away.
	_ = json.NewEncoder(w).Encode(v)
}

// errBadBody wraps malformed request bodies.
var errBadBody = errors.Wrap(domain.ErrValidation, "invalid request body")

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	return nil
}

// parseMoney reads a decimal string in the default currency.
func parseMoney(field, v string) (money.Money, error) {
	m, err := money.New(v)
	if err != nil {
		return money.Money{}, errors.Wrapf(err, "%s", field)
	}
	return m, nil
}
