// Package handler exposes the ordering core over HTTP with a chi router.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/john25coder/pizzaria-app/internal/domain/auth"
	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
)

// CatalogService is the catalog use-case surface.
type CatalogService interface {
	ListProducts(ctx context.Context, f catalog.ProductFilter) (*catalog.ProductPage, error)
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (*catalog.Product, error)
	UpdateProduct(ctx context.Context, id string, patch catalog.ProductPatch) (*catalog.Product, error)
	ListSizes(ctx context.Context, includeInactive bool) ([]catalog.Size, error)
	GetSize(ctx context.Context, id string) (*catalog.Size, error)
	CreateSize(ctx context.Context, in catalog.SizeInput) (*catalog.Size, error)
	UpdateSize(ctx context.Context, id string, patch catalog.SizePatch) (*catalog.Size, error)
}

// OrderService is the order use-case surface.
type OrderService interface {
	Quote(ctx context.Context, lines []order.Line, couponCode string) (*order.Quote, error)
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByCustomer(ctx context.Context, customerID string, f order.ListFilter) (*order.Page, error)
	ListAll(ctx context.Context, f order.AdminFilter) (*order.Page, error)
	SetStatus(ctx context.Context, id, status string) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	Stats(ctx context.Context) (*order.Stats, error)
}

// CouponService is the coupon use-case surface.
type CouponService interface {
	Validate(ctx context.Context, code string) (*coupon.Validation, error)
	Create(ctx context.Context, in coupon.Input) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, p coupon.Patch) (*coupon.Coupon, error)
	Deactivate(ctx context.Context, id string) (*coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context, activeOnly bool) ([]coupon.Coupon, error)
	Stats(ctx context.Context, id string) (*coupon.Stats, error)
}

// PaymentService is the payment use-case surface.
type PaymentService interface {
	CreateIntent(ctx context.Context, orderID string) (*payment.IntentResult, error)
	Confirm(ctx context.Context, intentID string) (*payment.Payment, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Refund(ctx context.Context, orderID, reason string) (*payment.RefundResult, error)
	Status(ctx context.Context, orderID string) (*payment.Payment, error)
	CancelIntent(ctx context.Context, intentID string) (*payment.Payment, error)
}

// IdempotencyStore deduplicates order creation by client key. Reserve
// returns an error matching redis.ErrInProgress while another request holds
// the key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// APIKeyPepper is the HMAC key that admin API keys are hashed with.
	APIKeyPepper []byte
	// MaxWebhookBytes caps webhook payload size.
	MaxWebhookBytes int64
}

// Handler serves the HTTP API, delegating business logic to the domain
// services.
type Handler struct {
	catalog     CatalogService
	orders      OrderService
	coupons     CouponService
	payments    PaymentService
	idempotency IdempotencyStore
	apikeys     auth.Repository

	pepper          []byte
	maxWebhookBytes int64
}

// New constructs a Handler. idempotency may be nil, which disables
// Idempotency-Key support.
func New(
	cfg Config,
	catalogSvc CatalogService,
	orders OrderService,
	coupons CouponService,
	payments PaymentService,
	idempotency IdempotencyStore,
	apikeys auth.Repository,
) *Handler {
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = 64 << 10
	}
	return &Handler{
		catalog:         catalogSvc,
		orders:          orders,
		coupons:         coupons,
		payments:        payments,
		idempotency:     idempotency,
		apikeys:         apikeys,
		pepper:          cfg.APIKeyPepper,
		maxWebhookBytes: cfg.MaxWebhookBytes,
	}
}

// Routes mounts the API on a new chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/sizes", h.ListSizes)
		r.Get("/sizes/{id}", h.GetSize)

		r.Post("/orders/quote", h.QuoteOrder)
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/orders/{id}/payment", h.PaymentStatus)
		r.Get("/customers/{id}/orders", h.ListCustomerOrders)

		r.Post("/coupons/validate", h.ValidateCoupon)

		r.Post("/payments/intents", h.CreatePaymentIntent)
		r.Post("/payments/intents/{id}/cancel", h.CancelPaymentIntent)
		r.Post("/payments/confirm", h.ConfirmPayment)
		r.Post("/payments/webhook", h.PaymentWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireAPIKey(auth.ScopeAdmin))

			r.Get("/orders", h.AdminListOrders)
			r.Get("/orders/stats", h.AdminOrderStats)
			r.Patch("/orders/{id}/status", h.AdminSetOrderStatus)
			r.Post("/orders/{id}/refund", h.AdminRefundOrder)

			r.Get("/products", h.AdminListProducts)
			r.Post("/products", h.AdminCreateProduct)
			r.Patch("/products/{id}", h.AdminUpdateProduct)
			r.Get("/sizes", h.AdminListSizes)
			r.Post("/sizes", h.AdminCreateSize)
			r.Patch("/sizes/{id}", h.AdminUpdateSize)

			r.Get("/coupons", h.AdminListCoupons)
			r.Post("/coupons", h.AdminCreateCoupon)
			r.Get("/coupons/{id}", h.AdminGetCoupon)
			r.Patch("/coupons/{id}", h.AdminUpdateCoupon)
			r.Delete("/coupons/{id}", h.AdminDeactivateCoupon)
			r.Get("/coupons/{id}/stats", h.AdminCouponStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
