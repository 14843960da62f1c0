package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/order"
	redisstore "github.com/john25coder/pizzaria-app/internal/storage/redis"
)

// IdempotencyKeyHeader lets clients retry order creation safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// QuoteOrder serves POST /api/orders/quote.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), toLines(req.Items), req.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

// CreateOrder serves POST /api/orders. With an Idempotency-Key header a
// retried request returns the order created by the first one.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if h.idempotency == nil {
		key = ""
	}
	if key != "" {
		key = req.CustomerID + ":" + key
		existing, claimed, err := h.idempotency.Reserve(ctx, key)
		switch {
		case errors.Is(err, redisstore.ErrInProgress):
			writeError(w, r, err)
			return
		case err != nil:
			zctx.From(ctx).Warn("Idempotency store unavailable", zap.Error(err))
			key = ""
		case !claimed:
			o, err := h.orders.Get(ctx, existing)
			if err != nil {
				writeError(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusCreated, toOrder(o))
			return
		}
	}

	o, err := h.orders.Create(ctx, order.CreateRequest{
		CustomerID:      req.CustomerID,
		Lines:           toLines(req.Items),
		DeliveryAddress: req.DeliveryAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
		CouponCode:      req.CouponCode,
	})
	if err != nil {
		if key != "" {
			if rerr := h.idempotency.Release(ctx, key); rerr != nil {
				zctx.From(ctx).Warn("Release idempotency key", zap.Error(rerr))
			}
		}
		writeError(w, r, err)
		return
	}
	if key != "" {
		if err := h.idempotency.Complete(ctx, key, o.ID); err != nil {
			zctx.From(ctx).Warn("Complete idempotency key", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, toOrder(o))
}

// GetOrder serves GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// CancelOrder serves DELETE /api/orders/{id}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// ListCustomerOrders serves GET /api/customers/{id}/orders.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "id"), order.ListFilter{
		Status: r.URL.Query().Get("status"),
		Params: p,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPage(page))
}

// AdminListOrders serves GET /api/admin/orders with optional status and
// RFC 3339 from/to filters.
func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	p, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	from, err := queryTime(q.Get("from"), "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryTime(q.Get("to"), "to")
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.orders.ListAll(r.Context(), order.AdminFilter{
		Status: q.Get("status"),
		From:   from,
		To:     to,
		Params: p,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPage(page))
}

// AdminOrderStats serves GET /api/admin/orders/stats.
func (h *Handler) AdminOrderStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := orderStatsResponse{
		Total:            st.Total,
		ByStatus:         make(map[string]int, len(st.ByStatus)),
		DeliveredRevenue: money(st.DeliveredRevenue),
	}
	for k, v := range st.ByStatus {
		resp.ByStatus[string(k)] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminSetOrderStatus serves PATCH /api/admin/orders/{id}/status.
func (h *Handler) AdminSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func queryTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, badRequest("invalid " + name + " parameter: expected RFC 3339 time")
	}
	return &t, nil
}
