package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// CreatePaymentIntent serves POST /api/payments/intents.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OrderID == "" {
		writeError(w, r, badRequest("orderId is required"))
		return
	}
	res, err := h.payments.CreateIntent(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intentResponse{
		PaymentID:    res.PaymentID,
		IntentID:     res.IntentID,
		ClientSecret: res.ClientSecret,
		Amount:       money(res.Amount),
		Currency:     res.Currency,
	})
}

// ConfirmPayment serves POST /api/payments/confirm.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IntentID == "" {
		writeError(w, r, badRequest("paymentIntentId is required"))
		return
	}
	p, err := h.payments.Confirm(r.Context(), req.IntentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

// CancelPaymentIntent serves POST /api/payments/intents/{id}/cancel.
func (h *Handler) CancelPaymentIntent(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.CancelIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

// PaymentWebhook serves POST /api/payments/webhook. The raw body is needed
// for signature verification.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxWebhookBytes))
	if err != nil {
		writeError(w, r, badRequest("webhook payload too large or unreadable"))
		return
	}
	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get(StripeSignatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// PaymentStatus serves GET /api/orders/{id}/payment.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayment(p))
}

// AdminRefundOrder serves POST /api/admin/orders/{id}/refund.
func (h *Handler) AdminRefundOrder(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := h.payments.Refund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, refundResponse{
		RefundID: res.RefundID,
		Status:   res.Status,
		Amount:   money(res.Amount),
	})
}
