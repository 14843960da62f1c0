package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
)

// ValidateCoupon serves POST /api/coupons/validate. An unusable coupon is
// a normal 200 answer with valid=false and a reason.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.coupons.Validate(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := validationResponse{Valid: v.Valid, Reason: v.Reason}
	if v.Valid && v.Coupon != nil {
		resp.Coupon = toCoupon(v.Coupon)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminListCoupons serves GET /api/admin/coupons?active=true.
func (h *Handler) AdminListCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.List(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]*couponResponse, len(list))
	for i := range list {
		resp[i] = toCoupon(&list[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminCreateCoupon serves POST /api/admin/coupons.
func (h *Handler) AdminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), coupon.Input{
		Code:        req.Code,
		Kind:        req.Kind,
		Value:       req.Value,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
		MaxUses:     req.MaxUses,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoupon(c))
}

// AdminGetCoupon serves GET /api/admin/coupons/{id}.
func (h *Handler) AdminGetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

// AdminUpdateCoupon serves PATCH /api/admin/coupons/{id}.
func (h *Handler) AdminUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), coupon.Patch{
		Code:           req.Code,
		Kind:           req.Kind,
		Value:          req.Value,
		Description:    req.Description,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		MaxUses:        req.MaxUses,
		ClearMaxUses:   req.ClearMaxUses,
		Active:         req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

// AdminDeactivateCoupon serves DELETE /api/admin/coupons/{id}. Coupons are
// never deleted, only deactivated.
func (h *Handler) AdminDeactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoupon(c))
}

// AdminCouponStats serves GET /api/admin/coupons/{id}/stats.
func (h *Handler) AdminCouponStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.coupons.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponStatsResponse{
		Coupon:        toCoupon(st.Coupon),
		Uses:          st.Uses,
		MaxUses:       st.MaxUses,
		Remaining:     st.Remaining,
		OrderCount:    st.OrderCount,
		TotalDiscount: money(st.TotalDiscount),
	})
}
