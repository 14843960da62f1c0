//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type couponResponse struct {
	ID      string          `json:"id"`
	Code    string          `json:"code"`
	Kind    string          `json:"kind"`
	Value   decimal.Decimal `json:"value"`
	MaxUses *int            `json:"maxUses"`
	Uses    int             `json:"uses"`
	Active  bool            `json:"active"`
}

type validationResponse struct {
	Valid  bool            `json:"valid"`
	Reason string          `json:"reason"`
	Coupon *couponResponse `json:"coupon"`
}

func validate(t *testing.T, code string) validationResponse {
	t.Helper()
	resp := doPost(t, "/api/coupons/validate", map[string]string{"code": code})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	return decodeJSON[validationResponse](t, resp)
}

func TestValidateCoupon(t *testing.T) {
	v := validate(t, "  bemvindo10 ")
	if !v.Valid || v.Coupon == nil || v.Coupon.Code != "BEMVINDO10" {
		t.Fatalf("expected valid BEMVINDO10, got %+v", v)
	}

	v = validate(t, "NOPE")
	if v.Valid || v.Coupon != nil {
		t.Fatalf("expected unknown code to be invalid, got %+v", v)
	}
}

func TestAdminCoupons_RequireKey(t *testing.T) {
	resp := doGet(t, "/api/admin/coupons")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	bad := do(t, http.MethodGet, "/api/admin/coupons", nil, http.Header{"api_key": []string{"wrong"}})
	defer bad.Body.Close()
	expectStatus(t, bad, http.StatusUnauthorized)
}

func TestAdminCouponLifecycle(t *testing.T) {
	code := "IT" + uuid.NewString()[:8]

	create := do(t, http.MethodPost, "/api/admin/coupons", map[string]any{
		"code":    code,
		"kind":    "FIXED",
		"value":   "12.50",
		"maxUses": 10,
	}, adminHeader())
	defer create.Body.Close()
	expectStatus(t, create, http.StatusCreated)
	c := decodeJSON[couponResponse](t, create)
	if !c.Active || c.Uses != 0 {
		t.Fatalf("new coupon must be active and unused, got %+v", c)
	}

	dup := do(t, http.MethodPost, "/api/admin/coupons", map[string]any{
		"code": code, "kind": "FIXED", "value": "1.00",
	}, adminHeader())
	defer dup.Body.Close()
	expectStatus(t, dup, http.StatusConflict)

	patch := do(t, http.MethodPatch, "/api/admin/coupons/"+c.ID, map[string]any{"value": "15.00"}, adminHeader())
	defer patch.Body.Close()
	expectStatus(t, patch, http.StatusOK)
	if got := decodeJSON[couponResponse](t, patch); !got.Value.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("value: got %s, want 15.00", got.Value)
	}

	o := placeOrder(t, 1, code)
	if !o.Discount.Equal(decimal.RequireFromString("15.00")) {
		t.Errorf("discount: got %s, want 15.00", o.Discount)
	}

	stats := do(t, http.MethodGet, "/api/admin/coupons/"+c.ID+"/stats", nil, adminHeader())
	defer stats.Body.Close()
	expectStatus(t, stats, http.StatusOK)
	s := decodeJSON[struct {
		Uses       int `json:"uses"`
		Remaining  int `json:"remaining"`
		OrderCount int `json:"orderCount"`
	}](t, stats)
	if s.Uses != 1 || s.Remaining != 9 || s.OrderCount != 1 {
		t.Errorf("stats: got %+v", s)
	}

	del := do(t, http.MethodDelete, "/api/admin/coupons/"+c.ID, nil, adminHeader())
	defer del.Body.Close()
	expectStatus(t, del, http.StatusOK)

	v := validate(t, code)
	if v.Valid || v.Reason != "coupon is inactive" {
		t.Fatalf("expected inactive coupon, got %+v", v)
	}
}

func TestAdminCreateCoupon_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing code", map[string]any{"kind": "FIXED", "value": "1"}},
		{"bad kind", map[string]any{"code": "X1", "kind": "BOGO", "value": "1"}},
		{"percent over 100", map[string]any{"code": "X2", "kind": "PERCENTAGE", "value": "150"}},
		{"negative value", map[string]any{"code": "X3", "kind": "FIXED", "value": "-1"}},
		{"zero max uses", map[string]any{"code": "X4", "kind": "FIXED", "value": "1", "maxUses": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/api/admin/coupons", tt.body, adminHeader())
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}
}
