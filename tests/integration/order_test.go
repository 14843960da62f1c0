//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/john25coder/pizzaria-app/internal/handler"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuoteOrder(t *testing.T) {
	resp := doPost(t, "/api/orders/quote", map[string]any{
		"items": []lineRequest{
			{ProductID: "calabresa", SizeID: "media", Quantity: 2},
			{ProductID: "margherita", SizeID: "grande", Quantity: 1},
		},
		"couponCode": "bemvindo10",
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	q := decodeJSON[orderResponse](t, resp)
	// 2 x 78.00 + 90.00 = 246.00, 10% off = 24.60, plus 8.00 delivery.
	if !q.Subtotal.Equal(dec("246.00")) {
		t.Errorf("subtotal: got %s, want 246.00", q.Subtotal)
	}
	if !q.Discount.Equal(dec("24.60")) {
		t.Errorf("discount: got %s, want 24.60", q.Discount)
	}
	if !q.Total.Equal(dec("229.40")) {
		t.Errorf("total: got %s, want 229.40", q.Total)
	}
	if q.CouponCode != "BEMVINDO10" {
		t.Errorf("coupon: got %q, want BEMVINDO10", q.CouponCode)
	}
}

func TestCreateOrder(t *testing.T) {
	o := placeOrder(t, 2, "")

	if o.Status != "PENDING" {
		t.Errorf("status: got %s, want PENDING", o.Status)
	}
	if !o.Total.Equal(dec("164.00")) {
		t.Errorf("total: got %s, want 164.00", o.Total)
	}
	if len(o.Items) != 1 || !o.Items[0].UnitPrice.Equal(dec("78.00")) {
		t.Errorf("unit price must come from the size, got %+v", o.Items)
	}

	resp := doGet(t, "/api/orders/"+o.ID)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[orderResponse](t, resp)
	if got.ID != o.ID || !got.Total.Equal(o.Total) {
		t.Errorf("stored order differs: %+v", got)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		body createOrderRequest
		want int
	}{
		{
			name: "empty items",
			body: createOrderRequest{CustomerID: testCustomer},
			want: http.StatusBadRequest,
		},
		{
			name: "missing customer",
			body: createOrderRequest{Items: []lineRequest{{ProductID: "calabresa", SizeID: "media", Quantity: 1}}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown customer",
			body: createOrderRequest{CustomerID: "nobody", Items: []lineRequest{{ProductID: "calabresa", SizeID: "media", Quantity: 1}}},
			want: http.StatusNotFound,
		},
		{
			name: "unknown product",
			body: createOrderRequest{CustomerID: testCustomer, Items: []lineRequest{{ProductID: "abacate", SizeID: "media", Quantity: 1}}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown size",
			body: createOrderRequest{CustomerID: testCustomer, Items: []lineRequest{{ProductID: "calabresa", SizeID: "gigante", Quantity: 1}}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "inactive product",
			body: createOrderRequest{CustomerID: testCustomer, Items: []lineRequest{{ProductID: "retired", SizeID: "media", Quantity: 1}}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "zero quantity",
			body: createOrderRequest{CustomerID: testCustomer, Items: []lineRequest{{ProductID: "calabresa", SizeID: "media", Quantity: 0}}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown coupon",
			body: createOrderRequest{CustomerID: testCustomer, Items: []lineRequest{{ProductID: "calabresa", SizeID: "media", Quantity: 1}}, CouponCode: "NOPE"},
			want: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/orders", tt.body)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	key := uuid.NewString()
	body := createOrderRequest{
		CustomerID:      testCustomer,
		Items:           []lineRequest{{ProductID: "margherita", SizeID: "grande", Quantity: 1}},
		DeliveryAddress: "Rua das Flores, 100",
		Phone:           "+5511999990000",
	}
	header := http.Header{handler.IdempotencyKeyHeader: []string{key}}

	first := do(t, http.MethodPost, "/api/orders", body, header)
	defer first.Body.Close()
	expectStatus(t, first, http.StatusCreated)
	a := decodeJSON[orderResponse](t, first)

	second := do(t, http.MethodPost, "/api/orders", body, header)
	defer second.Body.Close()
	expectStatus(t, second, http.StatusCreated)
	if second.Header.Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header on second response")
	}
	b := decodeJSON[orderResponse](t, second)

	if a.ID != b.ID {
		t.Fatalf("replayed request created a new order: %s != %s", a.ID, b.ID)
	}
}

func TestCreateOrder_CouponLastUse(t *testing.T) {
	body, err := json.Marshal(createOrderRequest{
		CustomerID:      testCustomer,
		Items:           []lineRequest{{ProductID: "calabresa", SizeID: "media", Quantity: 1}},
		DeliveryAddress: "Rua das Flores, 100",
		Phone:           "+5511999990000",
		CouponCode:      "UMAVEZ",
	})
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[int]int)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Post(baseURL+"/api/orders", "application/json", bytes.NewReader(body))
			if err != nil {
				t.Errorf("post: %v", err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusCreated] != 1 {
		t.Fatalf("expected exactly one order to use the coupon, got %v", codes)
	}
	if codes[http.StatusUnprocessableEntity] != workers-1 {
		t.Fatalf("expected the rest to be rejected, got %v", codes)
	}
}

func TestCancelOrder(t *testing.T) {
	o := placeOrder(t, 1, "")

	resp := do(t, http.MethodDelete, "/api/orders/"+o.ID, nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if got := decodeJSON[orderResponse](t, resp); got.Status != "CANCELLED" {
		t.Fatalf("status: got %s, want CANCELLED", got.Status)
	}

	again := do(t, http.MethodDelete, "/api/orders/"+o.ID, nil, nil)
	defer again.Body.Close()
	expectStatus(t, again, http.StatusConflict)
}

func TestCancelOrder_Delivered(t *testing.T) {
	o := placeOrder(t, 1, "")

	for _, status := range []string{"CONFIRMED", "PREPARING", "READY", "DELIVERED"} {
		resp := do(t, http.MethodPatch, "/api/admin/orders/"+o.ID+"/status", map[string]string{"status": status}, adminHeader())
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := do(t, http.MethodDelete, "/api/orders/"+o.ID, nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)
}

func TestCancelOrder_NotFound(t *testing.T) {
	resp := do(t, http.MethodDelete, "/api/orders/"+uuid.NewString(), nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestListCustomerOrders(t *testing.T) {
	o := placeOrder(t, 1, "")

	resp := doGet(t, "/api/customers/"+testCustomer+"/orders?limit=100")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	page := decodeJSON[struct {
		Orders []orderResponse `json:"orders"`
	}](t, resp)
	for _, got := range page.Orders {
		if got.ID == o.ID {
			return
		}
	}
	t.Fatalf("order %s missing from customer history", o.ID)
}
