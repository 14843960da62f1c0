//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/john25coder/pizzaria-app/pkg/httpmiddleware"
)

func TestRequestID_Generated(t *testing.T) {
	resp := doGet(t, "/api/sizes")
	defer resp.Body.Close()

	if resp.Header.Get(httpmiddleware.RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/sizes", nil, http.Header{httpmiddleware.RequestIDHeader: []string{"it-req-1"}})
	defer resp.Body.Close()

	if got := resp.Header.Get(httpmiddleware.RequestIDHeader); got != "it-req-1" {
		t.Fatalf("request id: got %q, want it-req-1", got)
	}
}

func TestRateLimitHeaders(t *testing.T) {
	resp := doGet(t, "/api/sizes")
	defer resp.Body.Close()

	if resp.Header.Get("X-RateLimit-Limit") == "" || resp.Header.Get("X-RateLimit-Remaining") == "" {
		t.Fatal("expected rate limit headers")
	}
}

func TestCORSPreflight(t *testing.T) {
	resp := do(t, http.MethodOptions, "/api/orders", nil, http.Header{
		"Origin":                        []string{"https://pizzaria.example"},
		"Access-Control-Request-Method": []string{http.MethodPost},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected Access-Control-Allow-Origin")
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := doGet(t, "/api/nope")
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}
