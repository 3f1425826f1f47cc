package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coinmesh/matching-engine/engine"
	"github.com/coinmesh/matching-engine/persistence"
)

func newTestRouter(apiKey string) *Router {
	gateway := persistence.NewMemoryStore()
	me := engine.NewMatchingEngine(gateway)
	return NewRouter(Config{
		Engine:  me,
		Gateway: gateway,
		APIKey:  apiKey,
	})
}

func TestRouterHealth(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAttachesCorrelationID(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected X-Correlation-ID header to be set")
	}
}

func TestRouterPreservesIncomingCorrelationID(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "test-correlation-id")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "test-correlation-id" {
		t.Errorf("expected correlation id to be preserved, got %q", got)
	}
}

func TestRouterRequiresAPIKeyOnWritePaths(t *testing.T) {
	r := newTestRouter("secret")

	body := `{"client_id":"trader1","symbol":"BTC-USD","side":"buy","price":"50000.00","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with correct API key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAPIKeyNotRequiredOnReadPaths(t *testing.T) {
	r := newTestRouter("secret")

	req := httptest.NewRequest(http.MethodGet, "/market/BTC-USD", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for read path without API key, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAPIKeyNotEnforcedWhenUnconfigured(t *testing.T) {
	r := newTestRouter("")

	body := `{"client_id":"trader1","symbol":"BTC-USD","side":"buy","price":"50000.00","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 when no API key configured, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
