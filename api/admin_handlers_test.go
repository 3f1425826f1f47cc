package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coinmesh/matching-engine/engine"
	"github.com/coinmesh/matching-engine/models"
	"github.com/coinmesh/matching-engine/persistence"
	"github.com/shopspring/decimal"
)

func TestHandleTriggerSnapshot(t *testing.T) {
	gateway := persistence.NewMemoryStore()
	me := engine.NewMatchingEngine(gateway)
	sm := engine.NewSnapshotManager(me, nil, 0, 10)

	h := NewAdminHandlers(sm, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", nil)
	rr := httptest.NewRecorder()
	h.HandleTriggerSnapshot(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleTriggerSnapshotNotConfigured(t *testing.T) {
	h := NewAdminHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/snapshot", nil)
	rr := httptest.NewRecorder()
	h.HandleTriggerSnapshot(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleTriggerRecovery(t *testing.T) {
	gateway := persistence.NewMemoryStore()
	me := engine.NewMatchingEngine(gateway)

	order := models.NewOrder("trader1", "BTC-USD", models.OrderSideBuy, models.OrderTypeLimit, decimal.NewFromInt(50000), 1)
	if err := gateway.InsertOrder(context.Background(), order); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	rm := engine.NewRecoveryManager(gateway, me)
	h := NewAdminHandlers(nil, rm)

	req := httptest.NewRequest(http.MethodPost, "/admin/recovery", nil)
	rr := httptest.NewRecorder()
	h.HandleTriggerRecovery(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleTriggerRecoveryNotConfigured(t *testing.T) {
	h := NewAdminHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/recovery", nil)
	rr := httptest.NewRecorder()
	h.HandleTriggerRecovery(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
