package api

import (
	"net/http"
	"time"

	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/engine"
)

// AdminHandlers exposes operator-triggered maintenance endpoints: forcing an
// out-of-cycle snapshot sweep, re-running startup recovery against the
// current order table, and reporting orderbook cache health.
type AdminHandlers struct {
	snapshots  *engine.SnapshotManager
	recovery   *engine.RecoveryManager
	orderCache *cache.OrderbookCache
}

func NewAdminHandlers(snapshots *engine.SnapshotManager, recovery *engine.RecoveryManager) *AdminHandlers {
	return &AdminHandlers{snapshots: snapshots, recovery: recovery}
}

// WithOrderbookCache attaches the orderbook cache so HandleCacheStats can
// report its hit/miss/staleness counters. Optional: when unset,
// HandleCacheStats reports 503.
func (h *AdminHandlers) WithOrderbookCache(orderCache *cache.OrderbookCache) *AdminHandlers {
	h.orderCache = orderCache
	return h
}

// HandleTriggerSnapshot handles POST /admin/snapshot. It runs one snapshot
// sweep synchronously, outside the manager's regular ticker, and responds
// with a success flag, a message and a timestamp.
func (h *AdminHandlers) HandleTriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		respondError(w, http.StatusServiceUnavailable, "snapshot manager not configured")
		return
	}
	h.snapshots.TakeAll()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "snapshot sweep completed",
		"timestamp": time.Now().UnixMilli(),
	})
}

// HandleTriggerRecovery handles POST /admin/recovery. It rebuilds every
// symbol's book from the order table and returns a per-symbol report.
func (h *AdminHandlers) HandleTriggerRecovery(w http.ResponseWriter, r *http.Request) {
	if h.recovery == nil {
		respondError(w, http.StatusServiceUnavailable, "recovery manager not configured")
		return
	}
	report, err := h.recovery.Recover(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"report":  report,
	})
}

// HandleCacheStats handles GET /admin/cache-stats, reporting the orderbook
// read-through cache's hit ratio, staleness ratio, and per-symbol breakdown.
func (h *AdminHandlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.orderCache == nil {
		respondError(w, http.StatusServiceUnavailable, "orderbook cache not configured")
		return
	}
	respondJSON(w, http.StatusOK, h.orderCache.Metrics().GetStats())
}
