package api

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/engine"
	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/persistence"
	"github.com/coinmesh/matching-engine/ratelimit"
	"github.com/coinmesh/matching-engine/validation"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Router wires the matching engine, persistence gateway, and maintenance
// managers to the HTTP surface: order intake, market data, admin triggers,
// health, metrics, and pprof.
type Router struct {
	router      *mux.Router
	engine      *engine.MatchingEngine
	gateway     persistence.Gateway
	orders      *OrderHandlers
	admin       *AdminHandlers
	rateLimiter *ratelimit.TokenBucketLimiter
	apiKey      string
}

// Config bundles Router's dependencies. APIKey, when non-empty, is required
// via the X-API-Key header on every non-GET request (POST/PUT/DELETE under
// /orders and the POST triggers under /admin); GET requests, including
// GET /admin/cache-stats, stay open.
type Config struct {
	Engine          *engine.MatchingEngine
	Gateway         persistence.Gateway
	SnapshotManager *engine.SnapshotManager
	RecoveryManager *engine.RecoveryManager
	OrderbookCache  *cache.OrderbookCache
	TradesCache     *cache.TradesCache
	RedisClient     *redis.Client
	APIKey          string
}

func NewRouter(cfg Config) *Router {
	rateLimitConfig := ratelimit.Config{
		MaxTokens:            100,
		RefillRate:           10,
		RefillInterval:       time.Second,
		KeyPrefix:            "ratelimit:",
		ConservativeFallback: true,
		WhitelistedKeys: []string{
			"client:admin",
			"client:market-maker-1",
			"client:monitoring",
			"ip:127.0.0.1",
		},
	}

	r := &Router{
		router:      mux.NewRouter(),
		engine:      cfg.Engine,
		gateway:     cfg.Gateway,
		orders:      NewOrderHandlers(cfg.Engine, validation.NewDefaultInputValidator(), cfg.RedisClient, cfg.TradesCache),
		admin:       NewAdminHandlers(cfg.SnapshotManager, cfg.RecoveryManager).WithOrderbookCache(cfg.OrderbookCache),
		rateLimiter: ratelimit.NewTokenBucketLimiter(cfg.RedisClient, rateLimitConfig),
		apiKey:      cfg.APIKey,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.router.Use(correlationIDMiddleware)
	r.router.Use(requestLoggingMiddleware)

	rateLimitMiddleware := ratelimit.NewMiddleware(ratelimit.MiddlewareConfig{
		Limiter:      r.rateLimiter,
		KeyExtractor: ratelimit.ClientIDAndIPKeyExtractor,
		ErrorHandler: ratelimit.DefaultErrorHandler,
		SkipPaths:    []string{"/health", "/metrics"},
	})
	r.router.Use(rateLimitMiddleware.Handler)
	r.router.Use(r.apiKeyMiddleware)

	r.router.HandleFunc("/orders", r.orders.HandleSubmitOrder).Methods(http.MethodPost)
	r.router.HandleFunc("/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.orders.HandleGetOrder(w, req, r.gateway)
	}).Methods(http.MethodGet)
	r.router.HandleFunc("/orders/{id}", r.orders.HandleCancelOrder).Methods(http.MethodDelete)
	r.router.HandleFunc("/orders/{id}", r.orders.HandleModifyOrder).Methods(http.MethodPut)
	r.router.HandleFunc("/orders/user/{user_id}", func(w http.ResponseWriter, req *http.Request) {
		r.orders.HandleListUserOrders(w, req, r.gateway)
	}).Methods(http.MethodGet)

	r.router.HandleFunc("/trades", func(w http.ResponseWriter, req *http.Request) {
		r.orders.HandleListTrades(w, req, r.gateway)
	}).Methods(http.MethodGet)

	r.router.HandleFunc("/market/{symbol}", r.orders.HandleMarketSummary).Methods(http.MethodGet)
	r.router.HandleFunc("/market/{symbol}/depth", r.orders.HandleMarketDepth).Methods(http.MethodGet)

	r.router.HandleFunc("/admin/snapshot", r.admin.HandleTriggerSnapshot).Methods(http.MethodPost)
	r.router.HandleFunc("/admin/recovery", r.admin.HandleTriggerRecovery).Methods(http.MethodPost)
	r.router.HandleFunc("/admin/cache-stats", r.admin.HandleCacheStats).Methods(http.MethodGet)

	r.router.HandleFunc("/health", r.HandleHealth).Methods(http.MethodGet)
	r.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.router.HandleFunc("/debug/pprof/", pprof.Index)
	r.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

// HandleHealth handles GET /health. It reports healthy as long as the
// matching engine has been constructed; it does not probe the database on
// every request, since that would put load-bearing latency on a liveness
// check.
func (r *Router) HandleHealth(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"symbols":   r.engine.Symbols(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// apiKeyMiddleware requires X-API-Key on every non-GET request, whatever the
// path, when an API key is configured. GET requests, which include the
// health, metrics and pprof pages, are always open.
func (r *Router) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.apiKey == "" || req.Method == http.MethodGet {
			next.ServeHTTP(w, req)
			return
		}
		if req.Header.Get("X-API-Key") != r.apiKey {
			respondError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// correlationIDMiddleware attaches a correlation ID to every request, for
// tracing a submit through matching, persistence, and the audit log.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		correlationID := req.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := context.WithValue(req.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// GetCorrelationID extracts the correlation ID attached by
// correlationIDMiddleware, or "" if the request never passed through it.
func GetCorrelationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		logging.LogWithFields(logrus.InfoLevel, "request completed", logrus.Fields{
			"correlation_id": GetCorrelationID(req),
			"method":         req.Method,
			"path":           req.URL.Path,
			"duration_ms":    time.Since(start).Milliseconds(),
		})
	})
}
