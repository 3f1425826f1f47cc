package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coinmesh/matching-engine/api"
	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/engine"
	"github.com/coinmesh/matching-engine/eventsourcing"
	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/persistence"
	"github.com/coinmesh/matching-engine/profiling"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// config holds every process setting read from the environment. Nothing
// here has a required value: an empty DATABASE_URL falls back to an
// in-memory gateway, and an empty REDIS_URL disables the market-data caches
// and idempotency keys and leaves rate limiting on an in-memory limiter, so
// the server is runnable standalone for local development.
type config struct {
	Port                string
	DatabaseURL         string
	RedisURL            string
	APIKey              string
	SnapshotIntervalSec int
	MaxDepthLevels      int
	RetryMaxAttempts    int
	RetryBaseDelayMS    int
	EnableProfiler      bool
	ProfilePort         int
}

func loadConfig() config {
	return config{
		Port:                envOr("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		APIKey:              os.Getenv("API_KEY"),
		SnapshotIntervalSec: envOrInt("SNAPSHOT_INTERVAL_SEC", 5),
		MaxDepthLevels:      envOrInt("MAX_DEPTH_LEVELS", 20),
		RetryMaxAttempts:    envOrInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelayMS:    envOrInt("RETRY_BASE_DELAY_MS", 200),
		EnableProfiler:      os.Getenv("ENABLE_PROFILER") == "true",
		ProfilePort:         envOrInt("PROFILE_PORT", 6060),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// main wires up the matching engine's dependencies and starts the HTTP
// server, in this order: the gateway and event store, the optional
// profiler, the Redis client, the engine, the retry queue and the audit log
// that subscribes to it, startup recovery, the caches and cache-invalidation
// subscriber (when Redis is configured), the snapshot loop, then the router.
func main() {
	logging.InitLogger()
	log := logging.GetLogger()
	cfg := loadConfig()

	gateway, eventStore, closeDB := buildStores(cfg)
	if closeDB != nil {
		defer closeDB()
	}

	var profiler *profiling.Profiler
	if cfg.EnableProfiler {
		profiler = profiling.NewProfiler(profiling.DefaultProfilerConfig())
		profiler.EnableRuntimeProfiling()
		if err := profiler.StartPProfServer(cfg.ProfilePort); err != nil {
			log.WithField("error", err.Error()).Warn("failed to start profiler server, continuing without it")
			profiler = nil
		} else {
			defer profiler.StopPProfServer()
			memStop := make(chan struct{})
			defer close(memStop)
			go profiler.MonitorMemory(1*time.Minute, memStop)
		}
	}

	redisClient := buildRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	matchingEngine := engine.NewMatchingEngine(gateway)

	retryQueue := persistence.NewRetryQueue(cfg.RetryMaxAttempts, time.Duration(cfg.RetryBaseDelayMS)*time.Millisecond,
		func(symbol string, attempts int, err error) {
			log.WithFields(map[string]interface{}{
				"symbol":   symbol,
				"attempts": attempts,
				"error":    err.Error(),
			}).Error("audit log entry dropped after exhausting retries")
		})
	defer retryQueue.Close()

	auditLogger := engine.NewAuditLogger(eventStore, retryQueue)
	auditLogger.Attach(matchingEngine.EventBus())

	recoveryManager := engine.NewRecoveryManager(gateway, matchingEngine)
	recoveryCtx, recoveryCancel := context.WithTimeout(context.Background(), 30*time.Second)
	report, err := recoveryManager.Recover(recoveryCtx)
	recoveryCancel()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("startup recovery failed")
	}
	log.WithFields(map[string]interface{}{
		"symbols": len(report.Symbols),
		"orders":  report.TotalOrders(),
	}).Info("startup recovery complete")

	redisCache := buildRedisCache(redisClient)
	var orderCache *cache.OrderbookCache
	var tradesCache *cache.TradesCache
	if redisCache != nil {
		orderCache = cache.NewOrderbookCache(redisCache, cache.DefaultOrderbookCacheConfig())
		tradesCache = cache.NewTradesCache(redisCache, cache.DefaultTradesCacheConfig())

		pubsub := cache.NewPubSubManager(redisCache, orderCache, tradesCache)
		if err := pubsub.Start(); err != nil {
			log.WithField("error", err.Error()).Warn("failed to start cache invalidation pub/sub, continuing without it")
		} else {
			defer pubsub.Stop()
			engine.NewCacheSubscriber(cache.NewCacheInvalidator(pubsub)).Attach(matchingEngine.EventBus())
		}
	}

	snapshotManager := engine.NewSnapshotManager(matchingEngine, orderCache,
		time.Duration(cfg.SnapshotIntervalSec)*time.Second, cfg.MaxDepthLevels)
	snapshotManager.Start()
	defer snapshotManager.Stop()

	router := api.NewRouter(api.Config{
		Engine:          matchingEngine,
		Gateway:         gateway,
		SnapshotManager: snapshotManager,
		RecoveryManager: recoveryManager,
		OrderbookCache:  orderCache,
		TradesCache:     tradesCache,
		RedisClient:     redisClient,
		APIKey:          cfg.APIKey,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		port, _ := strconv.Atoi(cfg.Port)
		logging.LogServerStarted(port, map[string]interface{}{
			"persistence": persistenceKind(cfg.DatabaseURL),
			"cache":       redisClient != nil,
			"symbols":     len(report.Symbols),
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err.Error()).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Fatal("server forced to shutdown")
	}
	log.Info("server exiting")
}

// buildStores constructs the order/trade gateway and the event-sourcing
// store together, since both fall back to their in-memory counterparts
// under exactly the same condition: no DATABASE_URL configured.
func buildStores(cfg config) (persistence.Gateway, eventsourcing.Store, func()) {
	if cfg.DatabaseURL == "" {
		logging.GetLogger().Warn("DATABASE_URL not set, using in-memory gateway (not durable across restarts)")
		return persistence.NewMemoryStore(), eventsourcing.NewMemoryEventStore(), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logging.GetLogger().WithField("error", err.Error()).Fatal("failed to open database")
	}
	if err := db.Ping(); err != nil {
		logging.GetLogger().WithField("error", err.Error()).Fatal("failed to reach database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return persistence.NewPostgresStore(db), eventsourcing.NewPostgresEventStore(db), func() { db.Close() }
}

func buildRedisClient(cfg config) *redis.Client {
	if cfg.RedisURL == "" {
		logging.GetLogger().Warn("REDIS_URL not set, rate limiting falls back to in-memory and idempotency keys are ignored")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logging.GetLogger().WithField("error", err.Error()).Fatal("invalid REDIS_URL")
	}
	return redis.NewClient(opts)
}

// buildRedisCache wires the shared low-level Redis wrapper that the
// orderbook and trades caches are both built on top of, or nil when Redis
// isn't configured; every caller treats a nil cache as a no-op.
func buildRedisCache(redisClient *redis.Client) *cache.RedisCache {
	if redisClient == nil {
		return nil
	}
	opts := redisClient.Options()
	host, portStr, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		logging.GetLogger().WithField("error", err.Error()).Warn("failed to parse REDIS_URL address, continuing without market-data caching")
		return nil
	}
	port, _ := strconv.Atoi(portStr)
	redisCache, err := cache.NewRedisCache(&cache.RedisCacheConfig{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err != nil {
		logging.GetLogger().WithField("error", err.Error()).Warn("failed to build market-data cache, continuing without it")
		return nil
	}
	return redisCache
}

func persistenceKind(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}
	return "postgres"
}
