package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/engine"
	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/metrics"
	"github.com/coinmesh/matching-engine/models"
	"github.com/coinmesh/matching-engine/validation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// OrderResponse is the wire shape returned after a submit, modify, or fetch.
type OrderResponse struct {
	Success   bool            `json:"success"`
	Order     *models.Order   `json:"order,omitempty"`
	Trades    []*models.Trade `json:"trades,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Replayed  bool            `json:"replayed,omitempty"`
}

type OrderHandlers struct {
	engine      *engine.MatchingEngine
	validator   *validation.InputValidator
	redisClient *redis.Client
	tradesCache *cache.TradesCache
}

func NewOrderHandlers(me *engine.MatchingEngine, validator *validation.InputValidator, redisClient *redis.Client, tradesCache *cache.TradesCache) *OrderHandlers {
	if validator == nil {
		validator = validation.NewDefaultInputValidator()
	}
	return &OrderHandlers{engine: me, validator: validator, redisClient: redisClient, tradesCache: tradesCache}
}

// HandleSubmitOrder handles POST /orders.
func (h *OrderHandlers) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r)

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" && h.redisClient != nil {
		if cached, err := h.checkIdempotencyKey(r.Context(), idempotencyKey); err == nil && cached != nil {
			cached.Replayed = true
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Key", idempotencyKey)
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(cached)
			return
		}
	}

	body, err := h.validator.ValidateRequestBody(r, validation.MaxRequestBodySize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req validation.OrderRequest
	if err := h.validator.ValidateAndDecodeJSON(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.validator.ValidateOrderRequest(&req); err != nil {
		metrics.RecordOrderRejected(req.Symbol, "validation_failed")
		logging.LogOrderRejectedWithCorrelation(correlationID, "", req.ClientID, req.Symbol, "validation_failed", err.Error())
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	side := models.OrderSideBuy
	if strings.EqualFold(strings.TrimSpace(req.Side), "sell") {
		side = models.OrderSideSell
	}

	order := models.NewOrder(req.ClientID, req.Symbol, side, models.OrderTypeLimit, req.Price, req.Quantity)

	metrics.RecordOrderReceived(req.Symbol, string(side), string(models.OrderTypeLimit))
	logging.LogOrderReceivedWithCorrelation(correlationID, order.ID.String(), req.ClientID, req.Symbol,
		string(side), string(models.OrderTypeLimit), req.Price, req.Quantity)

	start := time.Now()
	trades, err := h.engine.Submit(r.Context(), order)
	latency := time.Since(start).Seconds()
	metrics.RecordOrderLatency(req.Symbol, string(models.OrderTypeLimit), latency)

	if err != nil {
		kind := engine.KindOf(err)
		metrics.RecordOrderRejected(req.Symbol, string(kind))
		logging.LogOrderRejectedWithCorrelation(correlationID, order.ID.String(), req.ClientID, req.Symbol, string(kind), err.Error())
		respondError(w, statusForKind(kind), err.Error())
		return
	}

	if order.Status == models.OrderStatusFilled || order.Status == models.OrderStatusPartial {
		metrics.RecordOrderMatched(req.Symbol, string(side))
		logging.LogOrderMatchedWithCorrelation(correlationID, order.ID.String(), req.ClientID, req.Symbol,
			string(side), order.FilledQuantity, order.RemainingQuantity(), string(order.Status))
	}

	for _, trade := range trades {
		metrics.RecordTrade(req.Symbol, float64(trade.Quantity))
		logging.LogTradeExecutedWithCorrelation(correlationID, trade.TradeID.String(), trade.BuyOrderID.String(),
			trade.SellOrderID.String(), req.Symbol, trade.Price, trade.Quantity, "", "")
	}

	response := OrderResponse{
		Success:   true,
		Order:     order,
		Trades:    trades,
		Message:   "order accepted",
		Timestamp: time.Now().UnixMilli(),
	}

	if idempotencyKey != "" && h.redisClient != nil {
		_ = h.cacheIdempotencyResponse(r.Context(), idempotencyKey, &response)
		w.Header().Set("X-Idempotency-Key", idempotencyKey)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// HandleGetOrder handles GET /orders/{id}?symbol=BTC-USD. Checks the live
// matching engine first, then falls back to gateway for terminal orders
// (filled or cancelled) that have already been removed from the book.
func (h *OrderHandlers) HandleGetOrder(w http.ResponseWriter, r *http.Request, gateway OrderGetter) {
	orderID := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("symbol")

	if err := h.validator.ValidateOrderID(orderID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order := h.engine.GetOrder(symbol, orderID)
	if order == nil {
		parsedID, err := uuid.Parse(orderID)
		if err != nil {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		dbOrder, err := gateway.GetOrder(r.Context(), parsedID)
		if err != nil || dbOrder == nil {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		order = dbOrder
	}

	respondJSON(w, http.StatusOK, OrderResponse{Success: true, Order: order, Timestamp: time.Now().UnixMilli()})
}

// HandleCancelOrder handles DELETE /orders/{id}?symbol=BTC-USD.
func (h *OrderHandlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r)
	orderID := mux.Vars(r)["id"]
	symbol := r.URL.Query().Get("symbol")

	if err := h.validator.ValidateOrderID(orderID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.engine.Cancel(r.Context(), symbol, orderID)
	if err != nil {
		kind := engine.KindOf(err)
		respondError(w, statusForKind(kind), err.Error())
		return
	}

	logging.LogOrderCancelledWithCorrelation(correlationID, order.ID.String(), order.ClientID, order.Symbol, "user_requested")
	respondJSON(w, http.StatusOK, OrderResponse{Success: true, Order: order, Timestamp: time.Now().UnixMilli()})
}

// HandleModifyOrder handles PUT /orders/{id}. Either price, quantity, or
// both may be supplied. A price change or a quantity increase re-queues the
// order at the back of its (possibly new) price level, losing time
// priority; a quantity decrease is applied in place and keeps it.
func (h *OrderHandlers) HandleModifyOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req struct {
		Symbol   string           `json:"symbol"`
		Price    *decimal.Decimal `json:"price,omitempty"`
		Quantity *int64           `json:"quantity,omitempty"`
	}

	body, err := h.validator.ValidateRequestBody(r, validation.MaxRequestBodySize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.ValidateAndDecodeJSON(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.ValidateOrderID(orderID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.ValidateSymbol(req.Symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Price != nil {
		if err := h.validator.ValidatePrice(*req.Price); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Quantity != nil {
		if err := h.validator.ValidateQuantity(*req.Quantity); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	trades, order, err := h.engine.Modify(r.Context(), req.Symbol, orderID, req.Price, req.Quantity)
	if err != nil {
		kind := engine.KindOf(err)
		respondError(w, statusForKind(kind), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, OrderResponse{Success: true, Order: order, Trades: trades, Timestamp: time.Now().UnixMilli()})
}

// HandleListUserOrders handles GET /orders/user/{user_id}.
func (h *OrderHandlers) HandleListUserOrders(w http.ResponseWriter, r *http.Request, gateway OrderLister) {
	clientID := mux.Vars(r)["user_id"]
	if err := h.validator.ValidateClientID(clientID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := parseLimit(r, 50, 500)
	orders, err := gateway.ListUserOrders(r.Context(), clientID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "orders": orders})
}

// HandleListTrades handles GET /trades?symbol=BTC-USD.
func (h *OrderHandlers) HandleListTrades(w http.ResponseWriter, r *http.Request, gateway TradeLister) {
	symbol := r.URL.Query().Get("symbol")
	if err := h.validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := parseLimit(r, 100, 1000)

	if h.tradesCache != nil {
		if cached, err := h.tradesCache.GetTrades(symbol, limit); err == nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "trades": cached.Trades, "cached": true})
			return
		}
	}

	trades, err := gateway.ListTrades(r.Context(), symbol, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.tradesCache != nil {
		go h.cacheTrades(symbol, limit, trades)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "trades": trades})
}

// cacheTrades populates the read-through trades cache after a gateway miss.
// Run off the request goroutine: a cache-population failure never affects
// the response that already went out.
func (h *OrderHandlers) cacheTrades(symbol string, limit int, trades []*models.Trade) {
	cacheEntries := make([]cache.Trade, len(trades))
	for i, t := range trades {
		cacheEntries[i] = cache.Trade{
			TradeID:     t.TradeID,
			Symbol:      t.Symbol,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Price:       t.Price,
			Quantity:    decimal.NewFromInt(t.Quantity),
			Timestamp:   t.ExecutedAt,
		}
	}
	list := &cache.TradesList{Symbol: symbol, Trades: cacheEntries}
	if err := h.tradesCache.SetTrades(list, limit, 0); err != nil {
		logging.GetLogger().WithField("error", err.Error()).Warn("failed to populate trades cache")
	}
}

// HandleMarketSummary handles GET /market/{symbol}.
func (h *OrderHandlers) HandleMarketSummary(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if err := h.validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, hasBid := h.engine.BestBid(symbol)
	ask, hasAsk := h.engine.BestAsk(symbol)

	summary := map[string]interface{}{"symbol": symbol}
	if hasBid {
		summary["best_bid"] = bid.String()
	}
	if hasAsk {
		summary["best_ask"] = ask.String()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "market": summary})
}

// HandleMarketDepth handles GET /market/{symbol}/depth?levels=10.
func (h *OrderHandlers) HandleMarketDepth(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if err := h.validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	levels := parseLimit(r, 10, 100)
	if v := r.URL.Query().Get("levels"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			levels = n
		}
	}

	bids, asks := h.engine.Depth(symbol, levels)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"symbol":  symbol,
		"bids":    bids,
		"asks":    asks,
	})
}

type OrderGetter interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type OrderLister interface {
	ListUserOrders(ctx context.Context, clientID string, limit int) ([]*models.Order, error)
}

type TradeLister interface {
	ListTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)
}

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindInvalidState:
		return http.StatusConflict
	case engine.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	if statusCode == http.StatusInternalServerError {
		logging.GetLogger().WithField("error", message).Error("internal error")
		message = "internal server error"
	}
	respondJSON(w, statusCode, map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *OrderHandlers) checkIdempotencyKey(ctx context.Context, key string) (*OrderResponse, error) {
	redisKey := idempotencyRedisKey(key)
	cached, err := h.redisClient.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var response OrderResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (h *OrderHandlers) cacheIdempotencyResponse(ctx context.Context, key string, response *OrderResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	return h.redisClient.Set(ctx, idempotencyRedisKey(key), data, 24*time.Hour).Err()
}

func idempotencyRedisKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("idempotency:%s", hex.EncodeToString(hash[:]))
}
