package engine

import (
	"context"
	"testing"

	"github.com/coinmesh/matching-engine/models"
	"github.com/coinmesh/matching-engine/persistence"
	"github.com/shopspring/decimal"
)

func newTestEngine() (*MatchingEngine, persistence.Gateway) {
	gateway := persistence.NewMemoryStore()
	return NewMatchingEngine(gateway), gateway
}

func newOrder(clientID string, side models.OrderSide, price string, qty int64) *models.Order {
	return models.NewOrder(clientID, "BTC-USD", side, models.OrderTypeLimit, decimal.RequireFromString(price), qty)
}

func TestSubmitRestsWhenNoCross(t *testing.T) {
	me, _ := newTestEngine()
	order := newOrder("trader1", models.OrderSideBuy, "50000", 5)

	trades, err := me.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("expected pending status, got %s", order.Status)
	}

	best, ok := me.BestBid("BTC-USD")
	if !ok || !best.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("expected best bid 50000, got %v (ok=%v)", best, ok)
	}
}

func TestSubmitMatchesCrossingOrder(t *testing.T) {
	me, _ := newTestEngine()

	sell := newOrder("maker", models.OrderSideSell, "50000", 5)
	if _, err := me.Submit(context.Background(), sell); err != nil {
		t.Fatalf("submit sell: %v", err)
	}

	buy := newOrder("taker", models.OrderSideBuy, "50000", 3)
	trades, err := me.Submit(context.Background(), buy)
	if err != nil {
		t.Fatalf("submit buy: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Quantity != 3 {
		t.Errorf("expected trade quantity 3, got %d", trades[0].Quantity)
	}
	if !trades[0].Price.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("expected trade price 50000 (maker's resting price), got %s", trades[0].Price)
	}
	if buy.Status != models.OrderStatusFilled {
		t.Errorf("expected taker fully filled, got %s", buy.Status)
	}
	if sell.Status != models.OrderStatusPartial {
		t.Errorf("expected maker partially filled, got %s", sell.Status)
	}
}

func TestSubmitFIFOAtSamePriceLevel(t *testing.T) {
	me, _ := newTestEngine()

	first := newOrder("maker1", models.OrderSideSell, "50000", 5)
	second := newOrder("maker2", models.OrderSideSell, "50000", 5)
	if _, err := me.Submit(context.Background(), first); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if _, err := me.Submit(context.Background(), second); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	buy := newOrder("taker", models.OrderSideBuy, "50000", 5)
	trades, err := me.Submit(context.Background(), buy)
	if err != nil {
		t.Fatalf("submit buy: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade against the first resting order, got %d", len(trades))
	}
	if trades[0].SellOrderID != first.ID {
		t.Error("expected the earlier resting order to be matched first (FIFO)")
	}
}

func TestSubmitPartialFillAcrossMultipleLevels(t *testing.T) {
	me, _ := newTestEngine()

	me.Submit(context.Background(), newOrder("m1", models.OrderSideSell, "50000", 3))
	me.Submit(context.Background(), newOrder("m2", models.OrderSideSell, "50001", 3))

	buy := newOrder("taker", models.OrderSideBuy, "50001", 5)
	trades, err := me.Submit(context.Background(), buy)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades walking two price levels, got %d", len(trades))
	}
	if !trades[0].Price.Equal(decimal.RequireFromString("50000")) {
		t.Errorf("expected best (lowest ask) price matched first, got %s", trades[0].Price)
	}
	if buy.Status != models.OrderStatusFilled {
		t.Errorf("expected taker fully filled across two levels, got %s", buy.Status)
	}
}

func TestSubmitDoesNotCrossOutsideLimitPrice(t *testing.T) {
	me, _ := newTestEngine()

	me.Submit(context.Background(), newOrder("maker", models.OrderSideSell, "50000", 5))

	buy := newOrder("taker", models.OrderSideBuy, "49999", 5)
	trades, err := me.Submit(context.Background(), buy)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected no trade below the ask, got %d", len(trades))
	}
	if buy.Status != models.OrderStatusPending {
		t.Errorf("expected order to rest, got %s", buy.Status)
	}
}

func TestSubmitRejectsMarketOrder(t *testing.T) {
	me, _ := newTestEngine()
	order := models.NewOrder("trader1", "BTC-USD", models.OrderSideBuy, models.OrderTypeMarket, decimal.Zero, 1)

	_, err := me.Submit(context.Background(), order)
	if err == nil {
		t.Fatal("expected an error rejecting the market order")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected KindValidation, got %s", KindOf(err))
	}
}

func TestSubmitRejectsInvalidOrder(t *testing.T) {
	me, _ := newTestEngine()
	order := models.NewOrder("trader1", "BTC-USD", models.OrderSideBuy, models.OrderTypeLimit, decimal.Zero, 1)

	_, err := me.Submit(context.Background(), order)
	if err == nil {
		t.Fatal("expected an error for zero-price limit order")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected KindValidation, got %s", KindOf(err))
	}
}

func TestSelfTradeDefaultAllow(t *testing.T) {
	me, _ := newTestEngine()

	me.Submit(context.Background(), newOrder("trader1", models.OrderSideSell, "50000", 5))
	trades, err := me.Submit(context.Background(), newOrder("trader1", models.OrderSideBuy, "50000", 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("expected default self-trade policy to allow the match, got %d trades", len(trades))
	}
}

func TestSelfTradePolicyHookCanReject(t *testing.T) {
	me, _ := newTestEngine()
	me.SelfTradePolicy = func(incoming, resting *models.Order) bool {
		return incoming.ClientID != resting.ClientID
	}

	me.Submit(context.Background(), newOrder("trader1", models.OrderSideSell, "50000", 5))
	trades, err := me.Submit(context.Background(), newOrder("trader1", models.OrderSideBuy, "50000", 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("expected the custom policy to block the self-trade, got %d trades", len(trades))
	}
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	me, _ := newTestEngine()
	order := newOrder("trader1", models.OrderSideBuy, "50000", 5)
	me.Submit(context.Background(), order)

	cancelled, err := me.Cancel(context.Background(), "BTC-USD", order.ID.String())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.OrderStatusCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}
	if me.GetOrder("BTC-USD", order.ID.String()) != nil {
		t.Error("expected the order to no longer be resting")
	}
}

func TestCancelUnknownOrderReturnsNotFound(t *testing.T) {
	me, _ := newTestEngine()
	_, err := me.Cancel(context.Background(), "BTC-USD", "00000000-0000-0000-0000-000000000000")
	if KindOf(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %s", KindOf(err))
	}
}

func TestCancelUnknownSymbolReturnsNotFound(t *testing.T) {
	me, _ := newTestEngine()
	_, err := me.Cancel(context.Background(), "ETH-USD", "00000000-0000-0000-0000-000000000000")
	if KindOf(err) != KindNotFound {
		t.Errorf("expected KindNotFound for an unregistered symbol, got %s", KindOf(err))
	}
}

func TestModifyPriceChangeLosesPriority(t *testing.T) {
	me, _ := newTestEngine()
	first := newOrder("trader1", models.OrderSideBuy, "50000", 5)
	second := newOrder("trader2", models.OrderSideBuy, "50000", 5)
	me.Submit(context.Background(), first)
	me.Submit(context.Background(), second)

	newPrice := decimal.RequireFromString("50001")
	_, modified, err := me.Modify(context.Background(), "BTC-USD", first.ID.String(), &newPrice, nil)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if !modified.Price.Equal(newPrice) {
		t.Errorf("expected modified price 50001, got %s", modified.Price)
	}

	best, _ := me.BestBid("BTC-USD")
	if !best.Equal(newPrice) {
		t.Errorf("expected new best bid to reflect the repriced order, got %s", best)
	}

	original := decimal.RequireFromString("50000")
	if _, _, err := me.Modify(context.Background(), "BTC-USD", first.ID.String(), &original, nil); err != nil {
		t.Fatalf("modify back: %v", err)
	}
	trades, _ := me.Submit(context.Background(), newOrder("trader3", models.OrderSideSell, "50000", 5))
	if len(trades) != 1 || trades[0].BuyOrderID != second.ID {
		t.Error("expected the repriced order to queue behind the order that never moved")
	}
}

func TestModifyQuantityDecreaseKeepsPriority(t *testing.T) {
	me, _ := newTestEngine()
	order := newOrder("trader1", models.OrderSideBuy, "50000", 10)
	later := newOrder("trader2", models.OrderSideBuy, "50000", 5)
	me.Submit(context.Background(), order)
	me.Submit(context.Background(), later)

	newQty := int64(4)
	_, modified, err := me.Modify(context.Background(), "BTC-USD", order.ID.String(), nil, &newQty)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if modified.Quantity != 4 {
		t.Errorf("expected quantity 4, got %d", modified.Quantity)
	}
	if modified.ID != order.ID {
		t.Error("expected the same order to be modified in place on a quantity decrease")
	}

	trades, _ := me.Submit(context.Background(), newOrder("trader3", models.OrderSideSell, "50000", 4))
	if len(trades) != 1 || trades[0].BuyOrderID != order.ID {
		t.Error("expected the shrunk order to keep its place ahead of the later resting order")
	}
}

func TestModifyQuantityIncreaseLosesPriority(t *testing.T) {
	me, _ := newTestEngine()
	first := newOrder("trader1", models.OrderSideBuy, "50000", 5)
	second := newOrder("trader2", models.OrderSideBuy, "50000", 5)
	me.Submit(context.Background(), first)
	me.Submit(context.Background(), second)

	newQty := int64(10)
	_, modified, err := me.Modify(context.Background(), "BTC-USD", first.ID.String(), nil, &newQty)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if modified.ID != first.ID {
		t.Error("expected order_id to survive a quantity increase, only FIFO priority is lost")
	}
	if modified.Quantity != 10 {
		t.Errorf("expected quantity 10, got %d", modified.Quantity)
	}

	third := newOrder("trader3", models.OrderSideSell, "50000", 5)
	trades, _ := me.Submit(context.Background(), third)
	if len(trades) != 1 || trades[0].BuyOrderID != second.ID {
		t.Error("expected the un-modified resting order to retain priority over the resubmitted one")
	}
}

func TestModifyUnknownOrderReturnsNotFound(t *testing.T) {
	me, _ := newTestEngine()
	newQty := int64(1)
	_, _, err := me.Modify(context.Background(), "BTC-USD", "00000000-0000-0000-0000-000000000000", nil, &newQty)
	if KindOf(err) != KindNotFound {
		t.Errorf("expected KindNotFound, got %s", KindOf(err))
	}
}

func TestDepthReflectsPartialFillOfRestingOrder(t *testing.T) {
	me, _ := newTestEngine()
	sell := newOrder("s1", models.OrderSideSell, "150", 100)
	me.Submit(context.Background(), sell)

	buy := newOrder("b1", models.OrderSideBuy, "150", 60)
	trades, _ := me.Submit(context.Background(), buy)
	if len(trades) != 1 || trades[0].Quantity != 60 {
		t.Fatalf("expected a single 60-unit trade, got %+v", trades)
	}

	_, asks := me.Depth("BTC-USD", 10)
	if len(asks) != 1 || asks[0].Quantity != 40 {
		t.Errorf("expected best ask depth of 40 after the partial fill, got %+v", asks)
	}
}

func TestDepthReturnsAggregatedLevels(t *testing.T) {
	me, _ := newTestEngine()
	me.Submit(context.Background(), newOrder("m1", models.OrderSideBuy, "50000", 3))
	me.Submit(context.Background(), newOrder("m2", models.OrderSideBuy, "50000", 2))
	me.Submit(context.Background(), newOrder("m3", models.OrderSideSell, "50001", 4))

	bids, asks := me.Depth("BTC-USD", 10)
	if len(bids) != 1 || bids[0].Quantity != 5 {
		t.Errorf("expected one aggregated bid level of quantity 5, got %+v", bids)
	}
	if len(asks) != 1 || asks[0].Quantity != 4 {
		t.Errorf("expected one ask level of quantity 4, got %+v", asks)
	}
}

func TestSymbolsTracksRegisteredBooks(t *testing.T) {
	me, _ := newTestEngine()
	me.Submit(context.Background(), newOrder("t1", models.OrderSideBuy, "50000", 1))
	me.Submit(context.Background(), models.NewOrder("t2", "ETH-USD", models.OrderSideBuy, models.OrderTypeLimit, decimal.RequireFromString("3000"), 1))

	symbols := me.Symbols()
	if len(symbols) != 2 {
		t.Fatalf("expected 2 registered symbols, got %d: %v", len(symbols), symbols)
	}
}

func TestSubmitPersistsOrderToGateway(t *testing.T) {
	me, gateway := newTestEngine()
	order := newOrder("trader1", models.OrderSideBuy, "50000", 5)

	if _, err := me.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, err := gateway.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.ID != order.ID {
		t.Error("expected the order to be persisted through the gateway")
	}
}
