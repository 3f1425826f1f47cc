package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/metrics"
	"github.com/coinmesh/matching-engine/models"
	"github.com/coinmesh/matching-engine/persistence"
	"github.com/shopspring/decimal"
)

// SelfTradePolicy decides whether an incoming order is allowed to match
// against a specific resting order from the opposite side. The default
// policy always allows the match; an operator can install a stricter one.
type SelfTradePolicy func(incoming, resting *models.Order) bool

func allowSelfTrade(incoming, resting *models.Order) bool { return true }

// DepthLevel is one aggregated price/quantity pair in a depth snapshot.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// symbolBook pairs one symbol's OrderBook with the mutex that serializes
// every mutation of it, plus that book's own monotonic sequence counter.
// The mutex is plain, not reentrant — no operation here reacquires its own
// book's lock.
type symbolBook struct {
	mu       sync.Mutex
	book     *OrderBook
	sequence uint64
}

func (sb *symbolBook) nextSequence() uint64 {
	sb.sequence++
	return sb.sequence
}

// MatchingEngine is the registry of per-symbol order books. Symbols are
// created lazily on first reference. Looking up or creating a book only
// ever holds the registry's own RWMutex, distinct from any book's mutex, so
// resolving symbol A never contends with matching on symbol B.
type MatchingEngine struct {
	registryMu sync.RWMutex
	books      map[string]*symbolBook

	gateway persistence.Gateway
	eventBus *EventBus

	SelfTradePolicy SelfTradePolicy
}

// NewMatchingEngine creates a registry backed by gateway for durable writes.
func NewMatchingEngine(gateway persistence.Gateway) *MatchingEngine {
	return &MatchingEngine{
		books:           make(map[string]*symbolBook),
		gateway:         gateway,
		eventBus:        NewEventBus(),
		SelfTradePolicy: allowSelfTrade,
	}
}

func (me *MatchingEngine) EventBus() *EventBus { return me.eventBus }

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (me *MatchingEngine) getOrCreateBook(symbol string) *symbolBook {
	me.registryMu.RLock()
	sb, ok := me.books[symbol]
	me.registryMu.RUnlock()
	if ok {
		return sb
	}

	me.registryMu.Lock()
	defer me.registryMu.Unlock()
	if sb, ok := me.books[symbol]; ok {
		return sb
	}
	sb = &symbolBook{book: NewOrderBook(symbol)}
	me.books[symbol] = sb
	return sb
}

func (me *MatchingEngine) getBook(symbol string) (*symbolBook, bool) {
	me.registryMu.RLock()
	defer me.registryMu.RUnlock()
	sb, ok := me.books[symbol]
	return sb, ok
}

// Symbols returns every symbol with a registered book, for use by the
// snapshot loop and recovery manager.
func (me *MatchingEngine) Symbols() []string {
	me.registryMu.RLock()
	defer me.registryMu.RUnlock()
	out := make([]string, 0, len(me.books))
	for s := range me.books {
		out = append(out, s)
	}
	return out
}

// fillSnapshot captures the mutable fields of an order touched by a match,
// so the mutation can be undone if persistence fails after matching.
type fillSnapshot struct {
	order          *models.Order
	filledQuantity int64
	status         models.OrderStatus
	updatedAt      time.Time
}

func snapshotOf(order *models.Order) fillSnapshot {
	return fillSnapshot{
		order:          order,
		filledQuantity: order.FilledQuantity,
		status:         order.Status,
		updatedAt:      order.UpdatedAt,
	}
}

func (s fillSnapshot) restore() {
	s.order.FilledQuantity = s.filledQuantity
	s.order.Status = s.status
	s.order.UpdatedAt = s.updatedAt
}

// Submit accepts a new order, matches it against the resting book under the
// symbol's mutex, persists the outcome, and returns the trades generated.
// On a persistence failure the in-memory book is rolled back to its
// pre-call state and a KindPersistence error is returned.
func (me *MatchingEngine) Submit(ctx context.Context, order *models.Order) ([]*models.Trade, error) {
	if !order.IsValid() {
		return nil, newErr(KindValidation, "order failed validation")
	}
	if order.Type != models.OrderTypeLimit {
		return nil, newErr(KindValidation, "only limit orders are accepted")
	}

	order.Symbol = normalizeSymbol(order.Symbol)
	sb := me.getOrCreateBook(order.Symbol)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	trades, snapshots, restingRemoved := me.matchLimitOrder(sb, order)

	rested := order.CanBeFilled() && !order.IsFilled()
	if rested {
		order.Sequence = sb.nextSequence()
		sb.book.AddOrder(order)
	}

	if err := me.persistSubmit(ctx, order, trades, snapshots); err != nil {
		me.rollbackSubmit(sb, order, rested, snapshots, restingRemoved)
		return nil, wrapErr(KindPersistence, "failed to persist submit", err)
	}

	me.publishSubmitEvents(order, trades, rested)
	me.updateOrderbookMetrics(order.Symbol)

	return trades, nil
}

func (me *MatchingEngine) rollbackSubmit(sb *symbolBook, order *models.Order, rested bool, snapshots []fillSnapshot, restingRemoved []*models.Order) {
	if rested {
		sb.book.RemoveOrder(order.ID.String())
	}
	for _, s := range snapshots {
		s.restore()
	}
	for _, o := range restingRemoved {
		sb.book.RestoreOrder(o)
	}
}

// persistSubmit writes the order and, if any fills occurred, the trades
// plus every touched order's new fill state (the aggressor and every
// resting order matched against it) in one call to the gateway.
func (me *MatchingEngine) persistSubmit(ctx context.Context, order *models.Order, trades []*models.Trade, snapshots []fillSnapshot) error {
	if err := me.gateway.InsertOrder(ctx, order); err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	updates := make([]*persistence.OrderFillUpdate, 0, len(snapshots)+1)
	updates = append(updates, &persistence.OrderFillUpdate{
		OrderID:        order.ID,
		FilledQuantity: order.FilledQuantity,
		Status:         order.Status,
		UpdatedAt:      order.UpdatedAt,
	})
	for _, s := range snapshots {
		updates = append(updates, &persistence.OrderFillUpdate{
			OrderID:        s.order.ID,
			FilledQuantity: s.order.FilledQuantity,
			Status:         s.order.Status,
			UpdatedAt:      s.order.UpdatedAt,
		})
	}

	return me.gateway.InsertTrades(ctx, trades, updates)
}

// persistResubmit writes a modified order's new price/quantity/status back
// to its existing persisted row, preserving its order_id across the
// cancel+resubmit path (unlike persistSubmit's InsertOrder, which is for
// orders that have never been persisted before).
func (me *MatchingEngine) persistResubmit(ctx context.Context, order *models.Order, trades []*models.Trade, snapshots []fillSnapshot) error {
	if err := me.gateway.ReplaceOrder(ctx, order); err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	updates := make([]*persistence.OrderFillUpdate, 0, len(snapshots))
	for _, s := range snapshots {
		updates = append(updates, &persistence.OrderFillUpdate{
			OrderID:        s.order.ID,
			FilledQuantity: s.order.FilledQuantity,
			Status:         s.order.Status,
			UpdatedAt:      s.order.UpdatedAt,
		})
	}

	return me.gateway.InsertTrades(ctx, trades, updates)
}

func (me *MatchingEngine) publishSubmitEvents(order *models.Order, trades []*models.Trade, rested bool) {
	for _, t := range trades {
		metrics.RecordTrade(order.Symbol, float64(t.Quantity))
		me.eventBus.Publish(Event{
			Type:      EventTypeNewTrade,
			Timestamp: time.Now(),
			Data: NewTradeEvent{
				TradeID:     t.TradeID,
				Symbol:      t.Symbol,
				BuyOrderID:  t.BuyOrderID,
				SellOrderID: t.SellOrderID,
				Price:       t.Price,
				Quantity:    t.Quantity,
				Timestamp:   t.ExecutedAt,
			},
		})
	}

	if rested {
		metrics.RecordOrderReceived(order.Symbol, string(order.Side), string(order.Type))
		side := "buy"
		if order.Side == models.OrderSideSell {
			side = "sell"
		}
		me.eventBus.Publish(Event{
			Type:      EventTypeOrderbookChange,
			Timestamp: time.Now(),
			Data: OrderbookChangeEvent{
				Symbol:    order.Symbol,
				Side:      side,
				Action:    "add",
				Price:     order.Price,
				NewSize:   order.RemainingQuantity(),
				OldSize:   0,
				Timestamp: time.Now(),
			},
		})
	}

	me.eventBus.Publish(Event{
		Type:      EventTypeOrderPlaced,
		Timestamp: time.Now(),
		Data:      orderEventFrom(order),
	})
}

func orderEventFrom(order *models.Order) OrderEvent {
	return OrderEvent{
		OrderID:           order.ID,
		ClientID:          order.ClientID,
		Symbol:            order.Symbol,
		Side:              string(order.Side),
		Status:            string(order.Status),
		Price:             order.Price,
		Quantity:          order.Quantity,
		FilledQuantity:    order.FilledQuantity,
		RemainingQuantity: order.RemainingQuantity(),
		Timestamp:         order.UpdatedAt,
	}
}

// matchLimitOrder runs the core matching algorithm for a limit order against
// the opposite side of the book. It returns the trades generated, the
// snapshots needed to undo every fill, and the resting orders that were
// fully removed from the book (for rollback re-insertion).
func (me *MatchingEngine) matchLimitOrder(sb *symbolBook, aggressor *models.Order) ([]*models.Trade, []fillSnapshot, []*models.Order) {
	var trades []*models.Trade
	var snapshots []fillSnapshot
	var removed []*models.Order

	for aggressor.RemainingQuantity() > 0 {
		var level *PriceLevel
		if aggressor.Side == models.OrderSideBuy {
			level = sb.book.GetBestAsk()
		} else {
			level = sb.book.GetBestBid()
		}
		if level == nil {
			break
		}

		crosses := false
		if aggressor.Side == models.OrderSideBuy {
			crosses = aggressor.Price.GreaterThanOrEqual(level.Price)
		} else {
			crosses = aggressor.Price.LessThanOrEqual(level.Price)
		}
		if !crosses {
			break
		}

		levelTrades, levelSnapshots, levelRemoved, progressed := me.matchAgainstLevel(sb, aggressor, level)
		trades = append(trades, levelTrades...)
		snapshots = append(snapshots, levelSnapshots...)
		removed = append(removed, levelRemoved...)

		if !progressed {
			// Every resting order at this level was skipped by the
			// self-trade policy; nothing more can be done at this price.
			break
		}
	}

	return trades, snapshots, removed
}

// matchAgainstLevel walks a price level's FIFO queue, matching the
// aggressor against resting orders in arrival order. Orders the self-trade
// policy rejects are skipped in place, preserving FIFO order for everyone
// else. Returns whether any match actually happened at this level.
func (me *MatchingEngine) matchAgainstLevel(sb *symbolBook, aggressor *models.Order, level *PriceLevel) ([]*models.Trade, []fillSnapshot, []*models.Order, bool) {
	var trades []*models.Trade
	var snapshots []fillSnapshot
	var removed []*models.Order
	progressed := false

	element := level.Orders.Front()
	for element != nil && aggressor.RemainingQuantity() > 0 {
		next := element.Next()
		resting := element.Value.(*models.Order)

		if !me.SelfTradePolicy(aggressor, resting) {
			element = next
			continue
		}

		snapshots = append(snapshots, snapshotOf(resting))

		fillQty := aggressor.RemainingQuantity()
		if resting.RemainingQuantity() < fillQty {
			fillQty = resting.RemainingQuantity()
		}
		tradePrice := resting.Price

		var trade *models.Trade
		buyerClient, sellerClient := resting.ClientID, aggressor.ClientID
		if aggressor.Side == models.OrderSideBuy {
			trade = models.NewTrade(aggressor.ID, resting.ID, aggressor.Symbol, tradePrice, fillQty)
			buyerClient, sellerClient = aggressor.ClientID, resting.ClientID
		} else {
			trade = models.NewTrade(resting.ID, aggressor.ID, aggressor.Symbol, tradePrice, fillQty)
		}

		aggressor.Fill(fillQty)
		resting.Fill(fillQty)
		level.Volume -= fillQty
		trades = append(trades, trade)
		progressed = true

		logging.LogTradeExecuted(trade.TradeID.String(), trade.BuyOrderID.String(), trade.SellOrderID.String(),
			trade.Symbol, trade.Price, trade.Quantity, buyerClient, sellerClient)

		if resting.IsFilled() {
			sb.book.RemoveOrder(resting.ID.String())
			removed = append(removed, resting)
			metrics.RecordOrderMatched(aggressor.Symbol, string(resting.Side))
		}

		element = next
	}

	return trades, snapshots, removed, progressed
}

func priceFloat(p decimal.Decimal) float64 {
	f, _ := p.Float64()
	return f
}

// Cancel removes a resting order from its book and persists the
// cancellation. Returns KindNotFound if the order is unknown or already
// terminal.
func (me *MatchingEngine) Cancel(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	symbol = normalizeSymbol(symbol)
	sb, ok := me.getBook(symbol)
	if !ok {
		return nil, newErr(KindNotFound, "unknown symbol")
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	order := sb.book.RemoveOrder(orderID)
	if order == nil {
		return nil, newErr(KindNotFound, "order not found")
	}

	before := *order
	order.Cancel()

	if err := me.gateway.UpdateOrderFill(ctx, &persistence.OrderFillUpdate{
		OrderID:        order.ID,
		FilledQuantity: order.FilledQuantity,
		Status:         order.Status,
		UpdatedAt:      order.UpdatedAt,
	}); err != nil {
		*order = before
		sb.book.RestoreOrder(order)
		return nil, wrapErr(KindPersistence, "failed to persist cancel", err)
	}

	side := "buy"
	if order.Side == models.OrderSideSell {
		side = "sell"
	}
	me.eventBus.Publish(Event{
		Type:      EventTypeOrderCancelled,
		Timestamp: time.Now(),
		Data:      orderEventFrom(order),
	})
	me.eventBus.Publish(Event{
		Type:      EventTypeOrderbookChange,
		Timestamp: time.Now(),
		Data: OrderbookChangeEvent{
			Symbol:    order.Symbol,
			Side:      side,
			Action:    "remove",
			Price:     order.Price,
			NewSize:   0,
			OldSize:   order.RemainingQuantity(),
			Timestamp: time.Now(),
		},
	})
	me.updateOrderbookMetrics(symbol)

	return order, nil
}

// Modify applies §4.3's modify semantics: a price change or quantity
// increase is a cancel+resubmit (loses priority); a quantity decrease that
// stays above the filled quantity shrinks in place (keeps priority); a
// decrease to exactly the filled quantity marks the order FILLED and removes
// it from the book; a decrease below the filled quantity is INVALID_STATE.
func (me *MatchingEngine) Modify(ctx context.Context, symbol, orderID string, newPrice *decimal.Decimal, newQuantity *int64) ([]*models.Trade, *models.Order, error) {
	symbol = normalizeSymbol(symbol)
	sb, ok := me.getBook(symbol)
	if !ok {
		return nil, nil, newErr(KindNotFound, "unknown symbol")
	}

	sb.mu.Lock()
	order := sb.book.GetOrder(orderID)
	if order == nil {
		sb.mu.Unlock()
		return nil, nil, newErr(KindNotFound, "order not found")
	}

	priceChanged := newPrice != nil && !newPrice.Equal(order.Price)
	quantityIncreased := newQuantity != nil && *newQuantity > order.Quantity

	if priceChanged || quantityIncreased {
		defer sb.mu.Unlock()

		before := *order
		sb.book.RemoveOrder(orderID)

		if newPrice != nil {
			order.Price = *newPrice
		}
		if newQuantity != nil {
			order.Quantity = *newQuantity
		}
		order.UpdatedAt = time.Now()

		trades, snapshots, restingRemoved := me.matchLimitOrder(sb, order)

		rested := order.CanBeFilled() && !order.IsFilled()
		if rested {
			order.Sequence = sb.nextSequence()
			sb.book.AddOrder(order)
		}

		if err := me.persistResubmit(ctx, order, trades, snapshots); err != nil {
			me.rollbackSubmit(sb, order, rested, snapshots, restingRemoved)
			*order = before
			sb.book.RestoreOrder(order)
			return nil, nil, wrapErr(KindPersistence, "failed to persist modify", err)
		}

		me.publishSubmitEvents(order, trades, rested)
		me.updateOrderbookMetrics(symbol)

		return trades, order, nil
	}
	defer sb.mu.Unlock()

	if newQuantity == nil {
		return nil, order, nil
	}

	if *newQuantity <= order.FilledQuantity {
		if *newQuantity == order.FilledQuantity {
			before := *order
			oldRemaining := order.RemainingQuantity()
			order.Quantity = *newQuantity
			order.Status = models.OrderStatusFilled
			order.UpdatedAt = time.Now()
			sb.book.AdjustVolume(orderID, -oldRemaining)
			sb.book.RemoveOrder(orderID)

			if err := me.gateway.UpdateOrderFill(ctx, &persistence.OrderFillUpdate{
				OrderID: order.ID, FilledQuantity: order.FilledQuantity, Status: order.Status, UpdatedAt: order.UpdatedAt,
			}); err != nil {
				*order = before
				sb.book.RestoreOrder(order)
				return nil, nil, wrapErr(KindPersistence, "failed to persist modify", err)
			}
			return nil, order, nil
		}
		return nil, nil, newErr(KindInvalidState, "new quantity must exceed filled quantity")
	}

	before := *order
	oldRemaining := order.RemainingQuantity()
	order.Quantity = *newQuantity
	order.UpdatedAt = time.Now()
	sb.book.AdjustVolume(orderID, order.RemainingQuantity()-oldRemaining)

	if err := me.gateway.UpdateOrderFill(ctx, &persistence.OrderFillUpdate{
		OrderID: order.ID, FilledQuantity: order.FilledQuantity, Status: order.Status, UpdatedAt: order.UpdatedAt,
	}); err != nil {
		sb.book.AdjustVolume(orderID, oldRemaining-order.RemainingQuantity())
		*order = before
		return nil, nil, wrapErr(KindPersistence, "failed to persist modify", err)
	}

	return nil, order, nil
}

// GetOrder looks up a resting order in-memory only; terminal orders must be
// read from the persistence gateway.
func (me *MatchingEngine) GetOrder(symbol, orderID string) *models.Order {
	sb, ok := me.getBook(normalizeSymbol(symbol))
	if !ok {
		return nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.book.GetOrder(orderID)
}

// BestBid returns the highest resting bid price for symbol.
func (me *MatchingEngine) BestBid(symbol string) (decimal.Decimal, bool) {
	sb, ok := me.getBook(normalizeSymbol(symbol))
	if !ok {
		return decimal.Zero, false
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	level := sb.book.GetBestBid()
	if level == nil {
		return decimal.Zero, false
	}
	return level.Price, true
}

// BestAsk returns the lowest resting ask price for symbol.
func (me *MatchingEngine) BestAsk(symbol string) (decimal.Decimal, bool) {
	sb, ok := me.getBook(normalizeSymbol(symbol))
	if !ok {
		return decimal.Zero, false
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	level := sb.book.GetBestAsk()
	if level == nil {
		return decimal.Zero, false
	}
	return level.Price, true
}

// Depth returns the top n aggregated price levels on each side.
func (me *MatchingEngine) Depth(symbol string, n int) (bids, asks []DepthLevel) {
	sb, ok := me.getBook(normalizeSymbol(symbol))
	if !ok {
		return nil, nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()

	bidLevels, askLevels := sb.book.GetTopLevels(n)
	for _, l := range bidLevels {
		bids = append(bids, DepthLevel{Price: l.Price, Quantity: l.Volume})
	}
	for _, l := range askLevels {
		asks = append(asks, DepthLevel{Price: l.Price, Quantity: l.Volume})
	}
	return bids, asks
}

// RecoverOrder re-inserts an already-persisted, non-terminal order directly
// into a symbol's book without running it through the matching algorithm —
// used only by RecoveryManager at startup, since re-matching an order that
// already has persisted fills would double-execute trades.
func (me *MatchingEngine) RecoverOrder(order *models.Order) {
	symbol := normalizeSymbol(order.Symbol)
	sb := me.getOrCreateBook(symbol)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	order.Sequence = sb.nextSequence()
	sb.book.AddOrder(order)
}

// TrySnapshotBook hands fn a read-only view of a symbol's book and its
// current sequence number, but only if the symbol's mutex is free right now.
// It never blocks: if matching currently holds the lock, it returns false so
// a periodic caller (the snapshot loop) can skip this symbol for one tick
// instead of stalling behind live order flow.
func (me *MatchingEngine) TrySnapshotBook(symbol string, fn func(book *OrderBook, sequence uint64)) bool {
	sb, ok := me.getBook(normalizeSymbol(symbol))
	if !ok {
		return false
	}
	if !sb.mu.TryLock() {
		return false
	}
	defer sb.mu.Unlock()
	fn(sb.book, sb.sequence)
	return true
}

func (me *MatchingEngine) updateOrderbookMetrics(symbol string) {
	sb, ok := me.getBook(symbol)
	if !ok {
		return
	}
	bidDepth := sb.book.BidDepth()
	askDepth := sb.book.AskDepth()
	metrics.UpdateOrderbookDepth(symbol, "buy", float64(bidDepth))
	metrics.UpdateOrderbookDepth(symbol, "sell", float64(askDepth))

	bestBidPrice, bestAskPrice := 0.0, 0.0
	if level := sb.book.GetBestBid(); level != nil {
		bestBidPrice = priceFloat(level.Price)
	}
	if level := sb.book.GetBestAsk(); level != nil {
		bestAskPrice = priceFloat(level.Price)
	}
	metrics.UpdateBestPrices(symbol, bestBidPrice, bestAskPrice)
}
