package engine

import (
	"container/list"

	"github.com/coinmesh/matching-engine/models"
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue of resting orders at one price on one side.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders *list.List
	Volume int64
}

// NewPriceLevel creates a new, empty price level.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: list.New(),
	}
}

// AddOrder appends an order to the tail of the level's FIFO queue.
func (pl *PriceLevel) AddOrder(order *models.Order) *list.Element {
	element := pl.Orders.PushBack(order)
	pl.Volume += order.RemainingQuantity()
	return element
}

// RemoveOrder removes a resting order given its list handle.
func (pl *PriceLevel) RemoveOrder(element *list.Element) {
	if element == nil {
		return
	}
	order := element.Value.(*models.Order)
	pl.Volume -= order.RemainingQuantity()
	pl.Orders.Remove(element)
}

// PushFront restores an order to the head of the level's FIFO queue,
// used only to undo a match that must be rolled back after a persistence
// failure — it existed at the front relative to the orders behind it
// before the match consumed it.
func (pl *PriceLevel) PushFront(order *models.Order) *list.Element {
	element := pl.Orders.PushFront(order)
	pl.Volume += order.RemainingQuantity()
	return element
}

// IsEmpty reports whether the level has no resting orders left.
func (pl *PriceLevel) IsEmpty() bool {
	return pl.Orders.Len() == 0
}

// Less implements btree.Item so PriceLevels order by ascending price.
func (pl *PriceLevel) Less(than btree.Item) bool {
	other := than.(*PriceLevel)
	return pl.Price.LessThan(other.Price)
}

// OrderBookSide is one side (bids or asks) of a symbol's book: an ordered
// map of price to PriceLevel, backed by a btree for O(log L) insert/remove
// and O(log L) best-price lookup via Min/Max.
type OrderBookSide struct {
	tree *btree.BTree
}

// NewOrderBookSide creates an empty side.
func NewOrderBookSide() *OrderBookSide {
	return &OrderBookSide{tree: btree.New(32)}
}

// GetOrCreatePriceLevel returns the level at price, creating it if absent.
func (obs *OrderBookSide) GetOrCreatePriceLevel(price decimal.Decimal) *PriceLevel {
	search := &PriceLevel{Price: price}
	if item := obs.tree.Get(search); item != nil {
		return item.(*PriceLevel)
	}
	level := NewPriceLevel(price)
	obs.tree.ReplaceOrInsert(level)
	return level
}

// GetPriceLevel returns the level at price, or nil if none exists.
func (obs *OrderBookSide) GetPriceLevel(price decimal.Decimal) *PriceLevel {
	if item := obs.tree.Get(&PriceLevel{Price: price}); item != nil {
		return item.(*PriceLevel)
	}
	return nil
}

// RemovePriceLevel deletes the level at price from the tree.
func (obs *OrderBookSide) RemovePriceLevel(price decimal.Decimal) {
	obs.tree.Delete(&PriceLevel{Price: price})
}

// GetBestPrice returns the best level for this side: the max for bids
// (highest price), the min for asks (lowest price). Empty levels are never
// stored, so there is no lazy-pop rule to apply here — unlike a
// heap-of-prices approach, deleting the last order at a price removes the
// tree node immediately (see RemoveOrder below).
func (obs *OrderBookSide) GetBestPrice(isBid bool) *PriceLevel {
	var item btree.Item
	if isBid {
		item = obs.tree.Max()
	} else {
		item = obs.tree.Min()
	}
	if item != nil {
		return item.(*PriceLevel)
	}
	return nil
}

// Ascend iterates price levels from lowest to highest price.
func (obs *OrderBookSide) Ascend(iterator btree.ItemIterator) {
	obs.tree.Ascend(iterator)
}

// Descend iterates price levels from highest to lowest price.
func (obs *OrderBookSide) Descend(iterator btree.ItemIterator) {
	obs.tree.Descend(iterator)
}

// Len returns the number of distinct price levels on this side.
func (obs *OrderBookSide) Len() int {
	return obs.tree.Len()
}

// OrderLocation tracks where a resting order lives in the book, for O(1)
// cancel/modify.
type OrderLocation struct {
	Side       models.OrderSide
	PriceLevel *PriceLevel
	Element    *list.Element
}

// OrderBook is the complete book for one symbol: two priority structures
// plus an id-index. It holds no lock of its own — the caller (the
// MatchingEngine, via the symbol's mutex) is responsible for exclusivity.
type OrderBook struct {
	Symbol string
	Bids   *OrderBookSide
	Asks   *OrderBookSide
	Orders map[string]*OrderLocation
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   NewOrderBookSide(),
		Asks:   NewOrderBookSide(),
		Orders: make(map[string]*OrderLocation),
	}
}

func (ob *OrderBook) sideFor(side models.OrderSide) *OrderBookSide {
	if side == models.OrderSideBuy {
		return ob.Bids
	}
	return ob.Asks
}

// AddOrder inserts order at the tail of its price level's FIFO queue and
// registers it in the id-index. Used both for resting a residual after
// matching and for direct recovery inserts that must not re-match.
func (ob *OrderBook) AddOrder(order *models.Order) {
	side := ob.sideFor(order.Side)
	level := side.GetOrCreatePriceLevel(order.Price)
	element := level.AddOrder(order)
	ob.Orders[order.ID.String()] = &OrderLocation{
		Side:       order.Side,
		PriceLevel: level,
		Element:    element,
	}
}

// RemoveOrder removes an order from its price level and the id-index,
// pruning the level from the tree if it becomes empty. Returns the removed
// order, or nil if orderID is unknown.
func (ob *OrderBook) RemoveOrder(orderID string) *models.Order {
	location, exists := ob.Orders[orderID]
	if !exists {
		return nil
	}

	order := location.Element.Value.(*models.Order)
	location.PriceLevel.RemoveOrder(location.Element)

	if location.PriceLevel.IsEmpty() {
		ob.sideFor(location.Side).RemovePriceLevel(location.PriceLevel.Price)
	}

	delete(ob.Orders, orderID)
	return order
}

// RestoreOrder re-inserts an order at the head of its price level's queue,
// recreating the level if it was pruned. Used only to undo a match on
// persistence-failure rollback; ordinary insertion always uses AddOrder.
func (ob *OrderBook) RestoreOrder(order *models.Order) {
	side := ob.sideFor(order.Side)
	level := side.GetOrCreatePriceLevel(order.Price)
	element := level.PushFront(order)
	ob.Orders[order.ID.String()] = &OrderLocation{
		Side:       order.Side,
		PriceLevel: level,
		Element:    element,
	}
}

// GetOrder retrieves a resting order by id, or nil if not resting.
func (ob *OrderBook) GetOrder(orderID string) *models.Order {
	location, exists := ob.Orders[orderID]
	if !exists {
		return nil
	}
	return location.Element.Value.(*models.Order)
}

// AdjustVolume updates a resting order's price level's cached volume by
// delta, for callers that change an order's remaining quantity in place
// (a quantity modify) without removing and re-adding it through
// RemoveOrder/AddOrder.
func (ob *OrderBook) AdjustVolume(orderID string, delta int64) {
	location, exists := ob.Orders[orderID]
	if !exists {
		return
	}
	location.PriceLevel.Volume += delta
}

// GetBestBid returns the highest bid level, or nil if there are no bids.
func (ob *OrderBook) GetBestBid() *PriceLevel {
	return ob.Bids.GetBestPrice(true)
}

// GetBestAsk returns the lowest ask level, or nil if there are no asks.
func (ob *OrderBook) GetBestAsk() *PriceLevel {
	return ob.Asks.GetBestPrice(false)
}

// GetTopLevels returns the top n price levels for bids (highest first) and
// asks (lowest first).
func (ob *OrderBook) GetTopLevels(n int) (bids, asks []*PriceLevel) {
	bids = make([]*PriceLevel, 0, n)
	asks = make([]*PriceLevel, 0, n)

	count := 0
	ob.Bids.Descend(func(item btree.Item) bool {
		if count >= n {
			return false
		}
		bids = append(bids, item.(*PriceLevel))
		count++
		return true
	})

	count = 0
	ob.Asks.Ascend(func(item btree.Item) bool {
		if count >= n {
			return false
		}
		asks = append(asks, item.(*PriceLevel))
		count++
		return true
	})

	return bids, asks
}

// Size returns the total number of resting orders in the book.
func (ob *OrderBook) Size() int {
	return len(ob.Orders)
}

// BidDepth returns the number of resting buy orders.
func (ob *OrderBook) BidDepth() int {
	count := 0
	ob.Bids.Descend(func(i btree.Item) bool {
		count += i.(*PriceLevel).Orders.Len()
		return true
	})
	return count
}

// AskDepth returns the number of resting sell orders.
func (ob *OrderBook) AskDepth() int {
	count := 0
	ob.Asks.Ascend(func(i btree.Item) bool {
		count += i.(*PriceLevel).Orders.Len()
		return true
	})
	return count
}
