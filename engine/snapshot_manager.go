package engine

import (
	"log"
	"sync"
	"time"

	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/metrics"
	"github.com/shopspring/decimal"
)

// BookSnapshot is one symbol's top-of-book/depth state as of a single
// read of its book under that symbol's mutex.
type BookSnapshot struct {
	Symbol       string
	BidLevels    []SnapshotPriceLevel
	AskLevels    []SnapshotPriceLevel
	BestBidPrice *decimal.Decimal
	BestAskPrice *decimal.Decimal
	Spread       *decimal.Decimal
	Sequence     uint64
	Timestamp    time.Time
}

// SnapshotPriceLevel is one aggregated price/quantity/order-count triple.
type SnapshotPriceLevel struct {
	Price      decimal.Decimal
	TotalQty   int64
	OrderCount int
}

// SnapshotManager periodically walks every registered symbol's book and
// hands a consistent top-of-book view to a small set of observers: a log
// line, Prometheus gauges, and (if wired) a Redis write-through cache. It
// never blocks matching: each symbol is read under a TryLock, and a symbol
// whose mutex is currently held is simply skipped for that tick.
type SnapshotManager struct {
	engine     *MatchingEngine
	orderCache *cache.OrderbookCache
	maxLevels  int
	interval   time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSnapshotManager creates a manager that snapshots every symbol known to
// engine every interval, up to maxLevels price levels per side. orderCache
// may be nil, in which case cache write-through is simply skipped.
func NewSnapshotManager(engine *MatchingEngine, orderCache *cache.OrderbookCache, interval time.Duration, maxLevels int) *SnapshotManager {
	return &SnapshotManager{
		engine:     engine,
		orderCache: orderCache,
		maxLevels:  maxLevels,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic snapshot loop in a background goroutine.
func (sm *SnapshotManager) Start() {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = true
	sm.mu.Unlock()

	sm.wg.Add(1)
	go sm.loop()

	log.Printf("snapshot manager started (interval: %v, max levels: %d)", sm.interval, sm.maxLevels)
}

// Stop signals the loop to exit and waits for it to finish.
func (sm *SnapshotManager) Stop() {
	sm.mu.Lock()
	if !sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = false
	sm.mu.Unlock()

	close(sm.stopCh)
	sm.wg.Wait()
	log.Println("snapshot manager stopped")
}

func (sm *SnapshotManager) loop() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			sm.TakeAll()
		}
	}
}

// TakeAll snapshots every currently-registered symbol once. Symbols whose
// mutex is contended at the moment of the attempt are skipped and logged;
// they will be picked up again on the next tick.
func (sm *SnapshotManager) TakeAll() {
	for _, symbol := range sm.engine.Symbols() {
		snapshot, ok := sm.take(symbol)
		if !ok {
			log.Printf("snapshot: skipped %s this tick, book was busy", symbol)
			continue
		}
		sm.publish(snapshot)
	}
}

func (sm *SnapshotManager) take(symbol string) (*BookSnapshot, bool) {
	var snapshot *BookSnapshot
	ok := sm.engine.TrySnapshotBook(symbol, func(book *OrderBook, sequence uint64) {
		bidLevels, askLevels := book.GetTopLevels(sm.maxLevels)
		snapshot = &BookSnapshot{
			Symbol:    symbol,
			BidLevels: make([]SnapshotPriceLevel, 0, len(bidLevels)),
			AskLevels: make([]SnapshotPriceLevel, 0, len(askLevels)),
			Sequence:  sequence,
			Timestamp: time.Now(),
		}
		for _, l := range bidLevels {
			snapshot.BidLevels = append(snapshot.BidLevels, SnapshotPriceLevel{
				Price: l.Price, TotalQty: l.Volume, OrderCount: l.Orders.Len(),
			})
		}
		for _, l := range askLevels {
			snapshot.AskLevels = append(snapshot.AskLevels, SnapshotPriceLevel{
				Price: l.Price, TotalQty: l.Volume, OrderCount: l.Orders.Len(),
			})
		}
		if len(snapshot.BidLevels) > 0 {
			p := snapshot.BidLevels[0].Price
			snapshot.BestBidPrice = &p
		}
		if len(snapshot.AskLevels) > 0 {
			p := snapshot.AskLevels[0].Price
			snapshot.BestAskPrice = &p
		}
		if snapshot.BestBidPrice != nil && snapshot.BestAskPrice != nil {
			spread := snapshot.BestAskPrice.Sub(*snapshot.BestBidPrice)
			snapshot.Spread = &spread
		}
	})
	return snapshot, ok
}

func (sm *SnapshotManager) publish(snapshot *BookSnapshot) {
	log.Printf("snapshot %s: %d bid levels, %d ask levels, seq=%d",
		snapshot.Symbol, len(snapshot.BidLevels), len(snapshot.AskLevels), snapshot.Sequence)

	// The depth gauges count resting orders, as the engine's own updates do;
	// only the snapshot's top levels per side are counted here.
	bidOrders, askOrders := 0, 0
	for _, l := range snapshot.BidLevels {
		bidOrders += l.OrderCount
	}
	for _, l := range snapshot.AskLevels {
		askOrders += l.OrderCount
	}
	metrics.UpdateOrderbookDepth(snapshot.Symbol, "buy", float64(bidOrders))
	metrics.UpdateOrderbookDepth(snapshot.Symbol, "sell", float64(askOrders))
	if snapshot.BestBidPrice != nil && snapshot.BestAskPrice != nil {
		metrics.UpdateBestPrices(snapshot.Symbol, priceFloat(*snapshot.BestBidPrice), priceFloat(*snapshot.BestAskPrice))
	}

	if sm.orderCache == nil {
		return
	}
	cacheSnapshot := toCacheSnapshot(snapshot)
	if err := sm.orderCache.SetOrderbook(cacheSnapshot, 0); err != nil {
		log.Printf("snapshot: failed to write orderbook cache for %s: %v", snapshot.Symbol, err)
		return
	}
	top := cache.ExtractTopOfBook(cacheSnapshot)
	if err := sm.orderCache.SetTopOfBook(top, 0); err != nil {
		log.Printf("snapshot: failed to write top-of-book cache for %s: %v", snapshot.Symbol, err)
	}
}

func toCacheSnapshot(snapshot *BookSnapshot) *cache.OrderbookSnapshot {
	out := &cache.OrderbookSnapshot{
		Symbol:   snapshot.Symbol,
		Sequence: int64(snapshot.Sequence),
		Bids:     make([]cache.PriceLevel, 0, len(snapshot.BidLevels)),
		Asks:     make([]cache.PriceLevel, 0, len(snapshot.AskLevels)),
	}
	for _, l := range snapshot.BidLevels {
		out.Bids = append(out.Bids, cache.PriceLevel{
			Price: l.Price, Quantity: decimal.NewFromInt(l.TotalQty), Orders: l.OrderCount,
		})
	}
	for _, l := range snapshot.AskLevels {
		out.Asks = append(out.Asks, cache.PriceLevel{
			Price: l.Price, Quantity: decimal.NewFromInt(l.TotalQty), Orders: l.OrderCount,
		})
	}
	return out
}
