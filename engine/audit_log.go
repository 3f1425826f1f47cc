package engine

import (
	"context"
	"sync"

	"github.com/coinmesh/matching-engine/eventsourcing"
	"github.com/coinmesh/matching-engine/persistence"
)

// AuditLogger subscribes to a MatchingEngine's event bus and appends
// order-placed, order-cancelled and trade events to an event-sourcing store,
// giving support and replay tooling a per-order history independent of the
// live book. Appends never block the publishing goroutine and never affect
// matching: they run through a persistence.RetryQueue keyed by symbol, so a
// transient store outage delays an audit entry rather than rejecting the
// order that produced it. An entry that still fails once the queue's attempt
// limit is used up, or that arrives while its symbol's queue is full, is
// dropped and logged.
type AuditLogger struct {
	store eventsourcing.Store
	queue *persistence.RetryQueue

	mu       sync.Mutex
	versions map[string]int
}

// NewAuditLogger creates a logger that appends to store through queue.
func NewAuditLogger(store eventsourcing.Store, queue *persistence.RetryQueue) *AuditLogger {
	return &AuditLogger{
		store:    store,
		queue:    queue,
		versions: make(map[string]int),
	}
}

// Attach subscribes the logger to every event type it understands on bus.
func (a *AuditLogger) Attach(bus *EventBus) {
	bus.Subscribe(EventTypeOrderPlaced, a.onOrderPlaced)
	bus.Subscribe(EventTypeOrderCancelled, a.onOrderCancelled)
	bus.Subscribe(EventTypeNewTrade, a.onNewTrade)
}

func (a *AuditLogger) nextVersion(aggregateID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.versions[aggregateID]++
	return a.versions[aggregateID]
}

func (a *AuditLogger) onOrderPlaced(evt Event) {
	oe, ok := evt.Data.(OrderEvent)
	if !ok {
		return
	}
	version := a.nextVersion(oe.OrderID.String())
	event := eventsourcing.NewOrderPlacedEvent(oe.OrderID, oe.ClientID, oe.Symbol, oe.Side, "limit", oe.Price, oe.Quantity, version)
	a.append(oe.Symbol, event)
}

func (a *AuditLogger) onOrderCancelled(evt Event) {
	oe, ok := evt.Data.(OrderEvent)
	if !ok {
		return
	}
	version := a.nextVersion(oe.OrderID.String())
	event := eventsourcing.NewOrderCancelledEvent(oe.OrderID, "user_requested", version)
	a.append(oe.Symbol, event)
}

func (a *AuditLogger) onNewTrade(evt Event) {
	te, ok := evt.Data.(NewTradeEvent)
	if !ok {
		return
	}
	version := a.nextVersion(te.Symbol)
	event := eventsourcing.NewTradeExecutedEvent(te.TradeID, te.Symbol, te.BuyOrderID, te.SellOrderID, "", "", te.Price, te.Quantity, version)
	a.append(te.Symbol, event)
}

func (a *AuditLogger) append(symbol string, event eventsourcing.Event) {
	a.queue.Enqueue(symbol, func(ctx context.Context) error {
		return a.store.Append(ctx, event)
	})
}
