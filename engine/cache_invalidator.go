package engine

import (
	"github.com/coinmesh/matching-engine/cache"
	"github.com/coinmesh/matching-engine/logging"
)

// CacheSubscriber subscribes a MatchingEngine's event bus to a
// cache.PubSubManager, broadcasting orderbook and trades invalidation
// messages so other service instances sharing the same Redis don't serve
// stale reads out of their own OrderbookCache/TradesCache after a match
// lands on this instance. Unlike AuditLogger, a failed publish is dropped
// rather than retried: a missed invalidation only costs a stale read until
// the next tick of SnapshotManager's write-through, not a lost fact.
type CacheSubscriber struct {
	invalidator *cache.CacheInvalidator
}

// NewCacheSubscriber creates a subscriber that publishes through invalidator.
func NewCacheSubscriber(invalidator *cache.CacheInvalidator) *CacheSubscriber {
	return &CacheSubscriber{invalidator: invalidator}
}

// Attach subscribes the invalidator to order and trade lifecycle events.
func (c *CacheSubscriber) Attach(bus *EventBus) {
	bus.Subscribe(EventTypeOrderbookChange, c.onOrderbookChange)
	bus.Subscribe(EventTypeNewTrade, c.onNewTrade)
}

func (c *CacheSubscriber) onOrderbookChange(evt Event) {
	oe, ok := evt.Data.(OrderbookChangeEvent)
	if !ok {
		return
	}
	if err := c.invalidator.NotifyOrderbookUpdate(oe.Symbol); err != nil {
		logging.GetLogger().WithField("error", err.Error()).Warn("failed to publish orderbook cache invalidation")
	}
}

func (c *CacheSubscriber) onNewTrade(evt Event) {
	te, ok := evt.Data.(NewTradeEvent)
	if !ok {
		return
	}
	if err := c.invalidator.NotifyNewTrade(te.Symbol); err != nil {
		logging.GetLogger().WithField("error", err.Error()).Warn("failed to publish trades cache invalidation")
	}
}
