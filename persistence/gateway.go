package persistence

import (
	"context"
	"time"

	"github.com/coinmesh/matching-engine/models"
	"github.com/google/uuid"
)

// OrderFillUpdate carries the fields of an Order that change as a result of
// a fill, without requiring the caller to hand over the whole Order.
type OrderFillUpdate struct {
	OrderID        uuid.UUID
	FilledQuantity int64
	Status         models.OrderStatus
	UpdatedAt      time.Time
}

// Gateway is the durable store the matching engine writes through. It is
// the sole abstraction between core matching logic and any particular
// database — PostgresStore and MemoryStore both satisfy it, so the engine's
// behavior does not depend on which one is wired in.
type Gateway interface {
	// InsertOrder persists a newly accepted order.
	InsertOrder(ctx context.Context, order *models.Order) error

	// UpdateOrderFill applies a fill (or terminal transition) to an
	// already-persisted order.
	UpdateOrderFill(ctx context.Context, update *OrderFillUpdate) error

	// ReplaceOrder overwrites an existing order's mutable fields (price,
	// quantity, filled quantity, status, sequence) in place, keyed by its
	// existing order_id. Used by a modify that changes price or increases
	// quantity: the order keeps its identity across the book reinsertion
	// instead of being persisted as a brand-new row.
	ReplaceOrder(ctx context.Context, order *models.Order) error

	// InsertTrades persists a batch of trades atomically, alongside the
	// fill updates for the orders on both sides of each trade. All writes
	// for one Submit call go through a single call to this method so a
	// commit failure never leaves trades and order fills out of sync.
	InsertTrades(ctx context.Context, trades []*models.Trade, updates []*OrderFillUpdate) error

	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListUserOrders(ctx context.Context, clientID string, limit int) ([]*models.Order, error)
	ListTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)

	// ListOpenOrders returns non-terminal orders (pending/partial) for a
	// symbol, ordered by creation time, for use by the recovery path.
	ListOpenOrders(ctx context.Context, symbol string) ([]*models.Order, error)

	// ListSymbols returns every distinct symbol with at least one order on
	// record, so the recovery path knows which books to rebuild at startup
	// without the matching engine having created any yet.
	ListSymbols(ctx context.Context) ([]string, error)
}
