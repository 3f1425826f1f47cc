package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coinmesh/matching-engine/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Gateway used in tests and when DATABASE_URL
// is unset. It gives the engine identical semantics to PostgresStore
// (atomic trade+order-update batches, not-found errors on unknown ids)
// without requiring a running database.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	trades []*models.Trade
}

// NewMemoryStore creates an empty in-memory gateway.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[uuid.UUID]*models.Order),
	}
}

func (m *MemoryStore) InsertOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *MemoryStore) ReplaceOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("persistence: order %s not found", order.ID)
	}
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateOrderFill(ctx context.Context, update *OrderFillUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyFillLocked(update)
}

func (m *MemoryStore) applyFillLocked(update *OrderFillUpdate) error {
	order, ok := m.orders[update.OrderID]
	if !ok {
		return fmt.Errorf("persistence: order %s not found", update.OrderID)
	}
	order.FilledQuantity = update.FilledQuantity
	order.Status = update.Status
	order.UpdatedAt = update.UpdatedAt
	return nil
}

func (m *MemoryStore) InsertTrades(ctx context.Context, trades []*models.Trade, updates []*OrderFillUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if _, ok := m.orders[u.OrderID]; !ok {
			return fmt.Errorf("persistence: order %s not found", u.OrderID)
		}
	}

	for _, t := range trades {
		cp := *t
		m.trades = append(m.trades, &cp)
	}
	for _, u := range updates {
		if err := m.applyFillLocked(u); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("persistence: order %s not found", orderID)
	}
	cp := *order
	return &cp, nil
}

func (m *MemoryStore) ListUserOrders(ctx context.Context, clientID string, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, o := range m.orders {
		if o.ClientID == clientID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		t := m.trades[i]
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOpenOrders(ctx context.Context, symbol string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, o := range m.orders {
		if o.Symbol != symbol {
			continue
		}
		if o.Status != models.OrderStatusPending && o.Status != models.OrderStatusPartial {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListSymbols(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for _, o := range m.orders {
		seen[o.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
