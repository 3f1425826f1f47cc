package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/persistence"
)

// RecoveryManager rebuilds every symbol's live book from the persisted
// order table at startup. It never consults the event log or a cached
// snapshot for this — those describe history, not the authoritative set of
// still-open orders — and it never runs an order through matching, since
// the order's persisted fills already reflect whatever it matched against
// before the process stopped.
type RecoveryManager struct {
	gateway persistence.Gateway
	engine  *MatchingEngine
}

// NewRecoveryManager creates a manager that rebuilds engine's books from
// gateway's order table.
func NewRecoveryManager(gateway persistence.Gateway, engine *MatchingEngine) *RecoveryManager {
	return &RecoveryManager{gateway: gateway, engine: engine}
}

// SymbolReport summarizes recovery of a single symbol's book.
type SymbolReport struct {
	Symbol          string        `json:"symbol"`
	OrdersRecovered int           `json:"orders_recovered"`
	Duration        time.Duration `json:"duration"`
}

// Report summarizes a full startup recovery run across every symbol found
// in the order table.
type Report struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Symbols   []SymbolReport `json:"symbols"`
}

// TotalOrders sums OrdersRecovered across every symbol in the report.
func (r *Report) TotalOrders() int {
	total := 0
	for _, s := range r.Symbols {
		total += s.OrdersRecovered
	}
	return total
}

// Recover discovers every symbol with at least one order on record and
// rebuilds that symbol's book in the engine from its non-terminal orders,
// oldest first by creation time. Within a price level the rebuilt queue
// follows creation time, so an order that a modify had moved to the back of
// its level is placed by its original creation time instead.
func (rm *RecoveryManager) Recover(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start}

	symbols, err := rm.gateway.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("recovery: failed to list symbols: %w", err)
	}

	for _, symbol := range symbols {
		sr, err := rm.recoverSymbol(ctx, symbol)
		if err != nil {
			return report, fmt.Errorf("recovery: symbol %s: %w", symbol, err)
		}
		report.Symbols = append(report.Symbols, *sr)
	}

	report.Duration = time.Since(start)
	log.Printf("recovery: rebuilt %d symbol(s), %d order(s) total, took %v",
		len(report.Symbols), report.TotalOrders(), report.Duration)
	return report, nil
}

func (rm *RecoveryManager) recoverSymbol(ctx context.Context, symbol string) (*SymbolReport, error) {
	symbolStart := time.Now()

	orders, err := rm.gateway.ListOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	for _, order := range orders {
		if !order.CanBeFilled() {
			continue
		}
		rm.engine.RecoverOrder(order)
	}

	sr := &SymbolReport{
		Symbol:          symbol,
		OrdersRecovered: len(orders),
		Duration:        time.Since(symbolStart),
	}

	logging.LogRecovery("orderbook_recovered", symbol, sr.OrdersRecovered, sr.Duration)
	return sr, nil
}
