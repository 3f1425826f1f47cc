package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coinmesh/matching-engine/logging"
	"github.com/coinmesh/matching-engine/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Sentinel classes of transient Postgres failure, used by isRetryableError.
var (
	ErrDeadlock             = errors.New("deadlock detected")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrConnectionFailure    = errors.New("connection failure")
)

// PostgresStore is the durable Gateway backed by PostgreSQL. It satisfies
// persistence.Gateway; the matching engine only ever depends on that
// interface, never on this type directly.
type PostgresStore struct {
	db         *sql.DB
	maxRetries int
	retryDelay time.Duration
}

// NewPostgresStore wraps an already-open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:         db,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
}

// SetRetryConfig overrides the default retry policy for transient errors.
func (ps *PostgresStore) SetRetryConfig(maxRetries int, retryDelay time.Duration) {
	ps.maxRetries = maxRetries
	ps.retryDelay = retryDelay
}

// InsertOrder persists a newly accepted order. Idempotent on order_id so a
// retried Submit after a transport-level timeout never double-inserts.
func (ps *PostgresStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO orders (
				order_id, client_id, symbol, side, type,
				price, quantity, filled_quantity, status, sequence,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (order_id) DO NOTHING
		`
		_, err := ps.db.ExecContext(ctx, query,
			order.ID,
			order.ClientID,
			order.Symbol,
			order.Side,
			order.Type,
			order.Price.String(),
			order.Quantity,
			order.FilledQuantity,
			order.Status,
			order.Sequence,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			logging.LogDBError("insert_order", "orders", err, map[string]interface{}{"order_id": order.ID})
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
}

// ReplaceOrder overwrites an existing order's price, quantity, fill state,
// status, and sequence in place, keyed by its existing order_id. Used by a
// modify that changes price or increases quantity, so the order's identity
// survives the book reinsertion instead of minting a new row.
func (ps *PostgresStore) ReplaceOrder(ctx context.Context, order *models.Order) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		query := `
			UPDATE orders
			SET price = $2, quantity = $3, filled_quantity = $4, status = $5,
			    sequence = $6, updated_at = $7
			WHERE order_id = $1
		`
		result, err := ps.db.ExecContext(ctx, query,
			order.ID,
			order.Price.String(),
			order.Quantity,
			order.FilledQuantity,
			order.Status,
			order.Sequence,
			order.UpdatedAt,
		)
		if err != nil {
			logging.LogDBError("replace_order", "orders", err, map[string]interface{}{"order_id": order.ID})
			return fmt.Errorf("failed to replace order: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("persistence: order %s not found", order.ID)
		}
		return nil
	})
}

// UpdateOrderFill applies a fill or terminal transition to an
// already-persisted order.
func (ps *PostgresStore) UpdateOrderFill(ctx context.Context, update *OrderFillUpdate) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		return ps.updateOrderFillTx(ctx, ps.db, update)
	})
}

func (ps *PostgresStore) updateOrderFillTx(ctx context.Context, exec sqlExecer, update *OrderFillUpdate) error {
	query := `
		UPDATE orders
		SET filled_quantity = $2, status = $3, updated_at = $4
		WHERE order_id = $1
	`
	result, err := exec.ExecContext(ctx, query, update.OrderID, update.FilledQuantity, update.Status, update.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update order fill: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("persistence: order %s not found", update.OrderID)
	}
	return nil
}

// InsertTrades persists a batch of trades and the fill updates for the
// orders on both sides of each trade in a single transaction.
func (ps *PostgresStore) InsertTrades(ctx context.Context, trades []*models.Trade, updates []*OrderFillUpdate) error {
	return ps.executeWithRetry(ctx, func(ctx context.Context) error {
		return ps.insertTradesTx(ctx, trades, updates)
	})
}

func (ps *PostgresStore) insertTradesTx(ctx context.Context, trades []*models.Trade, updates []*OrderFillUpdate) error {
	tx, err := ps.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, trade := range trades {
		query := `
			INSERT INTO trades (trade_id, buy_order_id, sell_order_id, symbol, price, quantity, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (trade_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, query,
			trade.TradeID, trade.BuyOrderID, trade.SellOrderID, trade.Symbol,
			trade.Price.String(), trade.Quantity, trade.ExecutedAt,
		); err != nil {
			logging.LogDBError("insert_trade", "trades", err, map[string]interface{}{"trade_id": trade.TradeID})
			return fmt.Errorf("failed to insert trade %s: %w", trade.TradeID, err)
		}
	}

	deduped := make(map[uuid.UUID]*OrderFillUpdate, len(updates))
	for _, u := range updates {
		deduped[u.OrderID] = u
	}
	for _, u := range deduped {
		if err := ps.updateOrderFillTx(ctx, tx, u); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade batch: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (ps *PostgresStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	query := `
		SELECT order_id, client_id, symbol, side, type, price, quantity,
		       filled_quantity, status, sequence, created_at, updated_at
		FROM orders
		WHERE order_id = $1
	`
	return scanOrder(ps.db.QueryRowContext(ctx, query, orderID))
}

// ListUserOrders returns a client's orders, most recent first.
func (ps *PostgresStore) ListUserOrders(ctx context.Context, clientID string, limit int) ([]*models.Order, error) {
	query := `
		SELECT order_id, client_id, symbol, side, type, price, quantity,
		       filled_quantity, status, sequence, created_at, updated_at
		FROM orders
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := ps.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ListTrades returns the most recent trades for a symbol, or across all
// symbols if symbol is empty.
func (ps *PostgresStore) ListTrades(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	var rows *sql.Rows
	var err error
	if symbol == "" {
		rows, err = ps.db.QueryContext(ctx, `
			SELECT trade_id, buy_order_id, sell_order_id, symbol, price, quantity, executed_at
			FROM trades ORDER BY executed_at DESC LIMIT $1
		`, limit)
	} else {
		rows, err = ps.db.QueryContext(ctx, `
			SELECT trade_id, buy_order_id, sell_order_id, symbol, price, quantity, executed_at
			FROM trades WHERE symbol = $1 ORDER BY executed_at DESC LIMIT $2
		`, symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		var priceStr string
		if err := rows.Scan(&t.TradeID, &t.BuyOrderID, &t.SellOrderID, &t.Symbol, &priceStr, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trade price: %w", err)
		}
		t.Price = price
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// ListOpenOrders returns non-terminal orders for a symbol, ordered by
// creation time, for RecoveryManager to rebuild that symbol's book.
func (ps *PostgresStore) ListOpenOrders(ctx context.Context, symbol string) ([]*models.Order, error) {
	query := `
		SELECT order_id, client_id, symbol, side, type, price, quantity,
		       filled_quantity, status, sequence, created_at, updated_at
		FROM orders
		WHERE symbol = $1 AND status IN ('pending', 'partial')
		ORDER BY created_at ASC
	`
	rows, err := ps.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ListSymbols returns every distinct symbol with at least one order on
// record, for RecoveryManager to discover which books to rebuild at startup.
func (ps *PostgresStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, rows.Err()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order, err := scanOrderRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persistence: order not found")
	}
	return order, err
}

func scanOrderRow(row rowScanner) (*models.Order, error) {
	var order models.Order
	var priceStr string
	if err := row.Scan(
		&order.ID, &order.ClientID, &order.Symbol, &order.Side, &order.Type,
		&priceStr, &order.Quantity, &order.FilledQuantity, &order.Status,
		&order.Sequence, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}
	order.Price = price
	return &order, nil
}

// executeWithRetry retries transient Postgres failures with exponential
// backoff; a non-retryable error fails immediately.
func (ps *PostgresStore) executeWithRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= ps.maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return err
		}
		if attempt < ps.maxRetries {
			delay := ps.retryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

