package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade represents a single execution between a buy order and a sell order.
type Trade struct {
	TradeID     uuid.UUID       `json:"trade_id" db:"trade_id"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id" db:"sell_order_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
}

// NewTrade creates a new trade record executed at the resting order's price.
func NewTrade(buyOrderID, sellOrderID uuid.UUID, symbol string, price decimal.Decimal, quantity int64) *Trade {
	return &Trade{
		TradeID:     uuid.New(),
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Symbol:      symbol,
		Price:       price,
		Quantity:    quantity,
		ExecutedAt:  time.Now(),
	}
}
