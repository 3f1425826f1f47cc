package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide represents the side of an order (buy or sell)
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order the engine accepts on the wire.
// Only OrderTypeLimit is matched; OrderTypeMarket is rejected at intake,
// since market orders are outside this engine's scope.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus represents the current status of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order represents a resting or terminal limit order. Quantity is an
// integer count of units; Price is an exact fixed-point decimal. Neither
// is ever a float.
type Order struct {
	ID             uuid.UUID       `json:"id" db:"order_id"`
	ClientID       string          `json:"client_id" db:"client_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           OrderSide       `json:"side" db:"side"`
	Type           OrderType       `json:"type" db:"type"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	FilledQuantity int64           `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus     `json:"status" db:"status"`
	Sequence       uint64          `json:"sequence" db:"sequence"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// NewOrder creates a new Order instance with default values.
func NewOrder(clientID, symbol string, side OrderSide, orderType OrderType, price decimal.Decimal, quantity int64) *Order {
	now := time.Now()
	return &Order{
		ID:             uuid.New(),
		ClientID:       clientID,
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: 0,
		Status:         OrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsValid validates the order fields at the model boundary, independent of
// order-book semantics such as crossing or priority.
func (o *Order) IsValid() bool {
	if o.ClientID == "" || o.Symbol == "" {
		return false
	}

	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return false
	}

	if o.Type != OrderTypeLimit && o.Type != OrderTypeMarket {
		return false
	}

	if o.Quantity <= 0 {
		return false
	}

	if o.Type == OrderTypeLimit && o.Price.LessThanOrEqual(decimal.Zero) {
		return false
	}

	if o.FilledQuantity > o.Quantity {
		return false
	}

	return true
}

// RemainingQuantity returns the unfilled quantity of the order.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled checks if the order is completely filled.
func (o *Order) IsFilled() bool {
	return o.FilledQuantity == o.Quantity
}

// IsPartiallyFilled checks if the order is partially filled.
func (o *Order) IsPartiallyFilled() bool {
	return o.FilledQuantity > 0 && o.FilledQuantity < o.Quantity
}

// CanBeFilled reports whether the order can still receive fills.
func (o *Order) CanBeFilled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartial
}

// Fill applies a fill of the given quantity and recomputes status.
func (o *Order) Fill(quantity int64) {
	o.FilledQuantity += quantity
	o.UpdatedAt = time.Now()

	if o.IsFilled() {
		o.Status = OrderStatusFilled
	} else if o.IsPartiallyFilled() {
		o.Status = OrderStatusPartial
	}
}

// Cancel marks the order as cancelled.
func (o *Order) Cancel() {
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now()
}

// Reject marks the order as rejected.
func (o *Order) Reject() {
	o.Status = OrderStatusRejected
	o.UpdatedAt = time.Now()
}
