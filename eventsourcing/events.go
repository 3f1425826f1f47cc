// Package eventsourcing provides event sourcing primitives for the trading engine
package eventsourcing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================
// Event Types
// ============================================

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       uuid.UUID              `json:"event_id"`
	EventType     string                 `json:"event_type"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Version       int                    `json:"version"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CausationID   *uuid.UUID             `json:"causation_id,omitempty"`
	CorrelationID *uuid.UUID             `json:"correlation_id,omitempty"`
}

// OrderPlacedEvent represents a new order submission
type OrderPlacedEvent struct {
	BaseEvent
	OrderID  uuid.UUID       `json:"order_id"`
	ClientID string          `json:"client_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // "buy" or "sell"
	Type     string          `json:"type"` // "limit"
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderCancelledEvent represents order cancellation
type OrderCancelledEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"` // "user_requested", "expired", "rejected"
}

// OrderPartiallyFilledEvent represents partial order fill
type OrderPartiallyFilledEvent struct {
	BaseEvent
	OrderID           uuid.UUID       `json:"order_id"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	FillPrice         decimal.Decimal `json:"fill_price"`
	TradeID           uuid.UUID       `json:"trade_id"`
}

// OrderFilledEvent represents complete order fill
type OrderFilledEvent struct {
	BaseEvent
	OrderID      uuid.UUID       `json:"order_id"`
	TotalFilled  int64           `json:"total_filled"`
	AveragePrice decimal.Decimal `json:"average_price"`
	LastTradeID  uuid.UUID       `json:"last_trade_id"`
}

// TradeExecutedEvent represents a completed trade
type TradeExecutedEvent struct {
	BaseEvent
	TradeID        uuid.UUID       `json:"trade_id"`
	Symbol         string          `json:"symbol"`
	BuyerOrderID   uuid.UUID       `json:"buyer_order_id"`
	SellerOrderID  uuid.UUID       `json:"seller_order_id"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	BuyerClientID  string          `json:"buyer_client_id"`
	SellerClientID string          `json:"seller_client_id"`
}

// ============================================
// Event Builder Functions
// ============================================

// NewOrderPlacedEvent creates a new OrderPlaced event
func NewOrderPlacedEvent(orderID uuid.UUID, clientID, symbol, side, orderType string,
	price decimal.Decimal, qty int64, version int) *OrderPlacedEvent {
	return &OrderPlacedEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New(),
			EventType:     "OrderPlaced",
			AggregateID:   orderID.String(),
			AggregateType: "Order",
			Version:       version,
			Timestamp:     time.Now(),
			Metadata:      make(map[string]interface{}),
		},
		OrderID:  orderID,
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Type:     orderType,
		Price:    price,
		Quantity: qty,
	}
}

// NewOrderCancelledEvent creates a new OrderCancelled event
func NewOrderCancelledEvent(orderID uuid.UUID, reason string, version int) *OrderCancelledEvent {
	return &OrderCancelledEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New(),
			EventType:     "OrderCancelled",
			AggregateID:   orderID.String(),
			AggregateType: "Order",
			Version:       version,
			Timestamp:     time.Now(),
			Metadata:      make(map[string]interface{}),
		},
		OrderID: orderID,
		Reason:  reason,
	}
}

// NewOrderPartiallyFilledEvent creates a new OrderPartiallyFilled event
func NewOrderPartiallyFilledEvent(orderID, tradeID uuid.UUID, filled, remaining int64,
	fillPrice decimal.Decimal, version int) *OrderPartiallyFilledEvent {
	return &OrderPartiallyFilledEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New(),
			EventType:     "OrderPartiallyFilled",
			AggregateID:   orderID.String(),
			AggregateType: "Order",
			Version:       version,
			Timestamp:     time.Now(),
			Metadata:      make(map[string]interface{}),
		},
		OrderID:           orderID,
		FilledQuantity:    filled,
		RemainingQuantity: remaining,
		FillPrice:         fillPrice,
		TradeID:           tradeID,
	}
}

// NewOrderFilledEvent creates a new OrderFilled event
func NewOrderFilledEvent(orderID, lastTradeID uuid.UUID, totalFilled int64,
	avgPrice decimal.Decimal, version int) *OrderFilledEvent {
	return &OrderFilledEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New(),
			EventType:     "OrderFilled",
			AggregateID:   orderID.String(),
			AggregateType: "Order",
			Version:       version,
			Timestamp:     time.Now(),
			Metadata:      make(map[string]interface{}),
		},
		OrderID:      orderID,
		TotalFilled:  totalFilled,
		AveragePrice: avgPrice,
		LastTradeID:  lastTradeID,
	}
}

// NewTradeExecutedEvent creates a new TradeExecuted event
func NewTradeExecutedEvent(tradeID uuid.UUID, symbol string,
	buyerOrderID, sellerOrderID uuid.UUID, buyerClientID, sellerClientID string,
	price decimal.Decimal, qty int64, version int) *TradeExecutedEvent {
	return &TradeExecutedEvent{
		BaseEvent: BaseEvent{
			EventID:       uuid.New(),
			EventType:     "TradeExecuted",
			AggregateID:   symbol,
			AggregateType: "Orderbook",
			Version:       version,
			Timestamp:     time.Now(),
			Metadata:      make(map[string]interface{}),
		},
		TradeID:        tradeID,
		Symbol:         symbol,
		BuyerOrderID:   buyerOrderID,
		SellerOrderID:  sellerOrderID,
		Price:          price,
		Quantity:       qty,
		BuyerClientID:  buyerClientID,
		SellerClientID: sellerClientID,
	}
}

// ============================================
// Event Interface
// ============================================

// Event is the interface that all events must implement
type Event interface {
	GetEventID() uuid.UUID
	GetEventType() string
	GetAggregateID() string
	GetAggregateType() string
	GetVersion() int
	GetTimestamp() time.Time
}

// GetEventID returns the event ID
func (e *BaseEvent) GetEventID() uuid.UUID {
	return e.EventID
}

// GetEventType returns the event type
func (e *BaseEvent) GetEventType() string {
	return e.EventType
}

// GetAggregateID returns the aggregate ID
func (e *BaseEvent) GetAggregateID() string {
	return e.AggregateID
}

// GetAggregateType returns the aggregate type
func (e *BaseEvent) GetAggregateType() string {
	return e.AggregateType
}

// GetVersion returns the event version
func (e *BaseEvent) GetVersion() int {
	return e.Version
}

// GetTimestamp returns when the event occurred
func (e *BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// ============================================
// Helper Functions
// ============================================

// WithMetadata adds metadata to an event
func WithMetadata(event Event, key string, value interface{}) {
	switch be := event.(type) {
	case *OrderPlacedEvent:
		be.Metadata[key] = value
	case *OrderCancelledEvent:
		be.Metadata[key] = value
	case *OrderPartiallyFilledEvent:
		be.Metadata[key] = value
	case *OrderFilledEvent:
		be.Metadata[key] = value
	case *TradeExecutedEvent:
		be.Metadata[key] = value
	}
}

// WithCorrelationID sets the correlation ID for event tracing
func WithCorrelationID(event Event, correlationID uuid.UUID) {
	switch be := event.(type) {
	case *OrderPlacedEvent:
		be.CorrelationID = &correlationID
	case *OrderCancelledEvent:
		be.CorrelationID = &correlationID
	case *OrderPartiallyFilledEvent:
		be.CorrelationID = &correlationID
	case *OrderFilledEvent:
		be.CorrelationID = &correlationID
	case *TradeExecutedEvent:
		be.CorrelationID = &correlationID
	}
}

// WithCausationID sets the causation ID (command that caused this event)
func WithCausationID(event Event, causationID uuid.UUID) {
	switch be := event.(type) {
	case *OrderPlacedEvent:
		be.CausationID = &causationID
	case *OrderCancelledEvent:
		be.CausationID = &causationID
	case *OrderPartiallyFilledEvent:
		be.CausationID = &causationID
	case *OrderFilledEvent:
		be.CausationID = &causationID
	case *TradeExecutedEvent:
		be.CausationID = &causationID
	}
}
