package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeNewTrade        EventType = "NewTrade"
	EventTypeOrderPlaced     EventType = "OrderPlaced"
	EventTypeOrderFilled     EventType = "OrderFilled"
	EventTypeOrderCancelled  EventType = "OrderCancelled"
	EventTypeOrderbookChange EventType = "OrderbookChange"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

type NewTradeEvent struct {
	TradeID     uuid.UUID
	Symbol      string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Price       decimal.Decimal
	Quantity    int64
	Timestamp   time.Time
}

type OrderEvent struct {
	OrderID           uuid.UUID
	ClientID          string
	Symbol            string
	Side              string
	Status            string
	Price             decimal.Decimal
	Quantity          int64
	FilledQuantity    int64
	RemainingQuantity int64
	Timestamp         time.Time
}

type OrderbookChangeEvent struct {
	Symbol    string
	Side      string
	Action    string // "add" or "remove"
	Price     decimal.Decimal
	NewSize   int64
	OldSize   int64
	Timestamp time.Time
}

type EventListener func(event Event)

// EventBus fans out engine events to subscribers, each on its own
// goroutine so a slow listener never stalls matching.
type EventBus struct {
	listeners map[EventType][]EventListener
	mu        sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[EventType][]EventListener),
	}
}

func (eb *EventBus) Subscribe(eventType EventType, listener EventListener) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners[eventType] = append(eb.listeners[eventType], listener)
}

func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	listeners := eb.listeners[event.Type]
	eb.mu.RUnlock()

	for _, listener := range listeners {
		go listener(event)
	}
}

func (eb *EventBus) Unsubscribe(eventType EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.listeners, eventType)
}

func (eb *EventBus) GetListenerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.listeners[eventType])
}
