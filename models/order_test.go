package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestNewOrder(t *testing.T) {
	clientID := "client-123"
	symbol := "AAPL"
	side := OrderSideBuy
	orderType := OrderTypeLimit
	price := decimal.NewFromFloat(150.25)
	quantity := int64(100)

	order := NewOrder(clientID, symbol, side, orderType, price, quantity)

	if order.ClientID != clientID {
		t.Errorf("Expected ClientID %s, got %s", clientID, order.ClientID)
	}
	if order.Symbol != symbol {
		t.Errorf("Expected Symbol %s, got %s", symbol, order.Symbol)
	}
	if order.Side != side {
		t.Errorf("Expected Side %s, got %s", side, order.Side)
	}
	if order.Type != orderType {
		t.Errorf("Expected Type %s, got %s", orderType, order.Type)
	}
	if !order.Price.Equal(price) {
		t.Errorf("Expected Price %s, got %s", price, order.Price)
	}
	if order.Quantity != quantity {
		t.Errorf("Expected Quantity %d, got %d", quantity, order.Quantity)
	}
	if order.FilledQuantity != 0 {
		t.Errorf("Expected FilledQuantity to be zero, got %d", order.FilledQuantity)
	}
	if order.Status != OrderStatusPending {
		t.Errorf("Expected Status %s, got %s", OrderStatusPending, order.Status)
	}
	if order.ID == uuid.Nil {
		t.Error("Expected ID to be generated")
	}
}

func TestOrderIsValid(t *testing.T) {
	tests := []struct {
		name  string
		order *Order
		valid bool
	}{
		{
			name: "valid limit order",
			order: &Order{
				ClientID: "client-1",
				Symbol:   "AAPL",
				Side:     OrderSideBuy,
				Type:     OrderTypeLimit,
				Price:    decimal.NewFromFloat(150),
				Quantity: 1,
			},
			valid: true,
		},
		{
			name: "valid market order",
			order: &Order{
				ClientID: "client-1",
				Symbol:   "AAPL",
				Side:     OrderSideSell,
				Type:     OrderTypeMarket,
				Quantity: 1,
			},
			valid: true,
		},
		{
			name: "invalid - empty client ID",
			order: &Order{
				ClientID: "",
				Symbol:   "AAPL",
				Side:     OrderSideBuy,
				Type:     OrderTypeLimit,
				Price:    decimal.NewFromFloat(150),
				Quantity: 1,
			},
			valid: false,
		},
		{
			name: "invalid - zero quantity",
			order: &Order{
				ClientID: "client-1",
				Symbol:   "AAPL",
				Side:     OrderSideBuy,
				Type:     OrderTypeLimit,
				Price:    decimal.NewFromFloat(150),
				Quantity: 0,
			},
			valid: false,
		},
		{
			name: "invalid - negative price for limit order",
			order: &Order{
				ClientID: "client-1",
				Symbol:   "AAPL",
				Side:     OrderSideBuy,
				Type:     OrderTypeLimit,
				Price:    decimal.NewFromFloat(-150),
				Quantity: 1,
			},
			valid: false,
		},
		{
			name: "invalid - unknown side",
			order: &Order{
				ClientID: "client-1",
				Symbol:   "AAPL",
				Side:     OrderSide("hold"),
				Type:     OrderTypeLimit,
				Price:    decimal.NewFromFloat(150),
				Quantity: 1,
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestOrderRemainingQuantity(t *testing.T) {
	order := NewOrder("client-1", "AAPL", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromFloat(150), 10)

	if order.RemainingQuantity() != 10 {
		t.Errorf("Expected remaining quantity 10, got %d", order.RemainingQuantity())
	}

	order.Fill(3)
	if order.RemainingQuantity() != 7 {
		t.Errorf("Expected remaining quantity 7, got %d", order.RemainingQuantity())
	}
}

func TestOrderFill(t *testing.T) {
	order := NewOrder("client-1", "AAPL", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromFloat(150), 10)

	order.Fill(3)
	if order.Status != OrderStatusPartial {
		t.Errorf("Expected status %s, got %s", OrderStatusPartial, order.Status)
	}
	if order.FilledQuantity != 3 {
		t.Errorf("Expected filled quantity 3, got %d", order.FilledQuantity)
	}

	order.Fill(7)
	if order.Status != OrderStatusFilled {
		t.Errorf("Expected status %s, got %s", OrderStatusFilled, order.Status)
	}
	if !order.IsFilled() {
		t.Error("Expected order to be filled")
	}
}

func TestOrderCanBeFilled(t *testing.T) {
	order := NewOrder("client-1", "AAPL", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromFloat(150), 10)

	if !order.CanBeFilled() {
		t.Error("Expected pending order to be fillable")
	}

	order.Fill(5)
	if !order.CanBeFilled() {
		t.Error("Expected partially filled order to be fillable")
	}

	order.Cancel()
	if order.CanBeFilled() {
		t.Error("Expected cancelled order not to be fillable")
	}
}

func TestOrderCancel(t *testing.T) {
	order := NewOrder("client-1", "AAPL", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromFloat(150), 10)

	oldTime := order.UpdatedAt
	time.Sleep(10 * time.Millisecond)

	order.Cancel()

	if order.Status != OrderStatusCancelled {
		t.Errorf("Expected status %s, got %s", OrderStatusCancelled, order.Status)
	}
	if !order.UpdatedAt.After(oldTime) {
		t.Error("Expected UpdatedAt to be updated")
	}
}

func TestOrderReject(t *testing.T) {
	order := NewOrder("client-1", "AAPL", OrderSideBuy, OrderTypeLimit,
		decimal.NewFromFloat(150), 10)

	order.Reject()

	if order.Status != OrderStatusRejected {
		t.Errorf("Expected status %s, got %s", OrderStatusRejected, order.Status)
	}
}
