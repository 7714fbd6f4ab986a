package position

import (
	"errors"
	"fmt"

	"github.com/dnldd/backtester/shared"
	"github.com/google/uuid"
)

var (
	// ErrOrderNotNew is returned when transitioning an order that is no longer new.
	ErrOrderNotNew = errors.New("order is not new")
	// ErrMissingQty is returned when filling an order without a quantity.
	ErrMissingQty = errors.New("order has no quantity")
)

// Order represents a simulated exchange order.
type Order struct {
	ID string
	// GroupID links orders that cancel each other once one of them fills.
	GroupID       string
	Date          int64
	DateUpdated   *int64
	Price         float64
	PriceExecuted *float64
	Qty           *float64
	Commission    *float64
	Type          shared.OrderType
	Side          shared.Side
	Status        shared.OrderStatus
}

// NewOrder initializes a new resting order for the provided quantity.
func NewOrder(date int64, orderType shared.OrderType, side shared.Side, price float64, qty float64) *Order {
	return &Order{
		ID:     uuid.New().String(),
		Date:   date,
		Price:  price,
		Qty:    &qty,
		Type:   orderType,
		Side:   side,
		Status: shared.New,
	}
}

// NewMarketOrder initializes a market order filled immediately at the provided price.
func NewMarketOrder(date int64, side shared.Side, price float64, qty float64, commissionPercent float64) *Order {
	order := NewOrder(date, shared.Market, side, price, qty)
	// A new order always fills.
	_ = order.Fill(date, price, commissionPercent)
	return order
}

// Fill fills the order at the provided price, charging the provided commission percent.
func (o *Order) Fill(date int64, price float64, commissionPercent float64) error {
	if o.Status != shared.New {
		return fmt.Errorf("filling %s order %s: %w", o.Status, o.ID, ErrOrderNotNew)
	}
	if o.Qty == nil {
		return fmt.Errorf("filling order %s: %w", o.ID, ErrMissingQty)
	}

	commission := shared.Commission(price, *o.Qty, commissionPercent)
	o.DateUpdated = &date
	o.PriceExecuted = &price
	o.Commission = &commission
	o.Status = shared.Filled

	return nil
}

// Cancel cancels the order.
func (o *Order) Cancel(date int64) error {
	if o.Status != shared.New {
		return fmt.Errorf("cancelling %s order %s: %w", o.Status, o.ID, ErrOrderNotNew)
	}

	o.DateUpdated = &date
	o.Status = shared.Cancelled

	return nil
}

// Expire expires the order.
func (o *Order) Expire(date int64) error {
	if o.Status != shared.New {
		return fmt.Errorf("expiring %s order %s: %w", o.Status, o.ID, ErrOrderNotNew)
	}

	o.DateUpdated = &date
	o.Status = shared.Expired

	return nil
}

// FilledQty returns the filled quantity, zero when the order is not filled.
func (o *Order) FilledQty() float64 {
	if o.Status != shared.Filled || o.Qty == nil {
		return 0
	}

	return *o.Qty
}

// ExecutedPrice returns the execution price, zero when the order is not filled.
func (o *Order) ExecutedPrice() float64 {
	if o.Status != shared.Filled || o.PriceExecuted == nil {
		return 0
	}

	return *o.PriceExecuted
}

// CommissionPaid returns the commission charged, zero when the order is not filled.
func (o *Order) CommissionPaid() float64 {
	if o.Status != shared.Filled || o.Commission == nil {
		return 0
	}

	return *o.Commission
}
