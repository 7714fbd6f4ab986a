package position

import (
	"math"

	"github.com/dnldd/backtester/shared"
	"github.com/google/uuid"
)

// volumeEpsilon is the relative tolerance under which net volume counts as flat.
const volumeEpsilon = 1e-9

// PositionStatus represents the status of a position.
type PositionStatus int

const (
	Opened PositionStatus = iota
	Closed
)

// String stringifies the provided position status.
func (s PositionStatus) String() string {
	switch s {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position represents a set of orders on a symbol that is closed once its net volume is zero.
type Position struct {
	ID     string
	Symbol string
	Status PositionStatus
	Orders []*Order
	PnL    *float64
}

// NewPosition initializes a new opened position.
func NewPosition(symbol string) *Position {
	return &Position{
		ID:     uuid.New().String(),
		Symbol: symbol,
		Status: Opened,
		Orders: []*Order{},
	}
}

// AddOrder adds the provided order to the position.
func (p *Position) AddOrder(order *Order) {
	p.Orders = append(p.Orders, order)
}

// OpenPrice returns the price of the first order.
func (p *Position) OpenPrice() float64 {
	if len(p.Orders) == 0 {
		return 0
	}

	return p.Orders[0].Price
}

// OpenDate returns the date of the first order.
func (p *Position) OpenDate() int64 {
	if len(p.Orders) == 0 {
		return 0
	}

	return p.Orders[0].Date
}

// LastPrice returns the price of the last order.
func (p *Position) LastPrice() float64 {
	if len(p.Orders) == 0 {
		return 0
	}

	return p.Orders[len(p.Orders)-1].Price
}

// LastDate returns the date of the last order.
func (p *Position) LastDate() int64 {
	if len(p.Orders) == 0 {
		return 0
	}

	return p.Orders[len(p.Orders)-1].Date
}

// CloseDate returns the latest update date across the filled orders, which for a closed
// position is when it went flat.
func (p *Position) CloseDate() int64 {
	var date int64
	for _, order := range p.Orders {
		if order.Status != shared.Filled {
			continue
		}

		updated := order.Date
		if order.DateUpdated != nil {
			updated = *order.DateUpdated
		}
		date = max(date, updated)
	}

	return date
}

// sum totals the provided value over the filled orders of the provided side.
func (p *Position) sum(side shared.Side, value func(o *Order) float64) float64 {
	var total float64
	for _, order := range p.Orders {
		if order.Status != shared.Filled || order.Side != side {
			continue
		}
		total += value(order)
	}

	return total
}

// VolumeBuy returns the filled buy volume.
func (p *Position) VolumeBuy() float64 {
	return p.sum(shared.Buy, (*Order).FilledQty)
}

// VolumeSell returns the filled sell volume.
func (p *Position) VolumeSell() float64 {
	return p.sum(shared.Sell, (*Order).FilledQty)
}

// VolumeAll returns the net filled volume.
func (p *Position) VolumeAll() float64 {
	return p.VolumeBuy() - p.VolumeSell()
}

// CommissionBuy returns the commission paid on buys.
func (p *Position) CommissionBuy() float64 {
	return p.sum(shared.Buy, (*Order).CommissionPaid)
}

// CommissionSell returns the commission paid on sells.
func (p *Position) CommissionSell() float64 {
	return p.sum(shared.Sell, (*Order).CommissionPaid)
}

// notional returns the executed notional of the provided side.
func (p *Position) notional(side shared.Side) float64 {
	return p.sum(side, func(o *Order) float64 {
		return o.FilledQty() * o.ExecutedPrice()
	})
}

// WeightedAvgPriceBuy returns the volume weighted execution price of buys.
func (p *Position) WeightedAvgPriceBuy() float64 {
	volume := p.VolumeBuy()
	if volume == 0 {
		return 0
	}

	return p.notional(shared.Buy) / volume
}

// WeightedAvgPriceSell returns the volume weighted execution price of sells.
func (p *Position) WeightedAvgPriceSell() float64 {
	volume := p.VolumeSell()
	if volume == 0 {
		return 0
	}

	return p.notional(shared.Sell) / volume
}

// RawWeightedAvgPriceBuy returns the buy price paid per unit including commission.
func (p *Position) RawWeightedAvgPriceBuy() float64 {
	volume := p.VolumeBuy()
	if volume == 0 {
		return 0
	}

	return (p.notional(shared.Buy) + p.CommissionBuy()) / volume
}

// RawWeightedAvgPriceSell returns the sell price received per unit net of commission.
func (p *Position) RawWeightedAvgPriceSell() float64 {
	volume := p.VolumeSell()
	if volume == 0 {
		return 0
	}

	return (p.notional(shared.Sell) - p.CommissionSell()) / volume
}

// CalculatePnL computes and stores the profit of the position net of commissions.
func (p *Position) CalculatePnL() float64 {
	pnl := (p.WeightedAvgPriceSell()-p.WeightedAvgPriceBuy())*p.VolumeBuy() -
		p.CommissionBuy() - p.CommissionSell()
	p.PnL = &pnl

	return pnl
}

// NewOrders returns the orders still resting.
func (p *Position) NewOrders() []*Order {
	orders := []*Order{}
	for _, order := range p.Orders {
		if order.Status == shared.New {
			orders = append(orders, order)
		}
	}

	return orders
}

// CancelNewOrders cancels every resting order, returning the number cancelled.
func (p *Position) CancelNewOrders(date int64) int {
	var cancelled int
	for _, order := range p.NewOrders() {
		if order.Cancel(date) == nil {
			cancelled++
		}
	}

	return cancelled
}

// IsFlat checks whether the position has been bought into and fully sold out of.
func (p *Position) IsFlat() bool {
	buy := p.VolumeBuy()
	if buy == 0 {
		return false
	}

	return math.Abs(buy-p.VolumeSell()) <= volumeEpsilon*math.Max(buy, 1)
}
