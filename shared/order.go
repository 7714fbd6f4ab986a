package shared

// Side represents the side of an order or a grid level.
type Side int

const (
	Buy Side = iota
	Sell
)

// String stringifies the provided side.
func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType represents the execution type of an order.
type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopMarket
	TakeProfit
	TakeProfitMarket
	TrailingStopMarket
)

// String stringifies the provided order type.
func (t OrderType) String() string {
	switch t {
	case Market:
		return "market"
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	case StopMarket:
		return "stop market"
	case TakeProfit:
		return "take profit"
	case TakeProfitMarket:
		return "take profit market"
	case TrailingStopMarket:
		return "trailing stop market"
	default:
		return "unknown"
	}
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus int

const (
	New OrderStatus = iota
	Filled
	Cancelled
	Expired
)

// String stringifies the provided order status.
func (s OrderStatus) String() string {
	switch s {
	case New:
		return "new"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal checks whether no further transitions are possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s != New
}

// Commission returns the commission for the provided fill given a commission in percent.
func Commission(price float64, qty float64, percent float64) float64 {
	return price * qty * percent / 100
}
