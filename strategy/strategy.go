package strategy

import (
	"github.com/dnldd/backtester/position"
	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
)

// Strategy defines the requirements for a strategy driven kline by kline over a shared timeline.
type Strategy interface {
	// Symbol returns the symbol traded by the strategy.
	Symbol() string
	// SetKlines replaces the klines the strategy steps through.
	SetKlines(klines []shared.Kline)
	// RunKline processes the next kline if it is dated at the provided timestamp.
	RunKline(ts int64)
	// CloseAllPositions force closes every open position at the provided price.
	CloseAllPositions(ts int64, price float64)
	// LastKline returns the last kline processed.
	LastKline() (shared.Kline, bool)
	// ClosedPositions returns the closed positions.
	ClosedPositions() []*position.Position
	// Budget returns the quote currency available.
	Budget() float64
	// Qty returns the base currency held.
	Qty() float64
	// Deposit returns the starting budget.
	Deposit() float64
}

// Config represents the configuration shared by all strategies.
type Config struct {
	// Symbol is the symbol traded.
	Symbol string
	// Deposit is the starting budget.
	Deposit float64
	// Commission is the commission charged per fill, in percent.
	Commission float64
	// Notify sends the provided message.
	Notify func(message string)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// base implements the kline cursor and budget accounting common to strategies.
type base struct {
	cfg       *Config
	klines    []shared.Kline
	cursor    int
	last      shared.Kline
	hasLast   bool
	budget    float64
	qty       float64
	positions *position.Manager
}

// newBase initializes the common strategy state.
func newBase(cfg *Config) base {
	return base{
		cfg:    cfg,
		budget: cfg.Deposit,
		positions: position.NewManager(&position.ManagerConfig{
			Symbol:            cfg.Symbol,
			CommissionPercent: cfg.Commission,
			Notify:            cfg.Notify,
			Logger:            cfg.Logger,
		}),
	}
}

// Symbol returns the symbol traded by the strategy.
func (b *base) Symbol() string {
	return b.cfg.Symbol
}

// SetKlines replaces the klines the strategy steps through and rewinds the cursor.
func (b *base) SetKlines(klines []shared.Kline) {
	b.klines = klines
	b.cursor = 0
}

// LastKline returns the last kline processed.
func (b *base) LastKline() (shared.Kline, bool) {
	return b.last, b.hasLast
}

// ClosedPositions returns the closed positions.
func (b *base) ClosedPositions() []*position.Position {
	return b.positions.Closed()
}

// Budget returns the quote currency available.
func (b *base) Budget() float64 {
	return b.budget
}

// Qty returns the base currency held.
func (b *base) Qty() float64 {
	return b.qty
}

// Deposit returns the starting budget.
func (b *base) Deposit() float64 {
	return b.cfg.Deposit
}

// next returns the kline at the cursor and advances the cursor if the kline is dated at the
// provided timestamp.
func (b *base) next(ts int64) (shared.Kline, bool) {
	if b.cursor >= len(b.klines) || b.klines[b.cursor].Date != ts {
		return shared.Kline{}, false
	}

	kline := b.klines[b.cursor]
	b.cursor++
	b.last = kline
	b.hasLast = true

	return kline, true
}

// settle applies the provided filled order to the budget and held quantity.
func (b *base) settle(order *position.Order) {
	notional := order.FilledQty() * order.ExecutedPrice()
	switch order.Side {
	case shared.Buy:
		b.budget -= notional + order.CommissionPaid()
		b.qty += order.FilledQty()
	case shared.Sell:
		b.budget += notional - order.CommissionPaid()
		b.qty -= order.FilledQty()
	}
}

// checkOrders fills triggered resting orders and retires the positions they flatten.
func (b *base) checkOrders(kline shared.Kline) {
	for _, order := range b.positions.CheckTakeProfitStopLoss(kline) {
		b.settle(order)
	}

	b.positions.RemoveClosedPositions(kline.Date)
}

// affordable checks whether the budget covers spending size at the provided price. The order's
// commission is included, so a budget of exactly size is not enough.
func (b *base) affordable(price float64, size float64) bool {
	commission := shared.Commission(price, size/price, b.cfg.Commission)
	if b.budget < size+commission {
		b.cfg.Logger.Debug().Msgf("%s: insufficient budget %f for order of %f", b.cfg.Symbol,
			b.budget, size+commission)
		return false
	}

	return true
}

// buy fills a market buy spending size at the provided price onto the provided position.
func (b *base) buy(pos *position.Position, date int64, levelPrice float64, price float64, size float64) *position.Order {
	order := position.NewOrder(date, shared.Market, shared.Buy, levelPrice, size/price)
	// A new order always fills.
	_ = order.Fill(date, price, b.cfg.Commission)
	pos.AddOrder(order)
	b.settle(order)

	return order
}

// CloseAllPositions force closes every open position at the provided price.
func (b *base) CloseAllPositions(ts int64, price float64) {
	_, fills := b.positions.CloseAll(ts, price)
	for _, order := range fills {
		b.settle(order)
	}
}
