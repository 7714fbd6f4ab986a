package position

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
)

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Symbol is the symbol positions are opened on.
	Symbol string
	// CommissionPercent is the commission charged on every fill, in percent.
	CommissionPercent float64
	// Notify sends the provided message.
	Notify func(message string)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Manager manages positions of a single strategy through their lifecycles.
type Manager struct {
	cfg    *ManagerConfig
	opened []*Position
	closed []*Position
}

// NewManager initializes a new position manager.
func NewManager(cfg *ManagerConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		opened: []*Position{},
		closed: []*Position{},
	}
}

// notify relays the provided message if a notifier is configured.
func (m *Manager) notify(format string, args ...any) {
	if m.cfg.Notify == nil {
		return
	}

	m.cfg.Notify(fmt.Sprintf(format, args...))
}

// Open opens a new position.
func (m *Manager) Open() *Position {
	pos := NewPosition(m.cfg.Symbol)
	m.opened = append(m.opened, pos)

	m.notify("Opened position (%s) for %s", pos.ID, pos.Symbol)
	return pos
}

// Current returns the most recently opened position that is still open.
func (m *Manager) Current() (*Position, bool) {
	if len(m.opened) == 0 {
		return nil, false
	}

	return m.opened[len(m.opened)-1], true
}

// Opened returns the open positions.
func (m *Manager) Opened() []*Position {
	return m.opened
}

// Closed returns the closed positions.
func (m *Manager) Closed() []*Position {
	return m.closed
}

// triggered checks whether the provided resting order is triggered at the provided price.
func triggered(order *Order, price float64) bool {
	switch {
	case order.Type == shared.TakeProfitMarket && order.Side == shared.Sell:
		return price >= order.Price
	case order.Type == shared.TakeProfitMarket && order.Side == shared.Buy:
		return price <= order.Price
	case order.Type == shared.StopMarket && order.Side == shared.Sell:
		return price <= order.Price
	case order.Type == shared.StopMarket && order.Side == shared.Buy:
		return price >= order.Price
	default:
		return false
	}
}

// cancelGroup cancels the resting siblings of the provided filled order.
func (m *Manager) cancelGroup(pos *Position, filled *Order, date int64) {
	if filled.GroupID == "" {
		return
	}

	for _, order := range pos.NewOrders() {
		if order.GroupID != filled.GroupID {
			continue
		}

		err := order.Cancel(date)
		if err != nil {
			m.cfg.Logger.Error().Msgf("cancelling sibling order: %v", err)
		}
	}
}

// CheckTakeProfitStopLoss fills the take profit and stop loss orders of open positions triggered
// by the provided kline's close, returning the filled orders.
func (m *Manager) CheckTakeProfitStopLoss(kline shared.Kline) []*Order {
	filled := []*Order{}
	for _, pos := range m.opened {
		for _, order := range pos.NewOrders() {
			// A sibling filled earlier in this pass may have cancelled the order.
			if order.Status != shared.New || !triggered(order, kline.Close) {
				continue
			}

			err := order.Fill(kline.Date, kline.Close, m.cfg.CommissionPercent)
			if err != nil {
				m.cfg.Logger.Error().Msgf("filling %s order: %v", order.Type, err)
				continue
			}

			m.cancelGroup(pos, order, kline.Date)
			filled = append(filled, order)

			m.notify("Filled %s %s order (%s) for %s @ %f", order.Type, order.Side, order.ID,
				pos.Symbol, kline.Close)
		}
	}

	return filled
}

// close finalizes the provided flat position.
func (m *Manager) close(pos *Position, date int64) {
	pos.CancelNewOrders(date)
	pos.Status = Closed
	pnl := pos.CalculatePnL()
	m.closed = append(m.closed, pos)

	m.notify("Closed position (%s) for %s with pnl %f", pos.ID, pos.Symbol, pnl)
}

// RemoveClosedPositions moves flat positions to the closed set, returning the newly closed
// positions.
func (m *Manager) RemoveClosedPositions(date int64) []*Position {
	delta := []*Position{}
	opened := m.opened[:0]
	for _, pos := range m.opened {
		if pos.VolumeAll() < -volumeEpsilon*max(pos.VolumeBuy(), 1) {
			m.cfg.Logger.Error().Msgf("position sold beyond its bought volume: %s", spew.Sdump(pos))
		}

		if !pos.IsFlat() {
			opened = append(opened, pos)
			continue
		}

		m.close(pos, date)
		delta = append(delta, pos)
	}

	clear(m.opened[len(opened):])
	m.opened = opened

	return delta
}

// CloseAll cancels every resting order and sells the remaining volume of every open position at
// the provided price. It returns the newly closed positions and the sell orders filled.
func (m *Manager) CloseAll(date int64, price float64) ([]*Position, []*Order) {
	closed := []*Position{}
	fills := []*Order{}
	for _, pos := range m.opened {
		pos.CancelNewOrders(date)

		if pos.VolumeBuy() == 0 {
			m.cfg.Logger.Debug().Msgf("discarding position %s without fills", pos.ID)
			continue
		}

		remaining := pos.VolumeAll()
		if remaining > 0 && !pos.IsFlat() {
			order := NewMarketOrder(date, shared.Sell, price, remaining, m.cfg.CommissionPercent)
			pos.AddOrder(order)
			fills = append(fills, order)
		}

		m.close(pos, date)
		closed = append(closed, pos)
	}

	m.opened = []*Position{}

	return closed, fills
}
